// Package model 包含了应用的数据模型定义。
package model

import "time"

// Role 标识一条消息的发言方，只允许 user 和 assistant 两种取值。
type Role string

const (
	// RoleUser 表示用户发出的消息。
	RoleUser Role = "user"
	// RoleAssistant 表示模型生成的回复。
	RoleAssistant Role = "assistant"
)

// Valid 校验 Role 是否为合法取值。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation 对应于数据库中的 'conversations' 表，代表一个归属于单个用户的对话线程。
// 所有者在创建后不可变更；UpdatedAt 记录最近一次活动时间。
type Conversation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// Message 对应于数据库中的 'messages' 表，代表对话中的一条发言。
// Seq 在同一对话内单调递增且无空洞，由仓储层在追加时分配。
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_conversation_seq" json:"conversationId"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_conversation_seq" json:"seq"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:longtext;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}
