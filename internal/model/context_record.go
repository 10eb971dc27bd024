// Package model 包含了应用的数据模型定义。
package model

import "time"

// ContextRecord 代表存储在 Redis 中的单条上下文记录：某个对话最近一次
// 成功抓取的网页地址与正文。URL 和 Content 总是成对写入，整条记录以
// JSON 形式一次性替换，不存在部分更新。
type ContextRecord struct {
	ConversationID string    `json:"conversationId"`
	SourceURL      string    `json:"sourceUrl"`
	Content        string    `json:"content"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
