// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"sitechat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository 定义了对话消息（转录）的持久化操作。
// 消息在同一对话内按 Seq 全序排列，追加操作必须保证 Seq 单调且无空洞。
type MessageRepository interface {
	// Append 在一个以对话为粒度的事务内追加若干条消息，依次分配连续的序号。
	Append(ctx context.Context, conversationID string, turns []model.Message) ([]model.Message, error)
	// ListByConversation 按序号升序返回对话的全部消息。
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	// FindFirst 返回对话中的第一条消息，不存在时返回 nil。
	FindFirst(ctx context.Context, conversationID string) (*model.Message, error)
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Append 在单个事务中完成：锁定对话行、计算下一个序号、依次插入消息。
// 对同一对话的并发追加由行锁串行化，不同对话之间互不阻塞。
func (r *messageRepository) Append(ctx context.Context, conversationID string, turns []model.Message) ([]model.Message, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	for _, t := range turns {
		if !t.Role.Valid() {
			return nil, fmt.Errorf("invalid message role: %q", t.Role)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 对话行作为序号分配的锁对象
		var conversation model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversationID).
			First(&conversation).Error; err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}

		var maxSeq int64
		if err := tx.Model(&model.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read max seq: %w", err)
		}

		for i := range turns {
			turns[i].ID = 0
			turns[i].ConversationID = conversationID
			turns[i].Seq = int(maxSeq) + i + 1
		}
		if err := tx.Create(&turns).Error; err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// ListByConversation 按序号升序返回对话的全部消息。
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// FindFirst 返回对话中的第一条消息，对话为空时返回 nil。
func (r *messageRepository) FindFirst(ctx context.Context, conversationID string) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}
