// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"sitechat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了对话线程的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	FindByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error)
	Touch(ctx context.Context, conversationID string) error
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 在数据库中创建一个新的对话记录。
func (r *conversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

// FindByID 根据对话 ID 查找对话。
func (r *conversationRepository) FindByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// ListByUser 按最近活动时间倒序返回某个用户的全部对话。
func (r *conversationRepository) ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// Touch 更新对话的最近活动时间。
func (r *conversationRepository) Touch(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
}
