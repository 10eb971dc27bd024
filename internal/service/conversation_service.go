// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 历史列表中预览文案的最大长度。
const previewMaxLen = 50

// ConversationSummary 是历史列表中单个对话的摘要。
type ConversationSummary struct {
	ConversationID string    `json:"chatId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Preview        string    `json:"preview"`
}

// ConversationService 定义了对话注册与读取的业务接口。
// 每一次按 ID 的访问都强制做归属校验，对话不能仅凭 ID 跨用户寻址。
type ConversationService interface {
	// Resolve 解析对话引用：引用为空时创建新对话，否则查找并校验归属。
	Resolve(ctx context.Context, user *model.User, conversationID string) (*model.Conversation, error)
	// Create 为用户显式创建一个新对话。
	Create(ctx context.Context, user *model.User) (*model.Conversation, error)
	// Touch 更新对话的最近活动时间，失败只记录日志，不中断本轮请求。
	Touch(ctx context.Context, conversationID string)
	// ListForUser 按最近活动时间倒序返回用户的对话摘要。
	ListForUser(ctx context.Context, user *model.User) ([]ConversationSummary, error)
	// GetMessages 返回对话的全部有序消息，归属校验与 Resolve 一致。
	GetMessages(ctx context.Context, user *model.User, conversationID string) ([]model.Message, error)
}

// conversationService 是 ConversationService 接口的实现。
type conversationService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(conversationRepo repository.ConversationRepository, messageRepo repository.MessageRepository) ConversationService {
	return &conversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
	}
}

// Resolve 解析对话引用。归属不匹配与不存在返回不同的错误，
// handler 层据此区分 403 与 404。
func (s *conversationService) Resolve(ctx context.Context, user *model.User, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return s.Create(ctx, user)
	}

	conversation, err := s.conversationRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if conversation.UserID != user.ID {
		return nil, fmt.Errorf("%w: conversation %s", ErrForbidden, conversationID)
	}
	return conversation, nil
}

// Create 为用户创建一个新对话，ID 使用全局唯一的 UUID。
func (s *conversationService) Create(ctx context.Context, user *model.User) (*model.Conversation, error) {
	conversation := &model.Conversation{
		ID:     uuid.NewString(),
		UserID: user.ID,
	}
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("%w: failed to create conversation: %v", ErrInternal, err)
	}
	return conversation, nil
}

// Touch 尽力而为地更新最近活动时间。
func (s *conversationService) Touch(ctx context.Context, conversationID string) {
	if err := s.conversationRepo.Touch(ctx, conversationID); err != nil {
		log.Warnf("[ConversationService] 更新对话活动时间失败, id: %s, error: %v", conversationID, err)
	}
}

// ListForUser 返回用户的对话摘要列表，预览取自每个对话的第一条消息。
func (s *conversationService) ListForUser(ctx context.Context, user *model.User) ([]ConversationSummary, error) {
	conversations, err := s.conversationRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", ErrInternal, err)
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		preview := "New Chat"
		first, err := s.messageRepo.FindFirst(ctx, conversation.ID)
		if err != nil {
			log.Warnf("[ConversationService] 读取对话首条消息失败, id: %s, error: %v", conversation.ID, err)
		} else if first != nil {
			preview = truncatePreview(first.Content)
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID: conversation.ID,
			CreatedAt:      conversation.CreatedAt,
			UpdatedAt:      conversation.UpdatedAt,
			Preview:        preview,
		})
	}
	return summaries, nil
}

// GetMessages 返回对话的全部有序消息。
func (s *conversationService) GetMessages(ctx context.Context, user *model.User, conversationID string) ([]model.Message, error) {
	if _, err := s.Resolve(ctx, user, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list messages: %v", ErrInternal, err)
	}
	return messages, nil
}

// truncatePreview 截断预览文案，按 rune 计数避免截断多字节字符。
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxLen {
		return content
	}
	return string(runes[:previewMaxLen]) + "..."
}
