// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
)

// SourceDecision 表示一轮对话的外部内容来源决策。
type SourceDecision int

const (
	// SourceNone 表示本轮没有可用的外部内容。
	SourceNone SourceDecision = iota
	// SourceReuse 表示复用缓存中上次抓取的内容。
	SourceReuse
	// SourceRefresh 表示需要重新抓取用户提供的 URL。
	SourceRefresh
)

// ContextDecision 是 Decide 的结果：决策类型加上随类型而定的载荷。
type ContextDecision struct {
	Kind    SourceDecision
	URL     string // Refresh 时为待抓取地址，Reuse 时为缓存中的来源地址
	Content string // 仅 Reuse 时有值
}

// ContextCache 管理每个对话的上下文记录，并做复用/刷新决策。
// 决策与提交分离：抓取这类慢调用发生在两者之间，不持有任何存储锁。
type ContextCache interface {
	// Decide 根据本轮提供的 URL 与缓存状态给出来源决策。
	// 提供了 URL 总是返回 Refresh，新地址从不被静默忽略。
	Decide(ctx context.Context, conversationID, suppliedURL string) (ContextDecision, error)
	// Commit 原子地整体替换对话的上下文记录，仅在抓取成功后调用。
	Commit(ctx context.Context, conversationID, url, content string) error
}

// contextCache 是 ContextCache 接口的实现。
type contextCache struct {
	contextRepo repository.ContextRepository
}

// NewContextCache 创建一个新的 ContextCache 实例。
func NewContextCache(contextRepo repository.ContextRepository) ContextCache {
	return &contextCache{contextRepo: contextRepo}
}

// Decide 给出本轮的内容来源决策。
func (c *contextCache) Decide(ctx context.Context, conversationID, suppliedURL string) (ContextDecision, error) {
	// 新提供的 URL 总是强制刷新，即使与缓存中地址相同
	if suppliedURL != "" {
		return ContextDecision{Kind: SourceRefresh, URL: suppliedURL}, nil
	}

	record, err := c.contextRepo.Get(ctx, conversationID)
	if err != nil {
		return ContextDecision{}, fmt.Errorf("failed to read context record: %w", err)
	}
	if record == nil || record.Content == "" {
		return ContextDecision{Kind: SourceNone}, nil
	}
	return ContextDecision{
		Kind:    SourceReuse,
		URL:     record.SourceURL,
		Content: record.Content,
	}, nil
}

// Commit 整体替换上下文记录，URL 与正文总是成对写入。
func (c *contextCache) Commit(ctx context.Context, conversationID, url, content string) error {
	return c.contextRepo.Replace(ctx, &model.ContextRecord{
		ConversationID: conversationID,
		SourceURL:      url,
		Content:        content,
		UpdatedAt:      time.Now(),
	})
}
