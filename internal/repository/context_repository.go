// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sitechat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 上下文记录的保留时长，与对话的活跃周期对齐。
const contextRecordTTL = 7 * 24 * time.Hour

// ContextRepository 定义了对话上下文记录（最近抓取的 URL + 正文）的存取操作。
// 整条记录以单个 JSON 值存储：替换是原子的，读取永远不会看到半写状态。
type ContextRepository interface {
	// Get 返回对话的上下文记录，不存在时返回 nil。
	Get(ctx context.Context, conversationID string) (*model.ContextRecord, error)
	// Replace 整体替换对话的上下文记录（last-writer-wins）。
	Replace(ctx context.Context, record *model.ContextRecord) error
}

// redisContextRepository 是 ContextRepository 接口的 Redis 实现。
type redisContextRepository struct {
	redisClient *redis.Client
}

// NewContextRepository 创建一个新的 ContextRepository 实例。
func NewContextRepository(redisClient *redis.Client) ContextRepository {
	return &redisContextRepository{redisClient: redisClient}
}

func contextKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:context", conversationID)
}

// Get 从 Redis 读取对话的上下文记录。
func (r *redisContextRepository) Get(ctx context.Context, conversationID string) (*model.ContextRecord, error) {
	jsonData, err := r.redisClient.Get(ctx, contextKey(conversationID)).Result()
	if err == redis.Nil {
		return nil, nil // 尚无记录
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context record: %w", err)
	}
	var record model.ContextRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context record: %w", err)
	}
	return &record, nil
}

// Replace 以单次 SET 覆盖整条上下文记录。
func (r *redisContextRepository) Replace(ctx context.Context, record *model.ContextRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal context record: %w", err)
	}
	if err := r.redisClient.Set(ctx, contextKey(record.ConversationID), jsonData, contextRecordTTL).Err(); err != nil {
		return fmt.Errorf("failed to set context record: %w", err)
	}
	return nil
}
