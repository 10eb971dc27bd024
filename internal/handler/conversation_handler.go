// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"sitechat-go/internal/model"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话历史相关的 API 请求。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// GetHistory 返回当前用户的全部对话摘要，按最近活动时间倒序。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	user := c.MustGet("user").(*model.User)

	summaries, err := h.conversationService.ListForUser(c.Request.Context(), user)
	if err != nil {
		log.Errorf("GetHistory: Failed for user %d, error: %v", user.ID, err)
		c.JSON(statusForError(err), gin.H{
			"code":    statusForError(err),
			"message": messageForError(err),
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"chats": summaries},
	})
}

// GetConversation 返回单个对话的全部有序消息，归属校验失败时不返回任何数据。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	user := c.MustGet("user").(*model.User)
	conversationID := c.Param("conversationId")

	messages, err := h.conversationService.GetMessages(c.Request.Context(), user, conversationID)
	if err != nil {
		log.Warnf("GetConversation: Failed for user %d, conversation %s, error: %v", user.ID, conversationID, err)
		c.JSON(statusForError(err), gin.H{
			"code":    statusForError(err),
			"message": messageForError(err),
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"chatId":   conversationID,
			"messages": messages,
		},
	})
}
