// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理对话消息的 REST 与 WebSocket 入口。
type ChatHandler struct {
	chatService         service.ChatService
	conversationService service.ConversationService
	userService         service.UserService
	jwtManager          *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(
	chatService service.ChatService,
	conversationService service.ConversationService,
	userService service.UserService,
	jwtManager *token.JWTManager,
) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
		userService:         userService,
		jwtManager:          jwtManager,
	}
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	ConversationID string `json:"chatId"`
	URL            string `json:"url"`
	Prompt         string `json:"prompt" binding:"required"`
}

// SendMessage 处理一轮问答请求。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SendMessage: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：prompt 不能为空",
		})
		return
	}

	// URL 的语法校验在进入编排器之前完成
	if req.URL != "" && !isValidHTTPURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的 URL 格式",
		})
		return
	}

	user := c.MustGet("user").(*model.User)
	result, err := h.chatService.SubmitTurn(c.Request.Context(), user, service.TurnRequest{
		ConversationID: req.ConversationID,
		SourceURL:      req.URL,
		Prompt:         req.Prompt,
	})
	if err != nil {
		log.Warnf("SendMessage: Turn failed for user %d, error: %v", user.ID, err)
		c.JSON(statusForError(err), gin.H{
			"code":    statusForError(err),
			"message": messageForError(err),
			"data":    nil,
		})
		return
	}

	data := gin.H{
		"chatId":   result.ConversationID,
		"response": result.Response,
	}
	// 抓取降级仍返回成功，但附带失败说明，由前端决定如何提示
	if result.ExtractionErr != nil {
		data["extractionError"] = result.ExtractionErr.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

// NewChat 显式创建一个新对话。
func (h *ChatHandler) NewChat(c *gin.Context) {
	user := c.MustGet("user").(*model.User)

	conversation, err := h.conversationService.Create(c.Request.Context(), user)
	if err != nil {
		log.Errorf("NewChat: Failed for user %d, error: %v", user.ID, err)
		c.JSON(statusForError(err), gin.H{
			"code":    statusForError(err),
			"message": messageForError(err),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    http.StatusCreated,
		"message": "success",
		"data":    gin.H{"chatId": conversation.ID},
	})
}

// wsTokenTTL 是 WebSocket 握手 token 的有效期，只需覆盖建立连接的窗口。
const wsTokenTTL = 5 * time.Minute

// GetWebsocketToken 为 WebSocket 连接签发短期 token。
// WebSocket 握手无法携带 Authorization 头，改由 URL 路径传递。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	user := c.MustGet("user").(*model.User)

	wsToken, err := h.jwtManager.GenerateTokenWithTTL(user.ID, user.Email, wsTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "无法生成 WebSocket token",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"wsToken": wsToken}})
}

// wsTurnRequest 是 WebSocket 通道上的单轮请求。字段与 REST 入口一致。
type wsTurnRequest struct {
	ConversationID string `json:"chatId"`
	URL            string `json:"url"`
	Prompt         string `json:"prompt"`
}

// HandleWebsocket 处理一个传入的 WebSocket 连接。
// 每条客户端消息对应一轮完整的问答，回复后附带 completion 通知。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	// 获取用户模型
	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsTurnRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeWSError(conn, "无效的消息格式")
			continue
		}
		if req.URL != "" && !isValidHTTPURL(req.URL) {
			writeWSError(conn, "无效的 URL 格式")
			continue
		}

		// 回复以增量分块直接写入连接，落库由服务层在流结束后一次完成
		result, err := h.chatService.SubmitTurnStream(c.Request.Context(), user, service.TurnRequest{
			ConversationID: req.ConversationID,
			SourceURL:      req.URL,
			Prompt:         req.Prompt,
		}, func(delta string) error {
			return conn.WriteMessage(websocket.TextMessage, []byte(delta))
		})
		if err != nil {
			log.Warnf("WebSocket 对话处理失败: %v", err)
			writeWSError(conn, messageForError(err))
			sendCompletion(conn, nil)
			continue
		}

		extra := map[string]interface{}{"chatId": result.ConversationID}
		if result.ExtractionErr != nil {
			extra["extractionError"] = result.ExtractionErr.Error()
		}
		sendCompletion(conn, extra)
	}
}

// writeWSError 以统一 JSON 下发错误信息。
func writeWSError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON，extra 中的字段并入通知体。
func sendCompletion(conn *websocket.Conn, extra map[string]interface{}) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	for k, v := range extra {
		notif[k] = v
	}
	b, _ := json.Marshal(notif)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// isValidHTTPURL 校验字符串是否为绝对的 http/https 地址。
func isValidHTTPURL(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
