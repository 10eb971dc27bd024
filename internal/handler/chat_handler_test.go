package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.Init("error", "json", "")
	os.Exit(m.Run())
}

// stubChatService 返回预设结果或错误，流式路径按 chunks 分块交付。
type stubChatService struct {
	result  *service.TurnResult
	chunks  []string
	err     error
	lastReq service.TurnRequest
}

func (s *stubChatService) SubmitTurn(ctx context.Context, user *model.User, req service.TurnRequest) (*service.TurnResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// SubmitTurnStream 把预设回复按固定分块交付。
func (s *stubChatService) SubmitTurnStream(ctx context.Context, user *model.User, req service.TurnRequest, onDelta func(string) error) (*service.TurnResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	for _, chunk := range s.chunks {
		if err := onDelta(chunk); err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

// stubConversationService 只实现测试用到的方法。
type stubConversationService struct {
	created  *model.Conversation
	messages []model.Message
	err      error
}

func (s *stubConversationService) Resolve(ctx context.Context, user *model.User, conversationID string) (*model.Conversation, error) {
	return nil, s.err
}

func (s *stubConversationService) Create(ctx context.Context, user *model.User) (*model.Conversation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.created, nil
}

func (s *stubConversationService) Touch(ctx context.Context, conversationID string) {}

func (s *stubConversationService) ListForUser(ctx context.Context, user *model.User) ([]service.ConversationSummary, error) {
	return nil, s.err
}

func (s *stubConversationService) GetMessages(ctx context.Context, user *model.User, conversationID string) ([]model.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.messages, nil
}

// stubUserService 只实现 WebSocket 测试用到的方法。
type stubUserService struct {
	user *model.User
}

func (s *stubUserService) Register(email, username, password string) (*model.User, error) {
	return nil, nil
}

func (s *stubUserService) Login(email, password string) (string, string, error) {
	return "", "", nil
}

func (s *stubUserService) GetByID(userID uint) (*model.User, error) {
	return s.user, nil
}

func (s *stubUserService) Logout(tokenString string) error { return nil }

func (s *stubUserService) IsTokenBlacklisted(tokenString string) bool { return false }

func (s *stubUserService) RefreshToken(refreshTokenString string) (string, string, error) {
	return "", "", nil
}

// injectUser 模拟认证中间件，将用户注入请求上下文。
func injectUser(user *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	}
}

func newChatRouter(chat *stubChatService, conv *stubConversationService) *gin.Engine {
	handler := NewChatHandler(chat, conv, nil, nil)
	router := gin.New()
	router.Use(injectUser(&model.User{ID: 1, Email: "u@example.com"}))
	router.POST("/chat/message", handler.SendMessage)
	router.POST("/chat/new", handler.NewChat)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessageSuccess(t *testing.T) {
	chat := &stubChatService{result: &service.TurnResult{
		ConversationID: "conv-1",
		Response:       "the answer",
	}}
	router := newChatRouter(chat, &stubConversationService{})

	w := postJSON(router, "/chat/message", gin.H{
		"chatId": "conv-1",
		"url":    "https://example.com",
		"prompt": "summarize",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			ChatID          string `json:"chatId"`
			Response        string `json:"response"`
			ExtractionError string `json:"extractionError"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.ChatID != "conv-1" || resp.Data.Response != "the answer" {
		t.Errorf("data = %+v", resp.Data)
	}
	if resp.Data.ExtractionError != "" {
		t.Errorf("unexpected extraction error field: %q", resp.Data.ExtractionError)
	}
	if chat.lastReq.SourceURL != "https://example.com" || chat.lastReq.Prompt != "summarize" {
		t.Errorf("request not forwarded: %+v", chat.lastReq)
	}
}

func TestSendMessageSurfacesExtractionError(t *testing.T) {
	chat := &stubChatService{result: &service.TurnResult{
		ConversationID: "conv-1",
		Response:       "degraded answer",
		ExtractionErr:  fmt.Errorf("target site unreachable"),
	}}
	router := newChatRouter(chat, &stubConversationService{})

	w := postJSON(router, "/chat/message", gin.H{"prompt": "hi", "url": "https://down.example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("degraded turn must still return 200, got %d", w.Code)
	}
	var resp struct {
		Data struct {
			ExtractionError string `json:"extractionError"`
		} `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.ExtractionError == "" {
		t.Error("extraction error not surfaced to the client")
	}
}

func TestSendMessageValidation(t *testing.T) {
	router := newChatRouter(&stubChatService{}, &stubConversationService{})

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing prompt", gin.H{"url": "https://example.com"}},
		{"malformed url", gin.H{"prompt": "hi", "url": "notaurl"}},
		{"unsupported scheme", gin.H{"prompt": "hi", "url": "ftp://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/chat/message", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSendMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"completion unavailable", service.ErrCompletionUnavailable, http.StatusBadGateway},
		{"internal", service.ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newChatRouter(&stubChatService{err: tt.err}, &stubConversationService{})
			w := postJSON(router, "/chat/message", gin.H{"prompt": "hi"})
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewChat(t *testing.T) {
	conv := &stubConversationService{created: &model.Conversation{ID: "fresh-id", UserID: 1}}
	router := newChatRouter(&stubChatService{}, conv)

	w := postJSON(router, "/chat/new", gin.H{})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp struct {
		Data struct {
			ChatID string `json:"chatId"`
		} `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.ChatID != "fresh-id" {
		t.Errorf("chatId = %q", resp.Data.ChatID)
	}
}

func newWebsocketTestServer(t *testing.T, chat *stubChatService, jwtManager *token.JWTManager, user *model.User) *httptest.Server {
	t.Helper()
	handler := NewChatHandler(chat, &stubConversationService{}, &stubUserService{user: user}, jwtManager)
	router := gin.New()
	router.GET("/ws/chat/:token", handler.HandleWebsocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialWebsocket(t *testing.T, srv *httptest.Server, tokenString string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + tokenString
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleWebsocketStreamsTurn(t *testing.T) {
	jwtManager := token.NewJWTManager("ws-secret", 1, 7)
	user := &model.User{ID: 1, Email: "u@example.com"}
	chat := &stubChatService{
		chunks: []string{"Hel", "lo"},
		result: &service.TurnResult{ConversationID: "conv-1", Response: "Hello"},
	}
	srv := newWebsocketTestServer(t, chat, jwtManager, user)

	wsToken, err := jwtManager.GenerateTokenWithTTL(user.ID, user.Email, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	conn := dialWebsocket(t, srv, wsToken)

	if err := conn.WriteJSON(gin.H{"chatId": "conv-1", "prompt": "say hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// 回复分块逐帧到达，随后是 completion 通知
	var frames []string
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		frames = append(frames, string(frame))
	}
	if frames[0] != "Hel" || frames[1] != "lo" {
		t.Errorf("streamed frames = %v", frames[:2])
	}
	var notif struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal([]byte(frames[2]), &notif); err != nil {
		t.Fatalf("completion frame not JSON: %q", frames[2])
	}
	if notif.Type != "completion" || notif.Status != "finished" || notif.ChatID != "conv-1" {
		t.Errorf("completion frame = %+v", notif)
	}
	if chat.lastReq.Prompt != "say hello" || chat.lastReq.ConversationID != "conv-1" {
		t.Errorf("request not forwarded: %+v", chat.lastReq)
	}
}

func TestHandleWebsocketTurnFailureSendsErrorAndCompletion(t *testing.T) {
	jwtManager := token.NewJWTManager("ws-secret", 1, 7)
	user := &model.User{ID: 1, Email: "u@example.com"}
	srv := newWebsocketTestServer(t, &stubChatService{err: service.ErrCompletionUnavailable}, jwtManager, user)

	wsToken, _ := jwtManager.GenerateTokenWithTTL(user.ID, user.Email, time.Minute)
	conn := dialWebsocket(t, srv, wsToken)

	if err := conn.WriteJSON(gin.H{"prompt": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, errFrame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	var errPayload struct {
		Error string `json:"error"`
	}
	if jsonErr := json.Unmarshal(errFrame, &errPayload); jsonErr != nil || errPayload.Error == "" {
		t.Fatalf("expected an error frame, got %q", errFrame)
	}

	_, notifFrame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read completion frame: %v", err)
	}
	var notif struct {
		Type string `json:"type"`
	}
	if jsonErr := json.Unmarshal(notifFrame, &notif); jsonErr != nil || notif.Type != "completion" {
		t.Fatalf("expected a completion notification, got %q", notifFrame)
	}
}

func TestHandleWebsocketRejectsBadToken(t *testing.T) {
	jwtManager := token.NewJWTManager("ws-secret", 1, 7)
	srv := newWebsocketTestServer(t, &stubChatService{}, jwtManager, &model.User{ID: 1})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/garbage-token"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected the handshake to be rejected for an invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestGetConversationOwnershipMapping(t *testing.T) {
	conv := &stubConversationService{err: service.ErrForbidden}
	handler := NewConversationHandler(conv)
	router := gin.New()
	router.Use(injectUser(&model.User{ID: 1}))
	router.GET("/chat/:conversationId", handler.GetConversation)

	req := httptest.NewRequest(http.MethodGet, "/chat/conv-foreign", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGetConversationReturnsOrderedMessages(t *testing.T) {
	conv := &stubConversationService{messages: []model.Message{
		{ConversationID: "conv-1", Seq: 1, Role: model.RoleUser, Content: "q"},
		{ConversationID: "conv-1", Seq: 2, Role: model.RoleAssistant, Content: "a"},
	}}
	handler := NewConversationHandler(conv)
	router := gin.New()
	router.Use(injectUser(&model.User{ID: 1}))
	router.GET("/chat/:conversationId", handler.GetConversation)

	req := httptest.NewRequest(http.MethodGet, "/chat/conv-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			ChatID   string          `json:"chatId"`
			Messages []model.Message `json:"messages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.ChatID != "conv-1" || len(resp.Data.Messages) != 2 {
		t.Errorf("data = %+v", resp.Data)
	}
	if resp.Data.Messages[0].Seq != 1 || resp.Data.Messages[1].Seq != 2 {
		t.Error("messages not in sequence order")
	}
}
