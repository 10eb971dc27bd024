// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/kafka"
	"sitechat-go/pkg/llm"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/scraper"
)

// 缺省系统提示词，可被 llm.prompt.rules 配置覆盖。
const defaultSystemPrompt = `You are a web scraping assistant. You analyze website content and extract only the information the user requests.

Your responses should be:
- Clear and human-readable (no JSON, XML, or raw data)
- Focused on the specific information requested
- Well-organized with proper formatting
- Concise but complete

If the user asks for specific data points (like prices, names, dates), present them in a clean, readable format.`

// TurnRequest 是一轮对话的输入。ConversationID 与 SourceURL 均可为空。
type TurnRequest struct {
	ConversationID string
	SourceURL      string
	Prompt         string
}

// TurnResult 是一轮对话的输出。ExtractionErr 非空表示抓取降级：
// 回复仍然生成，但基于"抓取失败"的说明而不是页面正文。
type TurnResult struct {
	ConversationID string
	Response       string
	ExtractionErr  error
}

// ChatService 是请求粒度的编排器：解析对话、决策内容来源、按需抓取、
// 组装上下文窗口、调用补全服务，并把整轮交互原子地落库。
// 除单次请求的生命周期外不持有任何状态。
type ChatService interface {
	SubmitTurn(ctx context.Context, user *model.User, req TurnRequest) (*TurnResult, error)
	// SubmitTurnStream 与 SubmitTurn 语义一致，但回复以增量分块经 onDelta 交付。
	// 落库仍以拼装后的完整回复一次完成，交付中断的回合不会留下 assistant 消息。
	SubmitTurnStream(ctx context.Context, user *model.User, req TurnRequest, onDelta func(delta string) error) (*TurnResult, error)
}

// chatService 是 ChatService 接口的实现。
type chatService struct {
	registry      ConversationService
	contextCache  ContextCache
	messageRepo   repository.MessageRepository
	scraperClient scraper.Client
	llmClient     llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	registry ConversationService,
	contextCache ContextCache,
	messageRepo repository.MessageRepository,
	scraperClient scraper.Client,
	llmClient llm.Client,
) ChatService {
	return &chatService{
		registry:      registry,
		contextCache:  contextCache,
		messageRepo:   messageRepo,
		scraperClient: scraperClient,
		llmClient:     llmClient,
	}
}

// SubmitTurn 处理一轮完整的问答。
func (s *chatService) SubmitTurn(ctx context.Context, user *model.User, req TurnRequest) (*TurnResult, error) {
	return s.submitTurn(ctx, user, req, nil)
}

// SubmitTurnStream 处理一轮问答并流式交付回复，供 WebSocket 通道使用。
func (s *chatService) SubmitTurnStream(ctx context.Context, user *model.User, req TurnRequest, onDelta func(delta string) error) (*TurnResult, error) {
	return s.submitTurn(ctx, user, req, onDelta)
}

// submitTurn 处理一轮完整的问答，onDelta 非空时走流式补全。
//
// 状态推进：校验 → 解析对话 → 来源决策 → [抓取] → 组装上下文 → 补全 → 落库 → 提交缓存。
// 抓取与补全都是阻塞的网络调用，执行期间不持有任何存储侧的锁；
// 所有写入都集中在补全成功之后的固定位置，取消只会发生在状态边界上。
func (s *chatService) submitTurn(ctx context.Context, user *model.User, req TurnRequest, onDelta func(delta string) error) (*TurnResult, error) {
	// 1. 输入校验：空白消息在任何状态变更前拒绝
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt 不能为空", ErrInvalidInput)
	}
	sourceURL := strings.TrimSpace(req.SourceURL)

	// 2. 解析对话引用并校验归属
	conversation, err := s.registry.Resolve(ctx, user, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// 3. 内容来源决策。缓存读取失败不值得中断整轮对话，降级为无外部内容
	decision, err := s.contextCache.Decide(ctx, conversation.ID, sourceURL)
	if err != nil {
		log.Warnf("[ChatService] 上下文决策失败，本轮按无外部内容处理, conversation: %s, error: %v", conversation.ID, err)
		decision = ContextDecision{Kind: SourceNone}
	}

	// 4. 需要刷新时执行抓取。失败不中断本轮：把失败原因并入上下文，
	//    让用户得到一条明确说明，而且不提交缓存
	var (
		pageContent   string
		extractionErr error
		freshContent  bool
	)
	switch decision.Kind {
	case SourceRefresh:
		result, err := s.scraperClient.Extract(ctx, decision.URL)
		if err != nil {
			log.Warnf("[ChatService] 抓取失败, url: %s, error: %v", decision.URL, err)
			extractionErr = err
		} else {
			pageContent = result.Content
			freshContent = true
		}
	case SourceReuse:
		pageContent = decision.Content
	}

	// 5. 组装上下文窗口：历史消息 + 当前用户消息（外部内容并入同一条 user 消息）
	history, err := s.messageRepo.ListByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load history: %v", ErrInternal, err)
	}
	messages := s.composeMessages(history, prompt, pageContent, decision.URL, extractionErr)

	// 6. 调用补全服务。流式交付失败（含客户端断开）与补全失败同样处置：
	//    不完整的回复从不落库
	var answer string
	if onDelta != nil {
		answer, err = s.llmClient.Stream(ctx, messages, onDelta)
	} else {
		answer, err = s.llmClient.Complete(ctx, messages)
	}
	if err != nil {
		// 用户消息已经发生，先把它落库再上报失败；本轮不会有 assistant 消息
		if _, persistErr := s.messageRepo.Append(ctx, conversation.ID, []model.Message{
			{Role: model.RoleUser, Content: prompt},
		}); persistErr != nil {
			log.Errorf("[ChatService] 补全失败后保存用户消息也失败, conversation: %s, error: %v", conversation.ID, persistErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}

	// 7. 原子落库：user 与 assistant 消息在同一事务内获得连续序号
	persisted, err := s.messageRepo.Append(ctx, conversation.ID, []model.Message{
		{Role: model.RoleUser, Content: prompt},
		{Role: model.RoleAssistant, Content: answer},
	})
	if err != nil {
		// 回复无处可挂，宁可丢弃也不留下悬空的 assistant 消息
		return nil, fmt.Errorf("%w: failed to persist turn: %v", ErrInternal, err)
	}

	// 8. 抓取成功的内容此时才提交缓存：失败的交互不会污染缓存
	if freshContent {
		if err := s.contextCache.Commit(ctx, conversation.ID, decision.URL, pageContent); err != nil {
			log.Warnf("[ChatService] 提交上下文缓存失败, conversation: %s, error: %v", conversation.ID, err)
		}
	}

	// 9. 活动时间与事件都是尽力而为
	s.registry.Touch(ctx, conversation.ID)
	s.publishTurnEvent(conversation.ID, user.ID, persisted, freshContent)

	return &TurnResult{
		ConversationID: conversation.ID,
		Response:       answer,
		ExtractionErr:  extractionErr,
	}, nil
}

// composeMessages 组装发给补全服务的消息序列：system 提示 + 历史 + 当前用户消息。
// 外部内容（或抓取失败说明）并入当前 user 消息，放在用户指令之前并明确分隔，
// 从不作为独立角色出现。
func (s *chatService) composeMessages(history []model.Message, prompt, pageContent, sourceURL string, extractionErr error) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: s.systemPrompt()})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	userMessage := prompt
	switch {
	case extractionErr != nil:
		userMessage = fmt.Sprintf("Website Content:\n\n(extraction failed for %s: %v)\n\nUser Request: %s", sourceURL, extractionErr, prompt)
	case pageContent != "":
		userMessage = fmt.Sprintf("Website Content:\n\n%s\n\nUser Request: %s", pageContent, prompt)
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}

// systemPrompt 返回配置的系统提示词，未配置时使用内置缺省值。
func (s *chatService) systemPrompt() string {
	if rules := config.Conf.LLM.Prompt.Rules; rules != "" {
		return rules
	}
	return defaultSystemPrompt
}

// publishTurnEvent 异步发布本轮事件，失败只记录日志。
func (s *chatService) publishTurnEvent(conversationID string, userID uint, persisted []model.Message, hasSource bool) {
	sequence := 0
	if len(persisted) > 0 {
		sequence = persisted[len(persisted)-1].Seq
	}
	event := kafka.TurnEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Sequence:       sequence,
		HasSource:      hasSource,
		Timestamp:      time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := kafka.ProduceTurnEvent(ctx, event); err != nil {
			log.Warnf("[ChatService] 发布对话事件失败, conversation: %s, error: %v", conversationID, err)
		}
	}()
}
