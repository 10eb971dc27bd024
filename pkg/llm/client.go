// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sitechat-go/internal/config"
)

// 补全服务的类型化失败。调用方通过 errors.Is 区分处理。
var (
	// ErrUnavailable 表示补全服务不可达或返回了服务端错误。
	ErrUnavailable = errors.New("completion service unavailable")
	// ErrRateLimited 表示补全服务返回了限流响应。
	ErrRateLimited = errors.New("completion service rate limited")
	// ErrRejected 表示补全服务拒绝了本次请求（客户端错误）。
	ErrRejected = errors.New("completion request rejected")
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the interface for an LLM client.
// 客户端是无状态的：不保存任何对话记忆，完整上下文必须由调用方每次传入。
type Client interface {
	// Complete 以 role-based 消息调用聊天接口，返回生成的完整文本。
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream 以 SSE 流式调用聊天接口，每个增量分块经 onDelta 交付，
	// 返回拼装后的完整文本。onDelta 返回错误时中止流式读取。
	Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// newChatRequest 组装请求体，并从全局配置注入生成参数（若非零值）。
func (c *openAICompatibleClient) newChatRequest(messages []Message, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

// doChatRequest 发起请求并把非 200 状态换算到类型化失败上。
func (c *openAICompatibleClient) doChatRequest(ctx context.Context, reqBody chatRequest, accept string) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络层失败与超时统一归为服务不可用
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(bodyBytes))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, fmt.Errorf("%w: status %s, body: %s", ErrRejected, resp.Status, string(bodyBytes))
		default:
			return nil, fmt.Errorf("%w: status %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
		}
	}
	return resp, nil
}

// Complete calls the OpenAI-compatible chat completions API and returns the generated text.
func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.doChatRequest(ctx, c.newChatRequest(messages, false), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrUnavailable)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Stream calls the chat completions API with SSE streaming and returns the assembled text.
func (c *openAICompatibleClient) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	resp, err := c.doChatRequest(ctx, c.newChatRequest(messages, true), "text/event-stream")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("%w: failed to read from stream: %v", ErrUnavailable, err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		full.WriteString(content)
		if err := onDelta(content); err != nil {
			return "", fmt.Errorf("failed to deliver stream chunk: %w", err)
		}
	}

	if full.Len() == 0 {
		return "", fmt.Errorf("%w: empty stream response", ErrUnavailable)
	}
	return full.String(), nil
}
