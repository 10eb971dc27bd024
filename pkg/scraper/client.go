// Package scraper 提供了抓取网页并提取正文内容的客户端。
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sitechat-go/internal/config"

	"github.com/markusmobius/go-trafilatura"
)

// 抓取的类型化失败。客户端自身不做任何重试，重试策略由调用方决定。
var (
	// ErrUnreachable 表示目标站点无法访问（网络失败或返回错误状态码）。
	ErrUnreachable = errors.New("target site unreachable")
	// ErrInvalidContent 表示响应不是可提取的网页内容。
	ErrInvalidContent = errors.New("invalid page content")
	// ErrTimeout 表示抓取超时。
	ErrTimeout = errors.New("scrape timed out")
)

const (
	defaultUserAgent       = "SiteChat-Bot/1.0"
	defaultTimeoutSeconds  = 30
	defaultMaxBodySize     = 10 * 1024 * 1024 // 10MB
	defaultMaxContentChars = 60000
)

// Result 是一次成功抓取的产物。
type Result struct {
	Content string
	Title   string
}

// Client defines the interface for a web content extraction client.
type Client interface {
	// Extract 抓取给定 URL 并返回提取出的正文与标题。
	// 调用方需保证 URL 已通过语法校验（绝对的 http/https 地址）。
	Extract(ctx context.Context, rawURL string) (*Result, error)
}

type httpScraperClient struct {
	cfg    config.ScraperConfig
	client *http.Client
}

// NewClient 创建一个新的抓取客户端实例。
func NewClient(cfg config.ScraperConfig) Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = defaultMaxContentChars
	}
	return &httpScraperClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Extract 抓取网页并用 trafilatura 提取正文。
func (c *httpScraperClient) Extract(ctx context.Context, rawURL string) (*Result, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url: %v", ErrUnreachable, err)
	}
	if err := c.validateTarget(parsedURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %s", ErrUnreachable, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isSupportedContentType(contentType) {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidContent, contentType)
	}

	// 限制读取体积，防止超大页面耗尽内存
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrUnreachable, err)
	}

	opts := trafilatura.Options{
		OriginalURL: parsedURL,
	}
	extract, err := trafilatura.Extract(bytes.NewReader(body), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: extraction failed: %v", ErrInvalidContent, err)
	}
	if extract == nil || extract.ContentText == "" {
		return nil, fmt.Errorf("%w: no textual content in page", ErrInvalidContent)
	}

	content := extract.ContentText
	if len(content) > c.cfg.MaxContentChars {
		content = content[:c.cfg.MaxContentChars] + "\n\n[内容因长度限制被截断]"
	}

	return &Result{
		Content: content,
		Title:   extract.Metadata.Title,
	}, nil
}

// validateTarget 做基础的 SSRF 防护：仅允许 http/https，拒绝回环与私有地址。
func (c *httpScraperClient) validateTarget(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrUnreachable, u.Scheme)
	}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return fmt.Errorf("%w: missing host", ErrUnreachable)
	}
	if hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" {
		if !c.cfg.AllowLoopback {
			return fmt.Errorf("%w: loopback address not allowed", ErrUnreachable)
		}
	}
	if ip := net.ParseIP(hostname); ip != nil && (ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
		return fmt.Errorf("%w: private address not allowed", ErrUnreachable)
	}
	return nil
}

// isTimeout 判断抓取错误是否为超时。
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isSupportedContentType 检查响应类型是否可供正文提取。
func isSupportedContentType(contentType string) bool {
	if contentType == "" {
		// 部分站点缺失 Content-Type，交给提取器判断
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml+xml") ||
		strings.Contains(ct, "text/plain")
}
