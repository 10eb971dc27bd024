package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitechat-go/internal/config"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Go Concurrency Patterns</title></head>
<body>
<article>
<h1>Go Concurrency Patterns</h1>
<p>Concurrency is the key to designing high performance network services.
Go's concurrency primitives, goroutines and channels, provide an elegant and
distinct means of expressing concurrent execution.</p>
<p>A goroutine is a function running independently in the same address space
as other goroutines. Unlike threads, goroutines are cheap: it is practical to
create hundreds of thousands of them in the same program.</p>
<p>A channel in Go provides a connection between two goroutines, allowing
them to communicate. Channels are first class values, just like strings or
integers, and can be passed around between functions.</p>
<p>Do not communicate by sharing memory. Instead, share memory by
communicating. This slogan captures the essence of writing concurrent
programs in Go and distinguishes it from lock based designs.</p>
</article>
</body>
</html>`

func newTestClient(maxContentChars int) Client {
	// httptest 服务器监听回环地址
	return NewClient(config.ScraperConfig{
		TimeoutSeconds:  5,
		MaxContentChars: maxContentChars,
		AllowLoopback:   true,
	})
}

func TestExtractSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	result, err := newTestClient(0).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(result.Content, "share memory by") {
		t.Errorf("extracted content missing article text: %q", result.Content)
	}
	if strings.Contains(result.Content, "<p>") {
		t.Error("extracted content still contains markup")
	}
	if result.Title != "Go Concurrency Patterns" {
		t.Errorf("title = %q", result.Title)
	}
}

func TestExtractTruncatesLongContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	result, err := newTestClient(100).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(result.Content, "[内容因长度限制被截断]") {
		t.Error("expected truncation marker on oversized content")
	}
}

func TestExtractServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(0).Extract(context.Background(), srv.URL)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestExtractUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	_, err := newTestClient(0).Extract(context.Background(), srv.URL)
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("err = %v, want ErrInvalidContent", err)
	}
}

func TestExtractNoTextualContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(0).Extract(context.Background(), srv.URL)
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("err = %v, want ErrInvalidContent", err)
	}
}

func TestExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(0).Extract(ctx, srv.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestExtractConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	_, err := newTestClient(0).Extract(context.Background(), deadURL)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestLoopbackBlockedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	client := NewClient(config.ScraperConfig{TimeoutSeconds: 5})
	_, err := client.Extract(context.Background(), srv.URL)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable for a loopback target without allow_loopback", err)
	}
}

func TestValidateTarget(t *testing.T) {
	client := newTestClient(0)
	tests := []struct {
		name string
		url  string
	}{
		{"ftp scheme", "ftp://example.com/file"},
		{"missing host", "https:///path"},
		{"private address", "http://192.168.1.10/admin"},
		{"link local", "http://169.254.169.254/latest/meta-data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Extract(context.Background(), tt.url)
			if !errors.Is(err, ErrUnreachable) {
				t.Fatalf("err = %v, want ErrUnreachable", err)
			}
		})
	}
}
