// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"sitechat-go/internal/service"
)

// statusForError 将业务错误分类映射到 HTTP 状态码。
// 未分类的错误一律按 500 处理，不对外泄露内部细节。
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCompletionUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageForError 返回可安全下发给客户端的错误文案。
func messageForError(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, service.ErrForbidden):
		return "无权访问该对话"
	case errors.Is(err, service.ErrNotFound):
		return "对话不存在"
	case errors.Is(err, service.ErrCompletionUnavailable):
		return "AI服务暂时不可用，请稍后重试"
	default:
		return "内部服务错误"
	}
}
