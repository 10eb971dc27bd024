// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务错误分类。handler 层通过 errors.Is 将其一一映射到 HTTP 状态码，
// 适配层（llm/scraper）的类型化失败在编排时被换算到这组错误上。
var (
	// ErrInvalidInput 表示请求在任何状态变更前就被校验拒绝。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 表示引用的对话不存在。
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden 表示对话归属校验失败。
	ErrForbidden = errors.New("access denied")
	// ErrCompletionUnavailable 表示补全服务失败，本轮用户消息已落库但没有回复。
	ErrCompletionUnavailable = errors.New("completion unavailable")
	// ErrInternal 表示未分类的内部故障（含持久化失败）。
	ErrInternal = errors.New("internal error")
)
