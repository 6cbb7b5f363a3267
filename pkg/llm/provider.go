package llm

import (
	"context"
	"errors"
)

// ErrInterrupted 请求被 Interrupt 中断
var ErrInterrupted = errors.New("llm: query interrupted")

// Provider 统一的对话补全接口
type Provider interface {
	// Query 执行非流式查询，返回助手回复
	Query(ctx context.Context, text string) (string, error)

	// QueryStream 执行流式查询，segment 按到达顺序回调，done 标记最后一段
	QueryStream(ctx context.Context, text string, fn func(segment string, done bool) error) (string, error)

	// SetSystemPrompt 设置系统提示词，立即对后续请求生效
	SetSystemPrompt(prompt string)

	// ResetMessages 清空对话历史，只保留系统提示词
	ResetMessages()

	// Messages 获取当前对话历史快照
	Messages() []Message

	// LastUsage 最后一次调用的token统计
	LastUsage() (Usage, bool)

	// Interrupt 中断正在进行的请求
	Interrupt()

	// Close 释放资源
	Close()
}

// Usage token 使用统计
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Message 对话消息
type Message struct {
	Role    string
	Content string
}
