package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/vivica-app/Vivica/pkg/logger"
)

// Config OpenAI 兼容提供者配置
type Config struct {
	// APIKeys 按优先级排列的密钥列表，认证/额度/限流错误时依次降级
	APIKeys     []string
	BaseURL     string
	Model       string
	Temperature float32
	// MaxHistory 保留的历史消息条数上限（不含系统提示词），0 表示不限制
	MaxHistory int
}

// OpenAIProvider 基于 OpenAI 兼容 API 的提供者，带多密钥降级
type OpenAIProvider struct {
	cfg     Config
	clients []*openai.Client

	mu        sync.Mutex
	keyIdx    int
	systemMsg string
	messages  []openai.ChatCompletionMessage

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	usage      Usage
	usageValid bool
}

// NewOpenAIProvider 创建提供者，每个密钥一个客户端
func NewOpenAIProvider(cfg Config, systemPrompt string) (*OpenAIProvider, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("llm: at least one api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	clients := make([]*openai.Client, len(cfg.APIKeys))
	for i, key := range cfg.APIKeys {
		conf := openai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			conf.BaseURL = cfg.BaseURL
		}
		clients[i] = openai.NewClientWithConfig(conf)
	}

	return &OpenAIProvider{
		cfg:     cfg,
		clients: clients,
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		systemMsg: systemPrompt,
	}, nil
}

// Query 非流式查询
func (p *OpenAIProvider) Query(ctx context.Context, text string) (string, error) {
	ctx, done := p.interruptible(ctx)
	defer done()

	req := p.buildRequest(text, false)

	var resp openai.ChatCompletionResponse
	err := p.withKeyFallback(func(client *openai.Client) error {
		var cerr error
		resp, cerr = client.CreateChatCompletion(ctx, req)
		return cerr
	})
	if err != nil {
		p.dropLastUserMessage()
		return "", p.translate(ctx, err)
	}
	if len(resp.Choices) == 0 {
		p.dropLastUserMessage()
		return "", errors.New("llm: empty completion response")
	}

	reply := resp.Choices[0].Message.Content
	p.recordReply(reply, Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	})
	return reply, nil
}

// QueryStream 流式查询，返回完整回复
func (p *OpenAIProvider) QueryStream(ctx context.Context, text string, fn func(segment string, done bool) error) (string, error) {
	ctx, done := p.interruptible(ctx)
	defer done()

	req := p.buildRequest(text, true)

	var full strings.Builder
	err := p.withKeyFallback(func(client *openai.Client) error {
		stream, serr := client.CreateChatCompletionStream(ctx, req)
		if serr != nil {
			return serr
		}
		defer stream.Close()

		full.Reset()
		for {
			chunk, rerr := stream.Recv()
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if rerr != nil {
				return rerr
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			segment := chunk.Choices[0].Delta.Content
			if segment == "" {
				continue
			}
			full.WriteString(segment)
			if fn != nil {
				if cerr := fn(segment, false); cerr != nil {
					return fmt.Errorf("llm: stream callback: %w", cerr)
				}
			}
		}
	})
	if err != nil {
		p.dropLastUserMessage()
		return "", p.translate(ctx, err)
	}

	if fn != nil {
		if cerr := fn("", true); cerr != nil {
			p.dropLastUserMessage()
			return "", fmt.Errorf("llm: stream callback: %w", cerr)
		}
	}
	reply := full.String()
	p.recordReply(reply, Usage{})
	return reply, nil
}

// SetSystemPrompt 替换系统提示词
func (p *OpenAIProvider) SetSystemPrompt(prompt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systemMsg = prompt
	if len(p.messages) > 0 && p.messages[0].Role == openai.ChatMessageRoleSystem {
		p.messages[0].Content = prompt
		return
	}
	p.messages = append([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
	}, p.messages...)
}

// ResetMessages 清空历史，只保留系统提示词
func (p *OpenAIProvider) ResetMessages() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: p.systemMsg},
	}
}

// Messages 当前对话历史快照
func (p *OpenAIProvider) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	for i, m := range p.messages {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// LastUsage 最后一次成功调用的token统计
func (p *OpenAIProvider) LastUsage() (Usage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage, p.usageValid
}

// Interrupt 中断正在进行的请求
func (p *OpenAIProvider) Interrupt() {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Close 释放资源
func (p *OpenAIProvider) Close() {
	p.Interrupt()
}

// interruptible 包装请求上下文，让 Interrupt 可以取消它
func (p *OpenAIProvider) interruptible(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelMu.Lock()
	p.cancel = cancel
	p.cancelMu.Unlock()
	return ctx, func() {
		p.cancelMu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.cancelMu.Unlock()
	}
}

func (p *OpenAIProvider) buildRequest(text string, stream bool) openai.ChatCompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	p.trimHistory()

	msgs := make([]openai.ChatCompletionMessage, len(p.messages))
	copy(msgs, p.messages)
	return openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		Stream:      stream,
	}
}

// withKeyFallback 从当前密钥开始依次尝试，密钥级错误时降级到下一个
func (p *OpenAIProvider) withKeyFallback(call func(*openai.Client) error) error {
	p.mu.Lock()
	start := p.keyIdx
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < len(p.clients); i++ {
		idx := (start + i) % len(p.clients)
		err := call(p.clients[idx])
		if err == nil {
			p.mu.Lock()
			p.keyIdx = idx
			p.mu.Unlock()
			return nil
		}
		lastErr = err
		if !isKeyError(err) {
			return err
		}
		logger.Warn("API key rejected, falling back to next key",
			zap.Int("keyIndex", idx),
			zap.Error(err))
	}
	return fmt.Errorf("llm: all %d api keys failed: %w", len(p.clients), lastErr)
}

func (p *OpenAIProvider) recordReply(reply string, usage Usage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	p.trimHistory()
	p.usage = usage
	p.usageValid = usage.TotalTokens > 0
}

// dropLastUserMessage 请求失败时回滚刚入队的用户消息，避免历史里留下悬空回合
func (p *OpenAIProvider) dropLastUserMessage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.messages)
	if n > 0 && p.messages[n-1].Role == openai.ChatMessageRoleUser {
		p.messages = p.messages[:n-1]
	}
}

// trimHistory 历史超限时丢弃最旧的非系统消息，调用方持有锁
func (p *OpenAIProvider) trimHistory() {
	if p.cfg.MaxHistory <= 0 {
		return
	}
	for len(p.messages) > p.cfg.MaxHistory+1 {
		p.messages = append(p.messages[:1], p.messages[2:]...)
	}
}

func (p *OpenAIProvider) translate(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ErrInterrupted
	}
	return err
}

// isKeyError 判断错误是否应触发密钥降级（认证、额度、限流）
func isKeyError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403, 429:
			return true
		}
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case 401, 403, 429:
			return true
		}
	}
	return false
}
