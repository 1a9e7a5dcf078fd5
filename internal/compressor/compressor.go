// Package compressor 控制发送给模型的上下文长度
// 历史过长时把较早的消息概括成摘要，只保留最近的若干条原文
package compressor

import (
	"context"
	"log/slog"

	"persona-chat/internal/model"
	"persona-chat/internal/provider"
)

// DefaultMaxMessages 默认保留的最近消息条数
const DefaultMaxMessages = 10

// SummaryPrefix 摘要消息的前缀，让模型把它当作背景而不是对话
const SummaryPrefix = "Previous conversation summary: "

// Summarizer 生成摘要的模型调用
type Summarizer interface {
	Summarize(ctx context.Context, messages []provider.Message, systemPrompt string) (string, error)
}

// Result 压缩结果
type Result struct {
	Messages   []provider.Message // 实际发送的消息
	Summary    string             // 本次生成的摘要，未压缩或摘要失败时为空
	Compressed bool               // 是否截断了历史
}

// Compressor 上下文压缩器
type Compressor struct {
	summarizer  Summarizer
	maxMessages int
	logger      *slog.Logger
}

// Option 配置项
type Option func(*Compressor)

// WithMaxMessages 设置保留的消息条数，小于 1 时忽略
func WithMaxMessages(n int) Option {
	return func(c *Compressor) {
		if n > 0 {
			c.maxMessages = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(c *Compressor) {
		c.logger = l
	}
}

// New 创建压缩器
func New(summarizer Summarizer, opts ...Option) *Compressor {
	c := &Compressor{
		summarizer:  summarizer,
		maxMessages: DefaultMaxMessages,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxMessages 返回保留的消息条数
func (c *Compressor) MaxMessages() int {
	return c.maxMessages
}

// Compress 压缩历史
// 不超过上限时原样返回；超过时概括较早部分，返回 [system?, 摘要, ...最近消息]
// 摘要失败只记录日志，退化为只发送最近消息
func (c *Compressor) Compress(ctx context.Context, history []provider.Message) Result {
	if len(history) <= c.maxMessages {
		return Result{Messages: history}
	}

	split := len(history) - c.maxMessages
	older := history[:split]
	tail := history[split:]

	system, hasSystem := firstSystem(history)

	if len(older) == 0 || c.summarizer == nil {
		return Result{Messages: tail, Compressed: true}
	}

	summary, err := c.summarizer.Summarize(ctx, older, system.Content)
	if err != nil {
		c.logger.Warn("summarize history failed, sending recent messages only",
			"older", len(older), "tail", len(tail), "error", err)
		return Result{Messages: tail, Compressed: true}
	}

	reduced := make([]provider.Message, 0, len(tail)+2)
	if hasSystem {
		reduced = append(reduced, system)
	}
	reduced = append(reduced, provider.Message{Role: model.MessageRoleSystem, Content: SummaryPrefix + summary})
	reduced = append(reduced, tail...)

	return Result{Messages: reduced, Summary: summary, Compressed: true}
}

func firstSystem(history []provider.Message) (provider.Message, bool) {
	for _, m := range history {
		if m.Role == model.MessageRoleSystem {
			return m, true
		}
	}
	return provider.Message{}, false
}
