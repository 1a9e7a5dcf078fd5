// Package provider 适配各家大模型接口
// 把内部统一的消息列表转换为供应商的请求格式，并从各自的响应结构中取出文本
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

// FallbackReply 响应结构正常但没有文本时返回的固定内容
const FallbackReply = "Sorry, a response could not be generated. Please try again later."

const (
	summaryContextPrefix = "[SYSTEM CONTEXT]: "
	summaryInstruction   = "Summarize the conversation above briefly. Include important information, questions and answers. Maximum 200 words."
	summaryTemperature   = 0.3
	summaryMaxTokens     = 300
	previousReplyPrefix  = "Your previous reply in this conversation: "
)

var (
	// ErrMissingAPIKey 供应商未配置 API Key
	ErrMissingAPIKey = errors.New("api key not configured")
	// ErrUnknownProvider 注册表中没有该供应商
	ErrUnknownProvider = errors.New("unknown provider")
)

// Message 供应商无关的消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options 单次生成的参数
// Temperature 和 TopP 为 nil 时使用默认值，显式的 0 会原样发送；其余零值字段使用默认值
type Options struct {
	Model       string
	Temperature *float64
	TopP        *float64
	TopK        int
	MaxTokens   int
}

// withDefaults 补齐未设置的参数
func (o Options) withDefaults(defaultModel string) Options {
	d := model.DefaultGenerationSettings()
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.Temperature == nil {
		o.Temperature = util.Float64Ptr(d.Temperature)
	}
	if o.TopP == nil {
		o.TopP = util.Float64Ptr(d.TopP)
	}
	if o.TopK == 0 {
		o.TopK = d.TopK
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	return o
}

// OptionsFromSettings 由对话生成参数构造 Options
func OptionsFromSettings(modelName string, s model.GenerationSettings) Options {
	return Options{
		Model:       modelName,
		Temperature: util.Float64Ptr(s.Temperature),
		TopP:        util.Float64Ptr(s.TopP),
		TopK:        s.TopK,
		MaxTokens:   s.MaxTokens,
	}
}

// Provider 大模型供应商
type Provider interface {
	// Name 返回供应商标识，如 gemini
	Name() string
	// Generate 发起一次生成调用，不做重试
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
	// Summarize 概括一段历史对话
	Summarize(ctx context.Context, messages []Message, systemPrompt string) (string, error)
	// FormatMessages 返回发送给供应商的消息结构，便于调试
	FormatMessages(messages []Message) (json.RawMessage, error)
}

// Error 供应商调用失败
// StatusCode 为 0 表示没有拿到 HTTP 响应（网络错误、超时、未配置 Key 等）
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BuildSummaryRequest 构造摘要请求的消息列表
// 系统提示词作为第一条 user 消息，只保留 user/assistant 消息，最后追加摘要指令
func BuildSummaryRequest(messages []Message, systemPrompt string) []Message {
	out := make([]Message, 0, len(messages)+2)
	if systemPrompt != "" {
		out = append(out, Message{Role: model.MessageRoleUser, Content: summaryContextPrefix + systemPrompt})
	}
	for _, m := range messages {
		if m.Role == model.MessageRoleUser || m.Role == model.MessageRoleAssistant {
			out = append(out, m)
		}
	}
	return append(out, Message{Role: model.MessageRoleUser, Content: summaryInstruction})
}

// SummaryOptions 摘要调用使用的参数
func SummaryOptions(modelName string) Options {
	return Options{Model: modelName, Temperature: util.Float64Ptr(summaryTemperature), MaxTokens: summaryMaxTokens}
}

// splitSystem 拆出所有 system 消息的内容，按换行拼接
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.MessageRoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n"), rest
}

// splitTurns 拆出 system 内容，其余消息整理为 user 开头、user/assistant 交替
// 开头的 assistant 消息并入 system，相邻的同角色消息合并为一条
func splitTurns(messages []Message) (string, []Message) {
	system, rest := splitSystem(messages)
	var lead []string
	if system != "" {
		lead = append(lead, system)
	}

	turns := make([]Message, 0, len(rest))
	for _, m := range rest {
		role := model.MessageRoleAssistant
		if m.Role == model.MessageRoleUser {
			role = model.MessageRoleUser
		}
		if len(turns) == 0 && role == model.MessageRoleAssistant {
			lead = append(lead, previousReplyPrefix+m.Content)
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, Message{Role: role, Content: m.Content})
	}
	return strings.Join(lead, "\n"), turns
}

// Pinned 固定使用某个模型的供应商
// 用于摘要和记忆更新这类内部维护调用，与对话选择的供应商无关
type Pinned struct {
	Provider
	model string
}

// Pin 返回固定模型的包装
func Pin(p Provider, modelName string) *Pinned {
	return &Pinned{Provider: p, model: modelName}
}

// Generate 未指定模型时使用固定模型
func (p *Pinned) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.Model == "" {
		opts.Model = p.model
	}
	return p.Provider.Generate(ctx, messages, opts)
}

// Summarize 用固定模型生成摘要
func (p *Pinned) Summarize(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	return p.Provider.Generate(ctx, BuildSummaryRequest(messages, systemPrompt), SummaryOptions(p.model))
}
