package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

const (
	// AnthropicEndpoint 默认地址
	AnthropicEndpoint = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
)

// Anthropic Messages API 适配器
// system 提示词放在顶层 system 字段，messages 里只保留 user/assistant
type Anthropic struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// anthropicRequest 请求结构
type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p,omitempty"`
	TopK        int                `json:"top_k,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewAnthropic 创建 Anthropic 适配器
func NewAnthropic(cfg config.ProviderConfig, httpClient *http.Client) *Anthropic {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = AnthropicEndpoint
	}
	m := cfg.Model
	if m == "" {
		m = model.DefaultAnthropicModel
	}
	return &Anthropic{client: httpClient, baseURL: base, apiKey: cfg.APIKey, model: m}
}

// Name 返回供应商标识
func (a *Anthropic) Name() string {
	return model.ProviderAnthropic
}

// Generate 调用 /v1/messages
func (a *Anthropic) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if a.apiKey == "" {
		return "", &Error{Provider: a.Name(), Message: ErrMissingAPIKey.Error(), Err: ErrMissingAPIKey}
	}
	opts = opts.withDefaults(a.model)

	// 1. 构造请求 Body
	req := anthropicPayload(messages)
	req.Model = opts.Model
	req.MaxTokens = opts.MaxTokens
	req.Temperature = *opts.Temperature
	req.TopP = *opts.TopP
	req.TopK = opts.TopK

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: "encode request", Err: err}
	}

	// 2. 发送 HTTP 请求
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		perr := &Error{Provider: a.Name(), Message: util.RedactSecrets(err.Error(), a.apiKey), Err: err}
		slog.Warn("anthropic request failed", "model", opts.Model, "error", perr.Message)
		return "", perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		perr := &Error{Provider: a.Name(), StatusCode: resp.StatusCode, Message: util.RedactSecrets(msg, a.apiKey)}
		slog.Warn("anthropic request failed", "model", opts.Model, "status", resp.StatusCode, "error", perr.Message)
		return "", perr
	}

	// 3. 解析响应
	if !gjson.ValidBytes(body) {
		return "", &Error{Provider: a.Name(), StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	text := gjson.GetBytes(body, "content.0.text").String()
	if text == "" {
		return FallbackReply, nil
	}
	return text, nil
}

// Summarize 概括历史对话
func (a *Anthropic) Summarize(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	return a.Generate(ctx, BuildSummaryRequest(messages, systemPrompt), SummaryOptions(a.model))
}

// FormatMessages 返回 {system, messages} 结构
func (a *Anthropic) FormatMessages(messages []Message) (json.RawMessage, error) {
	return json.Marshal(anthropicPayload(messages))
}

func anthropicPayload(messages []Message) anthropicRequest {
	system, turns := splitTurns(messages)
	req := anthropicRequest{System: system, Messages: make([]anthropicMessage, 0, len(turns))}
	for _, m := range turns {
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return req
}
