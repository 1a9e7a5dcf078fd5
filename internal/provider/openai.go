package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

// OpenAI 基于 openai-go 的适配器，角色原样透传
type OpenAI struct {
	client openai.Client
	apiKey string
	model  string
}

// NewOpenAI 创建 OpenAI 适配器
// SDK 自带的重试被关闭，一次调用只发一次请求
func NewOpenAI(cfg config.ProviderConfig, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	m := cfg.Model
	if m == "" {
		m = model.DefaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		apiKey: cfg.APIKey,
		model:  m,
	}
}

// Name 返回供应商标识
func (p *OpenAI) Name() string {
	return model.ProviderOpenAI
}

// Generate 调用 chat completions
func (p *OpenAI) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if p.apiKey == "" {
		return "", &Error{Provider: p.Name(), Message: ErrMissingAPIKey.Error(), Err: ErrMissingAPIKey}
	}
	opts = opts.withDefaults(p.model)

	params := openai.ChatCompletionNewParams{
		Model:       opts.Model,
		Messages:    openaiMessages(messages),
		Temperature: openai.Float(*opts.Temperature),
		TopP:        openai.Float(*opts.TopP),
		MaxTokens:   openai.Int(int64(opts.MaxTokens)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		perr := p.wrapError(err)
		slog.Warn("openai request failed", "model", opts.Model, "status", perr.StatusCode, "error", perr.Message)
		return "", perr
	}

	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return FallbackReply, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize 概括历史对话
func (p *OpenAI) Summarize(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	return p.Generate(ctx, BuildSummaryRequest(messages, systemPrompt), SummaryOptions(p.model))
}

// FormatMessages 返回 OpenAI 格式的消息
func (p *OpenAI) FormatMessages(messages []Message) (json.RawMessage, error) {
	return json.Marshal(openaiMessages(messages))
}

func (p *OpenAI) wrapError(err error) *Error {
	perr := &Error{Provider: p.Name(), Message: util.RedactSecrets(err.Error(), p.apiKey), Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.StatusCode
		if apiErr.Message != "" {
			perr.Message = util.RedactSecrets(apiErr.Message, p.apiKey)
		}
	}
	return perr
}

func openaiMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.MessageRoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.MessageRoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
