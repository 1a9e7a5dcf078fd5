package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

const (
	geminiSystemSuffix = "\n\nPlease behave according to the system instructions above. Do not reply to this message, only to the user's next messages."
	geminiSystemAck    = "Understood, I'll follow the system instructions."
)

// Gemini 基于 google.golang.org/genai 的适配器
// Gemini 没有 system 角色，系统提示词折叠成开头的一问一答
type Gemini struct {
	client *genai.Client // 未配置 Key 时为 nil
	apiKey string
	model  string
}

// NewGemini 创建 Gemini 适配器
// 参数:
//   - ctx: 上下文
//   - cfg: 供应商配置，BaseURL 为空时使用官方地址
//   - httpClient: 共享的 HTTP 客户端
func NewGemini(ctx context.Context, cfg config.ProviderConfig, httpClient *http.Client) (*Gemini, error) {
	g := &Gemini{apiKey: cfg.APIKey, model: cfg.Model}
	if g.model == "" {
		g.model = model.DefaultGeminiModel
	}
	if cfg.APIKey == "" {
		return g, nil
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL, APIVersion: "v1beta"}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	g.client = client
	return g, nil
}

// Name 返回供应商标识
func (g *Gemini) Name() string {
	return model.ProviderGemini
}

// Generate 调用 generateContent
func (g *Gemini) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if g.client == nil {
		return "", &Error{Provider: g.Name(), Message: ErrMissingAPIKey.Error(), Err: ErrMissingAPIKey}
	}
	opts = opts.withDefaults(g.model)

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(*opts.Temperature)),
		TopP:            genai.Ptr(float32(*opts.TopP)),
		TopK:            genai.Ptr(float32(opts.TopK)),
		MaxOutputTokens: int32(opts.MaxTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, opts.Model, geminiContents(messages), genCfg)
	if err != nil {
		perr := g.wrapError(err)
		slog.Warn("gemini request failed", "model", opts.Model, "status", perr.StatusCode, "error", perr.Message)
		return "", perr
	}
	return geminiText(resp), nil
}

// Summarize 概括历史对话
func (g *Gemini) Summarize(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	return g.Generate(ctx, BuildSummaryRequest(messages, systemPrompt), SummaryOptions(g.model))
}

// FormatMessages 返回折叠后的 contents
func (g *Gemini) FormatMessages(messages []Message) (json.RawMessage, error) {
	return json.Marshal(geminiContents(messages))
}

func (g *Gemini) wrapError(err error) *Error {
	perr := &Error{Provider: g.Name(), Message: util.RedactSecrets(err.Error(), g.apiKey), Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.Code
		perr.Message = util.RedactSecrets(apiErr.Message, g.apiKey)
	}
	return perr
}

// geminiContents 转换消息列表
// 所有 system 消息合并后放进开头的 user/model 对话，之后 user 与 model 交替
func geminiContents(messages []Message) []*genai.Content {
	system, turns := splitTurns(messages)
	contents := make([]*genai.Content, 0, len(turns)+2)
	if system != "" {
		contents = append(contents,
			genai.NewContentFromText(fmt.Sprintf("[SYSTEM INSTRUCTION]: %s%s", system, geminiSystemSuffix), genai.RoleUser),
			genai.NewContentFromText(geminiSystemAck, genai.RoleModel),
		)
	}
	for _, m := range turns {
		role := genai.RoleModel
		if m.Role == model.MessageRoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// geminiText 读取 candidates[0].content.parts[0].text
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return FallbackReply
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil || content.Parts[0].Text == "" {
		return FallbackReply
	}
	return content.Parts[0].Text
}
