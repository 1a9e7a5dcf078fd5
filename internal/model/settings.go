package model

// 供应商标识
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// 各供应商默认模型
const (
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-3-opus-20240229"
)

// DefaultModelFor 返回供应商的默认模型，未知供应商返回空字符串
func DefaultModelFor(provider string) string {
	switch provider {
	case ProviderGemini:
		return DefaultGeminiModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	}
	return ""
}

// GenerationSettings 对话级别的生成参数
// 以 JSON 形式存储在 chats.ai_settings 列
type GenerationSettings struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
	MaxTokens   int     `json:"maxTokens"`
}

// GenerationSettingsPatch 部分更新，nil 字段保持原值
type GenerationSettingsPatch struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	TopK        *int     `json:"topK,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// DefaultGenerationSettings 返回默认生成参数
func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Temperature: 0.7,
		TopP:        0.95,
		TopK:        40,
		MaxTokens:   1000,
	}
}

// MergeGenerationSettings 把 patch 中提供的字段覆盖到 existing 上
// existing 为 nil 时以默认值为基础，返回新的结构体，不修改入参
func MergeGenerationSettings(existing *GenerationSettings, patch *GenerationSettingsPatch) GenerationSettings {
	merged := DefaultGenerationSettings()
	if existing != nil {
		merged = *existing
	}
	if patch == nil {
		return merged
	}
	if patch.Temperature != nil {
		merged.Temperature = *patch.Temperature
	}
	if patch.TopP != nil {
		merged.TopP = *patch.TopP
	}
	if patch.TopK != nil {
		merged.TopK = *patch.TopK
	}
	if patch.MaxTokens != nil {
		merged.MaxTokens = *patch.MaxTokens
	}
	return merged
}

// ProviderPreference 用户对单个供应商的偏好
type ProviderPreference struct {
	Enabled     bool    `json:"enabled"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// AIPreferences 用户的 AI 偏好设置
// API Key 只来自服务端配置，不按用户保存
type AIPreferences struct {
	DefaultProvider string                        `json:"defaultProvider"`
	Providers       map[string]ProviderPreference `json:"providers"`
}

// ProviderPreferencePatch 单个供应商偏好的部分更新
type ProviderPreferencePatch struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// AIPreferencesPatch AI 偏好的部分更新
type AIPreferencesPatch struct {
	DefaultProvider *string                            `json:"defaultProvider,omitempty"`
	Providers       map[string]ProviderPreferencePatch `json:"providers,omitempty"`
}

// DefaultAIPreferences 新用户的默认偏好，默认只启用 gemini
func DefaultAIPreferences() AIPreferences {
	return AIPreferences{
		DefaultProvider: ProviderGemini,
		Providers: map[string]ProviderPreference{
			ProviderGemini:    {Enabled: true, Model: DefaultGeminiModel, Temperature: 0.7},
			ProviderOpenAI:    {Enabled: false, Model: DefaultOpenAIModel, Temperature: 0.7},
			ProviderAnthropic: {Enabled: false, Model: DefaultAnthropicModel, Temperature: 0.7},
		},
	}
}

// MergeAIPreferences 合并偏好，返回的 Providers 是一份新 map
func MergeAIPreferences(existing *AIPreferences, patch *AIPreferencesPatch) AIPreferences {
	base := DefaultAIPreferences()
	if existing != nil {
		base.DefaultProvider = existing.DefaultProvider
		for name, pref := range existing.Providers {
			base.Providers[name] = pref
		}
	}
	if patch == nil {
		return base
	}
	if patch.DefaultProvider != nil {
		base.DefaultProvider = *patch.DefaultProvider
	}
	for name, p := range patch.Providers {
		pref := base.Providers[name]
		if p.Enabled != nil {
			pref.Enabled = *p.Enabled
		}
		if p.Model != nil {
			pref.Model = *p.Model
		}
		if p.Temperature != nil {
			pref.Temperature = *p.Temperature
		}
		base.Providers[name] = pref
	}
	return base
}

// Preferred 返回用户启用的默认供应商偏好
// 默认供应商未启用时 ok 为 false
func (p AIPreferences) Preferred() (name string, pref ProviderPreference, ok bool) {
	if p.DefaultProvider == "" {
		return "", ProviderPreference{}, false
	}
	pref, found := p.Providers[p.DefaultProvider]
	if !found || !pref.Enabled {
		return "", ProviderPreference{}, false
	}
	return p.DefaultProvider, pref, true
}
