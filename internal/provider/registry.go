package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
)

// Registry 按标识管理供应商
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建空的注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// FromConfig 按配置注册三家供应商
// 未配置 Key 的供应商仍会注册，调用时返回 ErrMissingAPIKey
func FromConfig(ctx context.Context, cfg config.AIConfig) (*Registry, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	gemini, err := NewGemini(ctx, cfg.Gemini, httpClient)
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}

	r := NewRegistry()
	r.Register(gemini)
	r.Register(NewOpenAI(cfg.OpenAI, httpClient))
	r.Register(NewAnthropic(cfg.Anthropic, httpClient))
	return r, nil
}

// Register 注册供应商，同名覆盖
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get 获取供应商
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found: %w", name, ErrUnknownProvider)
	}
	return p, nil
}

// Has 判断供应商是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names 返回已注册的供应商标识，按字母排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Maintenance 返回固定模型的维护用供应商
func (r *Registry) Maintenance(name, modelName string) (*Pinned, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = model.DefaultModelFor(name)
	}
	return Pin(p, modelName), nil
}
