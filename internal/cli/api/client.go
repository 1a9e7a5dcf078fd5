// Package api 封装与服务器的 HTTP API 交互
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client API 客户端
// 有访问 Token 时以登录用户身份请求，否则带上 guestId 以访客身份请求
type Client struct {
	baseURL     string
	httpClient  *http.Client
	accessToken string
	guestID     string

	refreshToken string
	onRefresh    func(accessToken string) error
}

// NewClient 创建 API 客户端
// 一次对话要等模型回复，超时比普通接口长
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}
}

// WithAuth 设置访问 Token
func (c *Client) WithAuth(accessToken string) *Client {
	c.accessToken = accessToken
	return c
}

// WithGuest 设置访客 ID
func (c *Client) WithGuest(guestID string) *Client {
	c.guestID = guestID
	return c
}

// WithRefresh 访问 Token 过期时用 refreshToken 换新，并回调保存
func (c *Client) WithRefresh(refreshToken string, onRefresh func(accessToken string) error) *Client {
	c.refreshToken = refreshToken
	c.onRefresh = onRefresh
	return c
}

// APIResponse 服务器统一响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Error 服务器返回的业务错误
type Error struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API 错误 (%d/%d): %s", e.StatusCode, e.Code, e.Message)
}

// IsStatus 判断错误是否为指定 HTTP 状态码
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// --- 认证 ---

// User 用户信息
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResponse 登录结果
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
}

// RefreshResponse 刷新结果
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Register 注册账号
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	if email != "" {
		body["email"] = email
	}
	_, err := c.send(ctx, http.MethodPost, "/api/v1/auth/register", nil, body)
	return err
}

// Login 使用用户名密码登录
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var result LoginResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh 用刷新 Token 换新的访问 Token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	// 直接发送，不走自动刷新
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", nil, payload)
	if err != nil {
		return nil, err
	}
	var result RefreshResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("解析刷新响应失败: %w", err)
	}
	return &result, nil
}

// Logout 让服务器作废当前访问 Token 和刷新 Token
func (c *Client) Logout(ctx context.Context) error {
	var body interface{}
	if c.refreshToken != "" {
		body = map[string]string{"refresh_token": c.refreshToken}
	}
	_, err := c.send(ctx, http.MethodPost, "/api/v1/auth/logout", nil, body)
	return err
}

// --- 角色 ---

// Character 角色
type Character struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	IsPublic      bool     `json:"isPublic"`
	Tags          []string `json:"tags"`
	RatingAverage float64  `json:"ratingAverage"`
	RatingCount   int      `json:"ratingCount"`
	ChatCount     int64    `json:"chatCount"`
}

// CharacterList 分页角色列表
type CharacterList struct {
	Characters []Character `json:"characters"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
}

// PopularCharacter 热门角色及得分
type PopularCharacter struct {
	Character Character `json:"character"`
	Score     int64     `json:"score"`
}

// ListCharacters 公开角色和自己的角色
func (c *Client) ListCharacters(ctx context.Context, page, pageSize int) (*CharacterList, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var result CharacterList
	if err := c.call(ctx, http.MethodGet, "/api/v1/characters", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PopularCharacters 热门角色
func (c *Client) PopularCharacters(ctx context.Context) ([]PopularCharacter, error) {
	var result struct {
		Characters []PopularCharacter `json:"characters"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/characters/popular", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Characters, nil
}

// --- 对话 ---

// Message 对话消息
type Message struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat 对话
type Chat struct {
	ID            int64      `json:"id"`
	CharacterID   int64      `json:"characterId"`
	Title         string     `json:"title"`
	AIProvider    string     `json:"aiProvider"`
	AIModel       string     `json:"aiModel"`
	MessageCount  int        `json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	IsShared      bool       `json:"isShared"`
	Character     *Character `json:"character,omitempty"`
	Messages      []Message  `json:"messages,omitempty"`
}

// ChatList 对话列表
type ChatList struct {
	Chats []Chat `json:"chats"`
	Total int64  `json:"total"`
}

// Turn 一轮对话的结果
type Turn struct {
	ChatID  int64    `json:"chatId"`
	Message *Message `json:"message"`
	Reply   *Message `json:"reply"`
}

// Share 分享结果
type Share struct {
	ChatID     int64  `json:"chatId"`
	ShareToken string `json:"shareToken"`
	ShareURL   string `json:"shareUrl"`
}

// StartChatRequest 开始对话的参数
type StartChatRequest struct {
	CharacterID int64  `json:"characterId"`
	Message     string `json:"message,omitempty"`
	AIProvider  string `json:"aiProvider,omitempty"`
	AIModel     string `json:"aiModel,omitempty"`
}

// StartChat 开始新对话
func (c *Client) StartChat(ctx context.Context, req *StartChatRequest) (*Turn, error) {
	var result Turn
	if err := c.call(ctx, http.MethodPost, "/api/v1/chat", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessage 在已有对话中发送消息
func (c *Client) SendMessage(ctx context.Context, chatID int64, message string) (*Turn, error) {
	body := map[string]string{"message": message}
	var result Turn
	if err := c.call(ctx, http.MethodPost, chatPath(chatID), nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChats 自己的对话
func (c *Client) ListChats(ctx context.Context, page, pageSize int) (*ChatList, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var result ChatList
	if err := c.call(ctx, http.MethodGet, "/api/v1/chat", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetChat 对话详情和全部消息
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var result Chat
	if err := c.call(ctx, http.MethodGet, chatPath(chatID), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteChat 删除对话
func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := c.send(ctx, http.MethodDelete, chatPath(chatID), nil, nil)
	return err
}

// ShareChat 生成分享链接，需要登录
func (c *Client) ShareChat(ctx context.Context, chatID int64) (*Share, error) {
	var result Share
	if err := c.call(ctx, http.MethodPost, chatPath(chatID)+"/share", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetFeedback 给一条回复打分
func (c *Client) SetFeedback(ctx context.Context, chatID int64, seq, rating int) error {
	body := map[string]int{"rating": rating}
	path := fmt.Sprintf("%s/messages/%d/feedback", chatPath(chatID), seq)
	_, err := c.send(ctx, http.MethodPut, path, nil, body)
	return err
}

func chatPath(chatID int64) string {
	return "/api/v1/chat/" + strconv.FormatInt(chatID, 10)
}

// --- 通用请求封装 ---

// call 发送请求并把 data 解析到 out
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// send 访问 Token 过期时自动刷新并重试一次
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body interface{}) (*APIResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, method, path, query, payload)
	if err == nil || !IsStatus(err, http.StatusUnauthorized) || c.accessToken == "" || c.refreshToken == "" {
		return resp, err
	}

	refreshed, rerr := c.Refresh(ctx, c.refreshToken)
	if rerr != nil {
		return nil, err
	}
	c.accessToken = refreshed.AccessToken
	if c.onRefresh != nil {
		if serr := c.onRefresh(refreshed.AccessToken); serr != nil {
			return nil, serr
		}
	}
	return c.do(ctx, method, path, query, payload)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) (*APIResponse, error) {
	if c.accessToken == "" && c.guestID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("guestId", c.guestID)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 || apiResp.Code != 0 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Code:       apiResp.Code,
			Message:    apiResp.Message,
		}
	}

	return &apiResp, nil
}
