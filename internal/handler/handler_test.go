package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/model"
	"persona-chat/internal/service"
	"persona-chat/pkg/response"
)

// memCharacters 内存实现的 service.CharacterStore
type memCharacters struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.Character
}

func newMemCharacters() *memCharacters {
	return &memCharacters{items: map[int64]model.Character{}}
}

func (m *memCharacters) Create(_ context.Context, ch *model.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ch.ID = m.nextID
	m.items[ch.ID] = *ch
	return nil
}

func (m *memCharacters) CreateBatch(ctx context.Context, chars []model.Character) error {
	for i := range chars {
		m.Create(ctx, &chars[i])
	}
	return nil
}

func (m *memCharacters) GetByID(_ context.Context, id int64) (*model.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (m *memCharacters) GetByIDs(ctx context.Context, ids []int64) ([]model.Character, error) {
	var out []model.Character
	for _, id := range ids {
		if ch, _ := m.GetByID(ctx, id); ch != nil {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (m *memCharacters) UpdateFields(_ context.Context, id int64, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.items[id]
	if v, ok := fields["name"].(string); ok {
		ch.Name = v
	}
	if v, ok := fields["is_public"].(bool); ok {
		ch.IsPublic = v
	}
	m.items[id] = ch
	return nil
}

func (m *memCharacters) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memCharacters) ListVisible(_ context.Context, userID int64, _, _ int) ([]model.Character, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Character
	for _, ch := range m.items {
		if ch.VisibleTo(userID) {
			out = append(out, ch)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memCharacters) ListByOwner(_ context.Context, userID int64) ([]model.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Character
	for _, ch := range m.items {
		if ch.OwnedBy(userID) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *memCharacters) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

func (m *memCharacters) IncrementPopularity(context.Context, int64, int, int) error {
	return nil
}

// headerAuth 测试用认证：X-User 头即用户 ID
func headerAuth(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := strconv.ParseInt(c.GetHeader("X-User"), 10, 64); err == nil {
			c.Set("user_id", id)
		} else if required {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}
		c.Next()
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path string, user int64, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User", strconv.FormatInt(user, 10))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, env
}

func TestWriteErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err      error
		wantHTTP int
		wantCode int
	}{
		{service.ErrMessageRequired, http.StatusBadRequest, response.CodeBadRequest},
		{service.ErrUnknownProvider, http.StatusBadRequest, response.CodeBadRequest},
		{service.ErrInvalidRating, http.StatusBadRequest, response.CodeBadRequest},
		{service.ErrChatAccessDenied, http.StatusUnauthorized, response.CodeUnauthorized},
		{service.ErrCharacterAccessDenied, http.StatusUnauthorized, response.CodeUnauthorized},
		{service.ErrNotCharacterOwner, http.StatusUnauthorized, response.CodeUnauthorized},
		{service.ErrChatNotFound, http.StatusNotFound, response.CodeChatNotFound},
		{service.ErrSharedChatNotFound, http.StatusNotFound, response.CodeChatNotFound},
		{service.ErrCharacterNotFound, http.StatusNotFound, response.CodeCharacterMissing},
		{service.ErrMessageNotFound, http.StatusNotFound, response.CodeNotFound},
		{service.ErrChatBusy, http.StatusConflict, response.CodeChatBusy},
		{fmt.Errorf("load chat: %w", service.ErrChatNotFound), http.StatusNotFound, response.CodeChatNotFound},
		{errors.New("connection refused"), http.StatusInternalServerError, response.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			writeError(c, tt.err, "test")

			var env envelope
			json.Unmarshal(w.Body.Bytes(), &env)
			if w.Code != tt.wantHTTP || env.Code != tt.wantCode {
				t.Errorf("got %d/%d, want %d/%d", w.Code, env.Code, tt.wantHTTP, tt.wantCode)
			}
		})
	}
}

func TestCharacterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := service.NewCharacterService(newMemCharacters())
	NewCharacterHandler(svc, nil).RegisterRoutes(r.Group("/api/v1"), headerAuth(false), headerAuth(true))

	status, _ := do(t, r, http.MethodPost, "/api/v1/characters", 0, map[string]interface{}{"name": "Pirate", "systemPrompt": "Arr."})
	if status != http.StatusUnauthorized {
		t.Errorf("anonymous create: %d", status)
	}
	status, _ = do(t, r, http.MethodPost, "/api/v1/characters", 1, map[string]interface{}{"name": "Pirate"})
	if status != http.StatusBadRequest {
		t.Errorf("create without prompt: %d", status)
	}

	status, env := do(t, r, http.MethodPost, "/api/v1/characters", 1, map[string]interface{}{"name": "Pirate", "systemPrompt": "Talk like a pirate."})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, env.Message)
	}
	var created model.Character
	json.Unmarshal(env.Data, &created)
	path := fmt.Sprintf("/api/v1/characters/%d", created.ID)

	if status, _ := do(t, r, http.MethodGet, path, 2, nil); status != http.StatusUnauthorized {
		t.Errorf("private get by other user: %d", status)
	}
	if status, _ := do(t, r, http.MethodGet, path, 0, nil); status != http.StatusUnauthorized {
		t.Errorf("private get by guest: %d", status)
	}
	if status, _ := do(t, r, http.MethodGet, path, 1, nil); status != http.StatusOK {
		t.Errorf("private get by owner: %d", status)
	}
	if status, _ := do(t, r, http.MethodPut, path, 2, map[string]interface{}{"isPublic": true}); status != http.StatusUnauthorized {
		t.Errorf("update by other user: %d", status)
	}
	if status, _ := do(t, r, http.MethodGet, "/api/v1/characters/abc", 1, nil); status != http.StatusBadRequest {
		t.Errorf("bad id: %d", status)
	}
	if status, _ := do(t, r, http.MethodGet, "/api/v1/characters/999", 1, nil); status != http.StatusNotFound {
		t.Errorf("missing: %d", status)
	}

	status, env = do(t, r, http.MethodGet, "/api/v1/characters/me", 1, nil)
	if status != http.StatusOK || !bytes.Contains(env.Data, []byte("Pirate")) {
		t.Errorf("list mine: %d %s", status, env.Data)
	}

	if status, _ := do(t, r, http.MethodDelete, path, 1, nil); status != http.StatusOK {
		t.Errorf("delete by owner: %d", status)
	}
	if status, _ := do(t, r, http.MethodGet, path, 1, nil); status != http.StatusNotFound {
		t.Errorf("get after delete: %d", status)
	}
}

func TestChatRoutesRejectBadInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := service.NewChatService(nil, nil, nil, nil, nil, service.ChatServiceConfig{})
	NewChatHandler(svc).RegisterRoutes(r.Group("/api/v1"), headerAuth(false), headerAuth(true))

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"start without character", http.MethodPost, "/api/v1/chat", map[string]string{"message": "hi"}, http.StatusBadRequest},
		{"continue bad id", http.MethodPost, "/api/v1/chat/abc", map[string]string{"message": "hi"}, http.StatusBadRequest},
		{"list without identity", http.MethodGet, "/api/v1/chat", nil, http.StatusBadRequest},
		{"feedback bad seq", http.MethodPut, "/api/v1/chat/1/messages/x/feedback", map[string]int{"rating": 5}, http.StatusBadRequest},
		{"feedback bad rating", http.MethodPut, "/api/v1/chat/1/messages/2/feedback", map[string]int{"rating": 9}, http.StatusBadRequest},
		{"provider missing", http.MethodPut, "/api/v1/chat/1/provider", map[string]string{}, http.StatusBadRequest},
		{"share as guest", http.MethodPost, "/api/v1/chat/1/share?guestId=g1", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, env := do(t, r, tt.method, tt.path, 0, tt.body); status != tt.want {
				t.Errorf("status = %d (%s), want %d", status, env.Message, tt.want)
			}
		})
	}
}

func TestCallerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?guestId=g-1", nil)
	if got := callerFrom(c); got.UserID != 0 || got.GuestID != "g-1" {
		t.Errorf("guest caller = %+v", got)
	}

	c.Set("user_id", int64(5))
	if got := callerFrom(c); got.UserID != 5 || got.GuestID != "" {
		t.Errorf("user caller = %+v", got)
	}
}
