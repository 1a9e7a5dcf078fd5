package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"persona-chat/internal/model"
	"persona-chat/pkg/jwt"
	"persona-chat/pkg/util"
)

type revoked map[string]bool

func (r revoked) IsTokenBlacklisted(_ context.Context, hash string) bool {
	return r[hash]
}

type recordingBus struct {
	mu     sync.Mutex
	events map[int64][]interface{}
}

func (b *recordingBus) PublishUserEvent(_ context.Context, userID int64, event interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = map[int64][]interface{}{}
	}
	b.events[userID] = append(b.events[userID], event)
	return nil
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, hub *Hub, blacklist TokenChecker) (*httptest.Server, *jwt.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := jwt.NewJWTService("ws-secret", time.Hour, time.Hour)
	r := gin.New()
	NewHandler(hub, jwtSvc, blacklist).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, jwtSvc
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHandleWSRejectsBadTokens(t *testing.T) {
	hub := NewHub(nil)
	blacklist := revoked{}
	srv, jwtSvc := newTestServer(t, hub, blacklist)

	token, _ := jwtSvc.GenerateAccessToken(1, "alice")
	refresh, _ := jwtSvc.GenerateRefreshToken(1, "alice")
	blacklist[util.HashToken(token)] = true

	for name, query := range map[string]string{
		"missing": "",
		"garbage": "?token=abc",
		"refresh": "?token=" + refresh,
		"revoked": "?token=" + token,
	} {
		resp, err := http.Get(srv.URL + "/ws" + query)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", name, resp.StatusCode)
		}
	}
}

func TestChatMessageDeliveredToOwner(t *testing.T) {
	hub := NewHub(nil)
	srv, jwtSvc := newTestServer(t, hub, nil)

	token, _ := jwtSvc.GenerateAccessToken(7, "alice")
	conn := dial(t, srv, token)
	other, _ := jwtSvc.GenerateAccessToken(8, "bob")
	otherConn := dial(t, srv, other)
	waitFor(t, func() bool { return hub.ClientCount(7) == 1 && hub.ClientCount(8) == 1 })

	hub.NotifyChatMessage(7, 3,
		&model.Message{ChatID: 3, Seq: 3, Role: model.MessageRoleUser, Content: "hello"},
		&model.Message{ChatID: 3, Seq: 4, Role: model.MessageRoleAssistant, Content: "hi there"},
	)

	msg := readMessage(t, conn)
	if msg.Type != TypeChatMessage {
		t.Fatalf("type = %q", msg.Type)
	}
	var payload ChatMessagePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.ChatID != 3 || payload.Reply.Content != "hi there" || payload.Message.Seq != 3 {
		t.Errorf("payload = %+v", payload)
	}

	// 其他用户收不到
	otherConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := otherConn.ReadMessage(); err == nil {
		t.Error("other user received an event")
	}
}

func TestHeartbeatAndUnregister(t *testing.T) {
	hub := NewHub(nil)
	srv, jwtSvc := newTestServer(t, hub, nil)

	token, _ := jwtSvc.GenerateAccessToken(7, "alice")
	conn := dial(t, srv, token)
	waitFor(t, func() bool { return hub.ClientCount(7) == 1 })

	if err := conn.WriteJSON(NewMessage(TypeHeartbeat, nil)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Errorf("type = %q", msg.Type)
	}

	if err := conn.WriteJSON(NewMessage("session:create", nil)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypeError {
		t.Errorf("unknown type answered with %q", msg.Type)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount(7) == 0 })
}

func TestRunDeliversSubscribedEvents(t *testing.T) {
	hub := NewHub(nil)
	srv, jwtSvc := newTestServer(t, hub, nil)

	token, _ := jwtSvc.GenerateAccessToken(5, "carol")
	conn := dial(t, srv, token)
	waitFor(t, func() bool { return hub.ClientCount(5) == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan *redis.Message, 2)
	go hub.Run(ctx, events)

	events <- &redis.Message{Channel: "chat:5:turn_lock", Payload: `{"type":"ignored"}`}
	events <- &redis.Message{Channel: "user:5:events", Payload: `{"type":"memory:updated","payload":{"characterId":2}}`}

	msg := readMessage(t, conn)
	if msg.Type != TypeMemoryUpdated {
		t.Fatalf("type = %q", msg.Type)
	}
	var payload MemoryUpdatedPayload
	json.Unmarshal(msg.Payload, &payload)
	if payload.CharacterID != 2 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestNotifyPublishesThroughBus(t *testing.T) {
	bus := &recordingBus{}
	hub := NewHub(bus)

	hub.NotifyMemoryUpdated(4, &model.UserCharacterRelation{UserID: 4, CharacterID: 9, Profile: "likes history", Topics: []string{"rome"}})
	hub.NotifyMemoryUpdated(4, nil)

	if len(bus.events[4]) != 1 {
		t.Fatalf("events = %v", bus.events)
	}
	msg := bus.events[4][0].(*Message)
	payload := msg.Payload.(*MemoryUpdatedPayload)
	if msg.Type != TypeMemoryUpdated || payload.CharacterID != 9 || payload.Topics[0] != "rome" {
		t.Errorf("message = %+v", msg)
	}
}
