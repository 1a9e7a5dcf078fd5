package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func writeJSON(w http.ResponseWriter, status int, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": http.StatusText(status),
		"data":    data,
	})
}

func TestGuestRequestsCarryGuestID(t *testing.T) {
	var gotGuest, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGuest = r.URL.Query().Get("guestId")
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, 0, map[string]interface{}{
			"chats": []map[string]interface{}{{"id": 3, "title": "hello"}},
			"total": 1,
		})
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL).WithGuest("g-1").ListChats(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if gotGuest != "g-1" || gotAuth != "" {
		t.Errorf("guest = %q, auth = %q", gotGuest, gotAuth)
	}
	if list.Total != 1 || len(list.Chats) != 1 || list.Chats[0].ID != 3 {
		t.Errorf("list = %+v", list)
	}

	// 登录用户不带 guestId
	if _, err := NewClient(srv.URL).WithGuest("g-1").WithAuth("tok").ListChats(context.Background(), 1, 20); err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if gotGuest != "" || gotAuth != "Bearer tok" {
		t.Errorf("guest = %q, auth = %q", gotGuest, gotAuth)
	}
}

func TestErrorStatusIsExposed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, 1302, nil)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).WithGuest("g").SendMessage(context.Background(), 7, "hi")
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("err = %v, want 409", err)
	}
	apiErr, ok := err.(*Error)
	if !ok || apiErr.Code != 1302 {
		t.Errorf("err = %#v", err)
	}
}

func TestExpiredTokenIsRefreshedOnce(t *testing.T) {
	var chatCalls, refreshCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/refresh":
			refreshCalls++
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refresh_token"] != "refresh" {
				writeJSON(w, http.StatusUnauthorized, 1001, nil)
				return
			}
			writeJSON(w, http.StatusOK, 0, map[string]interface{}{"access_token": "fresh", "expires_in": 3600})
		case "/api/v1/chat/5":
			chatCalls++
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeJSON(w, http.StatusUnauthorized, 1001, nil)
				return
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, 0, map[string]interface{}{
				"chatId": 5,
				"reply":  map[string]interface{}{"seq": 2, "role": "assistant", "content": "echo " + body["message"]},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var saved string
	client := NewClient(srv.URL).WithAuth("stale").WithRefresh("refresh", func(token string) error {
		saved = token
		return nil
	})

	turn, err := client.SendMessage(context.Background(), 5, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if turn.Reply == nil || turn.Reply.Content != "echo hello" {
		t.Errorf("reply = %+v", turn.Reply)
	}
	if chatCalls != 2 || refreshCalls != 1 || saved != "fresh" {
		t.Errorf("chat calls = %d, refresh calls = %d, saved = %q", chatCalls, refreshCalls, saved)
	}
}

func TestRefreshFailureReturnsOriginalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, 1001, nil)
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithAuth("stale").WithRefresh("bad", nil)
	_, err := client.GetChat(context.Background(), 1)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("err = %v, want 401", err)
	}
}
