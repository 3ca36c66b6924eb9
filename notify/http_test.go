package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tutorly "github.com/tutorly/tutorly-go"
)

func newTestAPI(t *testing.T) (*API, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2"} {
		store.Insert(context.Background(), tutorly.Notification{
			ID: id, UserID: "amy", Type: tutorly.NotificationNewMessage, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return NewAPI(store, hubSecret, nil), store
}

func authedRequest(t *testing.T, method, target, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		token, err := IssueToken(hubSecret, userID, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAPI(t *testing.T) {
	t.Run("requires a credential", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications", ""))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications?limit=1", "amy"))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var list []tutorly.Notification
		json.NewDecoder(w.Body).Decode(&list)
		if len(list) != 1 || list[0].ID != "n2" {
			t.Fatalf("unexpected list %+v", list)
		}
	})

	t.Run("empty list is an array", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications", "bob"))
		if body := w.Body.String(); body != "[]\n" {
			t.Fatalf("body = %q", body)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications?limit=x", "amy"))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("mark read", func(t *testing.T) {
		api, store := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodPatch, "/api/notifications/n1/read", "amy"))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		list, _ := store.List(context.Background(), "amy", 0)
		if !list[1].IsRead || list[0].IsRead {
			t.Errorf("unexpected flags %+v", list)
		}
	})

	t.Run("mark read of someone else's notification", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodPatch, "/api/notifications/n1/read", "bob"))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("read all", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodPatch, "/api/notifications/read-all", "amy"))
		var res map[string]int
		json.NewDecoder(w.Body).Decode(&res)
		if w.Code != http.StatusOK || res["updated"] != 2 {
			t.Fatalf("got %d %v", w.Code, res)
		}
	})

	t.Run("wrong method and unknown path", func(t *testing.T) {
		api, _ := newTestAPI(t)
		w := httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/notifications", "amy"))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
		w = httptest.NewRecorder()
		api.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications/n1/archive", "amy"))
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}
