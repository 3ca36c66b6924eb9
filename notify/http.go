package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	tutorly "github.com/tutorly/tutorly-go"
)

const notificationsPath = "/api/notifications"

// API serves the notification read endpoints for the authenticated user:
//
//	GET   /api/notifications
//	PATCH /api/notifications/{id}/read
//	PATCH /api/notifications/read-all
type API struct {
	store  Store
	secret []byte
	logger *zap.Logger
}

func NewAPI(store Store, secret []byte, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: store, secret: secret, logger: logger}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := authenticate(a.secret, r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, notificationsPath), "/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		a.list(w, r, claims.UserID)
	case rest == "read-all" && r.Method == http.MethodPatch:
		a.markAllRead(w, r, claims.UserID)
	case strings.HasSuffix(rest, "/read") && r.Method == http.MethodPatch:
		id := strings.TrimSuffix(rest, "/read")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.markRead(w, r, claims.UserID, id)
	case rest == "" || rest == "read-all" || strings.HasSuffix(rest, "/read"):
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (a *API) list(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := a.store.List(r.Context(), userID, limit)
	if err != nil {
		a.logger.Error("list_notifications_failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []tutorly.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request, userID, id string) {
	err := a.store.MarkRead(r.Context(), userID, id)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		a.logger.Error("mark_read_failed", zap.String("user_id", userID), zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := a.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		a.logger.Error("mark_all_read_failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
