package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"example.com/mafia/internal/store"
)

// Messages is the read side of chat history.
type Messages interface {
	ListRoom(ctx context.Context, roomID string, limit int64) ([]store.Message, error)
	ListPublic(ctx context.Context, limit int64) ([]store.Message, error)
	ListPrivate(ctx context.Context, userA, userB string, limit int64) ([]store.Message, error)
}

type MessageHandler struct {
	Messages Messages
}

func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/messages", requireAuth(http.HandlerFunc(h.List)))
}

// List returns chat history, oldest first. Without roomId or withUser it
// serves the global feed; withUser selects the direct-message history
// between the caller and that user.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	roomID := r.URL.Query().Get("roomId")
	withUser := r.URL.Query().Get("withUser")
	if roomID != "" && withUser != "" {
		writeError(w, http.StatusBadRequest, "bad_request", "roomId and withUser are mutually exclusive")
		return
	}

	var msgs []store.Message
	var err error
	switch {
	case roomID != "":
		msgs, err = h.Messages.ListRoom(r.Context(), roomID, limit)
	case withUser != "":
		caller, ok := UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		msgs, err = h.Messages.ListPrivate(r.Context(), caller, withUser, limit)
	default:
		msgs, err = h.Messages.ListPublic(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
