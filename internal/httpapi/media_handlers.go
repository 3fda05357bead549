package httpapi

import (
	"encoding/json"
	"net/http"

	"example.com/mafia/internal/media"
)

type MediaHandler struct {
	Media media.Service
}

func (h *MediaHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("POST /api/media/token", requireAuth(http.HandlerFunc(h.Token)))
}

type mediaTokenRequest struct {
	RoomID   string `json:"roomId"`
	Metadata string `json:"metadata"`
}

type mediaTokenResponse struct {
	Token string `json:"token"`
}

// Token ensures the media room exists and mints a join token bound to the
// authenticated user.
func (h *MediaHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req mediaTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "roomId is required")
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	if err := h.Media.CreateRoom(r.Context(), req.RoomID); err != nil {
		writeGameError(w, err)
		return
	}
	token, err := h.Media.JoinToken(req.RoomID, userID, req.Metadata)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mediaTokenResponse{Token: token})
}
