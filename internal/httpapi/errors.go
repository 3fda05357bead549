package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/mafia/internal/game"
	"example.com/mafia/internal/media"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, ErrorResponse{Code: errCode, Message: msg})
}

// writeGameError maps the engine's failure taxonomy onto HTTP statuses.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, game.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, game.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, game.ErrGameFull):
		writeError(w, http.StatusBadRequest, "game_full", err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, media.ErrService):
		writeError(w, http.StatusBadGateway, "media_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
