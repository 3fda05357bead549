package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"example.com/mafia/internal/game"
)

// Notifier pushes store-changing REST results to every connected realtime
// client, the same way socket commands broadcast their results.
type Notifier interface {
	NotifyGameUpdate(g *game.Game)
}

type noopNotifier struct{}

func (noopNotifier) NotifyGameUpdate(*game.Game) {}

// GameHandler is the thin REST adapter over the flow engine. Handlers only
// decode/validate, call one engine operation and translate the outcome;
// every state-changing success is also announced through the Notifier.
type GameHandler struct {
	Games  *game.Service
	Notify Notifier
}

func (h *GameHandler) notify(g *game.Game) {
	n := h.Notify
	if n == nil {
		n = noopNotifier{}
	}
	n.NotifyGameUpdate(g)
}

func (h *GameHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler { return requireAuth(fn) }

	mux.Handle("GET /api/games", wrap(h.List))
	mux.Handle("POST /api/games", wrap(h.Create))
	mux.Handle("GET /api/games/{id}", wrap(h.Get))
	mux.Handle("PATCH /api/games/{id}", wrap(h.Update))
	mux.Handle("POST /api/games/{id}/players", wrap(h.AddPlayer))
	mux.Handle("DELETE /api/games/{id}/players/{userId}", wrap(h.RemovePlayer))
	mux.Handle("POST /api/games/{id}/roles", wrap(h.AssignRoles))
	mux.Handle("POST /api/games/{id}/start", wrap(h.Start))
	mux.Handle("POST /api/games/{id}/finish", wrap(h.Finish))
	mux.Handle("POST /api/games/{id}/restart", wrap(h.Restart))
	mux.Handle("POST /api/games/{id}/day", wrap(h.StartDay))
	mux.Handle("POST /api/games/{id}/night", wrap(h.StartNight))
	mux.Handle("POST /api/games/{id}/password/verify", wrap(h.VerifyPassword))
	mux.Handle("POST /api/games/{id}/propose", wrap(h.Propose))
	mux.Handle("POST /api/games/{id}/vote", wrap(h.Vote))
	mux.Handle("POST /api/games/{id}/shoot", wrap(h.Shoot))
}

func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	games, err := h.Games.List(r.Context())
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.Games.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params game.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	// The authenticated user owns the game; they moderate it too unless
	// the request names someone else.
	userID, _ := UserIDFromContext(r.Context())
	params.Owner = userID
	if params.GM == "" {
		params.GM = userID
	}

	g, err := h.Games.Create(r.Context(), params)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch game.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	g, err := h.Games.UpdateConfig(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) AddPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.UserID == "" {
		req.UserID, _ = UserIDFromContext(r.Context())
	}
	g, err := h.Games.AddPlayer(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	g, err := h.Games.RemovePlayer(r.Context(), r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) AssignRoles(w http.ResponseWriter, r *http.Request) {
	if !h.requireGM(w, r) {
		return
	}
	var ra game.RoleAssignment
	if err := json.NewDecoder(r.Body).Decode(&ra); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	g, err := h.Games.AssignRoles(r.Context(), r.PathValue("id"), ra)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Games.Start)
}

func (h *GameHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Games.Finish)
}

func (h *GameHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Games.Restart)
}

func (h *GameHandler) StartDay(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Games.StartDay)
}

func (h *GameHandler) StartNight(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Games.StartNight)
}

func (h *GameHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*game.Game, error)) {
	if !h.requireGM(w, r) {
		return
	}
	g, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) requireGM(w http.ResponseWriter, r *http.Request) bool {
	userID, _ := UserIDFromContext(r.Context())
	if err := h.Games.AuthorizeGM(r.Context(), r.PathValue("id"), userID); err != nil {
		writeGameError(w, err)
		return false
	}
	return true
}

func (h *GameHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := h.Games.VerifyPassword(r.Context(), r.PathValue("id"), req.Password); err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *GameHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	g, err := h.Games.Propose(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetID string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	voterID, _ := UserIDFromContext(r.Context())
	g, err := h.Games.Vote(r.Context(), r.PathValue("id"), req.TargetID, voterID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}

func (h *GameHandler) Shoot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetID string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	shooterID, _ := UserIDFromContext(r.Context())
	g, err := h.Games.Shoot(r.Context(), r.PathValue("id"), req.TargetID, shooterID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	h.notify(g)
	writeJSON(w, http.StatusOK, g)
}
