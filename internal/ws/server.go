package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/mafia/internal/auth"
	"example.com/mafia/internal/game"
	"example.com/mafia/internal/media"
	"example.com/mafia/internal/monitor"
	"example.com/mafia/internal/store"
)

// MessageStore is the persistence seam for chat relay.
type MessageStore interface {
	Create(ctx context.Context, m store.Message) error
}

type handlerFunc func(ctx context.Context, c *Client, payload json.RawMessage)

// Server owns the realtime side: it authenticates connections, dispatches
// client commands to the flow engine, keeps presence in sync with the media
// service, and fans results out through the hub.
type Server struct {
	log      *slog.Logger
	hub      *Hub
	presence *Presence
	games    *game.Service
	messages MessageStore
	media    media.Service
	verifier auth.Verifier
	mon      *monitor.Monitor

	handlers map[string]handlerFunc
	upgrader websocket.Upgrader
}

type Deps struct {
	Log      *slog.Logger
	Hub      *Hub
	Presence *Presence
	Games    *game.Service
	Messages MessageStore
	Media    media.Service
	Verifier auth.Verifier
	Monitor  *monitor.Monitor
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	s := &Server{
		log:      d.Log,
		hub:      d.Hub,
		presence: d.Presence,
		games:    d.Games,
		messages: d.Messages,
		media:    d.Media,
		verifier: d.Verifier,
		mon:      d.Monitor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// One flat table, one handler per command; each handler is an
	// independent unit taking the already-authenticated client plus its
	// raw payload.
	s.handlers = map[string]handlerFunc{
		EvRoomConnection:  s.handleRoomConnection,
		EvRoomLeave:       s.handleRoomLeave,
		EvMessageSend:     s.handleMessageSend,
		EvProposeForVote:  s.handleProposeForVote,
		EvCastVote:        s.handleCastVote,
		EvCastShoot:       s.handleCastShoot,
		EvStartDay:        s.handleStartDay,
		EvStartNight:      s.handleStartNight,
		EvStartVote:       s.handleStartVote,
		EvExtraSpeech:     s.handleExtraSpeech,
		EvUpdateSpeaker:   s.handleUpdateSpeaker,
		EvWakeUp:          s.handleWakeUp,
		EvNightAction:     s.handleNightAction,
		EvKillPlayer:      s.handleKillPlayer,
		EvUserVideoStatus: s.handleUserVideoStatus,
		EvUserAudioStatus: s.handleUserAudioStatus,
		EvToggleUserAudio: s.handleToggleUserAudio,
		EvToggleUserVideo: s.handleToggleUserVideo,
		EvMuteAll:         s.handleMuteAll,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWS)
}

// HandleWS authenticates and upgrades the connection, then runs the read
// loop. Each message handler runs to completion before the next message of
// this connection is read.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, claims.UserID, claims.Name)
	s.hub.Register(c)
	s.mon.ClientConnected()
	go c.writeLoop()

	s.log.Info("client connected", "userId", c.UserID, "clients", s.hub.ClientCount())
	s.hub.BroadcastAll(Envelope{
		Type:    EvConnection,
		Payload: mustJSON(ConnectionPayload{ConnectedUsers: s.hub.ClientCount()}),
	})

	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, "bad_json", "invalid json")
			continue
		}

		h, ok := s.handlers[env.Type]
		if !ok {
			s.sendError(c, "unknown_type", "unknown message type "+env.Type)
			continue
		}
		s.mon.EventReceived(env.Type)
		h(ctx, c, env.Payload)
	}

	s.disconnect(ctx, c)
}

// disconnect runs the abrupt-close cascade: presence cleanup always happens,
// media and game cleanup are best effort so one external failure cannot leak
// local state.
func (s *Server) disconnect(ctx context.Context, c *Client) {
	roomID, identity := s.hub.RoomOf(c)
	s.hub.Unregister(c)
	c.Close()
	s.mon.ClientDisconnected()
	s.mon.SetActiveRooms(s.hub.RoomCount())

	s.log.Info("client disconnected", "userId", c.UserID, "clients", s.hub.ClientCount())
	s.hub.BroadcastAll(Envelope{
		Type:    EvSocketDisconnect,
		Payload: mustJSON(ConnectionPayload{ConnectedUsers: s.hub.ClientCount()}),
	})

	if identity == "" {
		return
	}

	s.presence.Leave(identity)
	if err := s.media.RemoveParticipant(ctx, roomID, identity); err != nil {
		s.log.Warn("media remove participant failed", "room", roomID, "identity", identity, "err", err)
	}

	g, err := s.games.RemovePlayer(ctx, roomID, c.UserID)
	if err != nil {
		s.log.Warn("remove player on disconnect failed", "room", roomID, "userId", c.UserID, "err", err)
	}

	s.hub.BroadcastRoom(roomID, Envelope{
		Type: EvPeerDisconnect,
		Payload: mustJSON(RoomEventPayload{
			ParticipantIdentity: identity,
			Participants:        s.presence.Snapshot(roomID),
		}),
	})
	if g != nil {
		s.hub.BroadcastAll(Envelope{Type: EvGameUpdate, Payload: mustJSON(g)})
	}
}

func (s *Server) sendError(c *Client, code, msg string) {
	s.hub.SendTo(c, Envelope{Type: EvError, Payload: mustJSON(ErrorPayload{Code: code, Message: msg})})
}

// sendFailure maps an engine/media error onto a client error event. Failures
// go to the requester only, never the room.
func (s *Server) sendFailure(c *Client, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		s.sendError(c, "not_found", err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		s.sendError(c, "unauthorized", err.Error())
	case errors.Is(err, game.ErrValidation):
		s.sendError(c, "bad_input", err.Error())
	case errors.Is(err, game.ErrInvalidState):
		s.sendError(c, "invalid_state", err.Error())
	case errors.Is(err, game.ErrGameFull):
		s.sendError(c, "game_full", err.Error())
	case errors.Is(err, media.ErrService):
		s.sendError(c, "media_error", err.Error())
	default:
		s.sendError(c, "internal", "internal error")
	}
}

func decode[T any](s *Server, c *Client, payload json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		s.sendError(c, "bad_input", "invalid payload")
		return v, false
	}
	return v, true
}

// NotifyGameUpdate lets the REST layer announce lobby mutations to every
// connected client, matching what socket commands do after a store change.
func (s *Server) NotifyGameUpdate(g *game.Game) {
	if g == nil {
		return
	}
	s.hub.BroadcastAll(Envelope{Type: EvGameUpdate, Payload: mustJSON(g)})
}

func (s *Server) broadcastFlow(roomID string, g *game.Game) {
	s.hub.BroadcastRoom(roomID, Envelope{Type: EvGameFlowUpdate, Payload: mustJSON(g)})
}

func (s *Server) broadcastStreams(roomID string) {
	s.hub.BroadcastRoom(roomID, Envelope{
		Type:    EvUserStreamStatus,
		Payload: mustJSON(RoomEventPayload{Participants: s.presence.Snapshot(roomID)}),
	})
}

func (s *Server) handleRoomConnection(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[RoomConnectionPayload](s, c, payload)
	if !ok {
		return
	}
	if p.RoomID == "" || p.ParticipantIdentity == "" {
		s.sendError(c, "bad_input", "roomId and participantIdentity are required")
		return
	}

	if err := s.games.VerifyPassword(ctx, p.RoomID, p.Password); err != nil {
		s.sendFailure(c, err)
		return
	}

	g, err := s.games.AddPlayer(ctx, p.RoomID, c.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}

	s.hub.JoinRoom(c, p.RoomID, p.ParticipantIdentity)
	s.presence.Join(p.RoomID, c.UserID, p.ParticipantIdentity)
	s.mon.SetActiveRooms(s.hub.RoomCount())

	s.log.Info("user joined room", "room", p.RoomID, "userId", c.UserID)
	s.hub.BroadcastRoom(p.RoomID, Envelope{
		Type: EvRoomConnection,
		Payload: mustJSON(RoomEventPayload{
			ParticipantIdentity: p.ParticipantIdentity,
			Participants:        s.presence.Snapshot(p.RoomID),
		}),
	})
	s.hub.BroadcastAll(Envelope{Type: EvGameUpdate, Payload: mustJSON(g)})
}

func (s *Server) handleRoomLeave(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[RoomLeavePayload](s, c, payload)
	if !ok {
		return
	}
	roomID, identity := s.hub.RoomOf(c)
	if roomID == "" {
		return
	}
	if p.RoomID != "" && p.RoomID != roomID {
		s.sendError(c, "bad_input", "not joined to that room")
		return
	}

	s.hub.LeaveRoom(c)
	s.presence.Leave(identity)
	s.mon.SetActiveRooms(s.hub.RoomCount())

	g, err := s.games.RemovePlayer(ctx, roomID, c.UserID)
	if err != nil {
		s.log.Warn("remove player on leave failed", "room", roomID, "userId", c.UserID, "err", err)
	}

	s.hub.BroadcastRoom(roomID, Envelope{
		Type: EvPeerDisconnect,
		Payload: mustJSON(RoomEventPayload{
			ParticipantIdentity: identity,
			Participants:        s.presence.Snapshot(roomID),
		}),
	})
	if g != nil {
		s.hub.BroadcastAll(Envelope{Type: EvGameUpdate, Payload: mustJSON(g)})
	}
}

func (s *Server) handleMessageSend(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[MessageSendPayload](s, c, payload)
	if !ok {
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		s.sendError(c, "bad_input", "text is required")
		return
	}
	switch p.To.Type {
	case "all":
	case "room", "user":
		if p.To.ID == "" {
			s.sendError(c, "bad_input", "to.id is required for "+p.To.Type+" messages")
			return
		}
	default:
		s.sendError(c, "bad_input", "to.type must be all, room or user")
		return
	}

	msg := store.Message{
		ID:        uuid.NewString(),
		Sender:    c.UserID,
		To:        p.To,
		Text:      p.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		s.log.Error("persist message failed", "err", err)
		s.sendError(c, "internal", "failed to save message")
		return
	}

	env := Envelope{Type: EvMessageSend, Payload: mustJSON(msg)}
	switch p.To.Type {
	case "all":
		s.hub.BroadcastAll(env)
	case "room":
		s.hub.BroadcastRoom(p.To.ID, env)
	case "user":
		s.hub.SendToUser(p.To.ID, env)
		if p.To.ID != c.UserID {
			s.hub.SendTo(c, env)
		}
	}
}

func (s *Server) handleProposeForVote(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[TargetPayload](s, c, payload)
	if !ok {
		return
	}
	g, err := s.games.Propose(ctx, p.GameID, p.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleCastVote(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[VotePayload](s, c, payload)
	if !ok {
		return
	}
	g, err := s.games.Vote(ctx, p.GameID, p.TargetID, c.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleCastShoot(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[VotePayload](s, c, payload)
	if !ok {
		return
	}
	g, err := s.games.Shoot(ctx, p.GameID, p.TargetID, c.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleStartDay(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[GamePayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.StartDay(ctx, p.GameID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.presence.DayReset(p.GameID)
	s.broadcastFlow(p.GameID, g)
	s.broadcastStreams(p.GameID)
}

func (s *Server) handleStartNight(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[GamePayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.StartNight(ctx, p.GameID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.presence.NightReset(p.GameID)
	s.broadcastFlow(p.GameID, g)
	s.broadcastStreams(p.GameID)
}

func (s *Server) handleStartVote(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[StartVotePayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.StartVote(ctx, p.GameID, p.ReVote)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleExtraSpeech(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[ExtraSpeechPayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.SetExtraSpeech(ctx, p.GameID, p.Enabled)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleUpdateSpeaker(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[TargetPayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.SetSpeaker(ctx, p.GameID, p.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.presence.SetSpeaker(p.GameID, p.UserID)
	s.broadcastFlow(p.GameID, g)
	s.broadcastStreams(p.GameID)
}

func (s *Server) handleWakeUp(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[WakeUpPayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.SetWakeUp(ctx, p.GameID, p.Users)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.presence.WakeUp(p.GameID, p.Users, g.GM)
	s.broadcastFlow(p.GameID, g)
	s.broadcastStreams(p.GameID)
}

func (s *Server) handleNightAction(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[NightActionPayload](s, c, payload)
	if !ok {
		return
	}
	g, err := s.games.NightAction(ctx, p.GameID, p.Action, p.TargetID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleKillPlayer(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[TargetPayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}
	g, err := s.games.RecordKill(ctx, p.GameID, p.UserID)
	if err != nil {
		s.sendFailure(c, err)
		return
	}
	s.broadcastFlow(p.GameID, g)
}

func (s *Server) handleUserVideoStatus(ctx context.Context, c *Client, payload json.RawMessage) {
	s.handleTrackStatus(c, payload, true)
}

func (s *Server) handleUserAudioStatus(ctx context.Context, c *Client, payload json.RawMessage) {
	s.handleTrackStatus(c, payload, false)
}

func (s *Server) handleTrackStatus(c *Client, payload json.RawMessage, video bool) {
	p, ok := decode[TrackStatusPayload](s, c, payload)
	if !ok {
		return
	}
	// The snapshot goes to the room the participant is actually in; the
	// payload's roomId is client-reported and cannot redirect the broadcast.
	entry, found := s.presence.Get(p.ParticipantIdentity)
	if !found {
		s.sendError(c, "not_found", "unknown participant "+p.ParticipantIdentity)
		return
	}
	reason := p.OffReason
	if reason == OffReasonNone {
		reason = OffReasonSelf
	}
	s.presence.SetTrack(p.ParticipantIdentity, video, p.Enabled, reason)
	s.broadcastStreams(entry.RoomID)
}

func (s *Server) handleToggleUserAudio(ctx context.Context, c *Client, payload json.RawMessage) {
	s.handleToggle(ctx, c, payload, media.TrackMicrophone)
}

func (s *Server) handleToggleUserVideo(ctx context.Context, c *Client, payload json.RawMessage) {
	s.handleToggle(ctx, c, payload, media.TrackCamera)
}

func (s *Server) handleToggle(ctx context.Context, c *Client, payload json.RawMessage, kind media.TrackKind) {
	p, ok := decode[TogglePayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.Authorize(ctx, p.GameID, c.UserID, p.TargetUserID); err != nil {
		s.sendFailure(c, err)
		return
	}

	target, ok := s.presence.FindByUser(p.GameID, p.TargetUserID)
	if !ok {
		s.sendError(c, "not_found", "participant not in room")
		return
	}
	if err := s.media.MuteTrack(ctx, p.GameID, target.Identity, kind, !p.Enabled); err != nil {
		s.sendFailure(c, err)
		return
	}

	reason := OffReasonSelf
	if c.UserID != p.TargetUserID {
		reason = OffReasonModerator
	}
	s.presence.SetTrack(target.Identity, kind == media.TrackCamera, p.Enabled, reason)
	s.broadcastStreams(p.GameID)
}

// handleMuteAll turns every non-moderator microphone in the room off. Media
// failures for individual participants are logged and skipped so one flaky
// track cannot block the rest of the room.
func (s *Server) handleMuteAll(ctx context.Context, c *Client, payload json.RawMessage) {
	p, ok := decode[GamePayload](s, c, payload)
	if !ok {
		return
	}
	if err := s.games.AuthorizeGM(ctx, p.GameID, c.UserID); err != nil {
		s.sendFailure(c, err)
		return
	}

	for _, participant := range s.presence.Snapshot(p.GameID) {
		if participant.UserID == c.UserID {
			continue
		}
		if err := s.media.MuteTrack(ctx, p.GameID, participant.Identity, media.TrackMicrophone, true); err != nil {
			s.log.Warn("mute all: media mute failed", "identity", participant.Identity, "err", err)
		}
		s.presence.SetTrack(participant.Identity, false, false, OffReasonModerator)
	}
	s.broadcastStreams(p.GameID)
}
