package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/mafia/internal/auth"
	"example.com/mafia/internal/game"
	"example.com/mafia/internal/media"
	"example.com/mafia/internal/store"
)

// testVerifier treats the raw token as the user id.
type testVerifier struct{}

func (testVerifier) Verify(token string) (*auth.Claims, error) {
	if token == "" || token == "bad" {
		return nil, errors.New("invalid token")
	}
	return &auth.Claims{UserID: token, Name: token}, nil
}

type fakeMedia struct {
	mu      sync.Mutex
	muted   []string
	removed []string
	failFor string
}

func (f *fakeMedia) CreateRoom(ctx context.Context, room string) error { return nil }

func (f *fakeMedia) JoinToken(room, identity, metadata string) (string, error) {
	return "token", nil
}

func (f *fakeMedia) ListParticipants(ctx context.Context, room string) ([]media.ParticipantInfo, error) {
	return nil, nil
}

func (f *fakeMedia) MuteTrack(ctx context.Context, room, identity string, kind media.TrackKind, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if identity == f.failFor {
		return media.ErrService
	}
	f.muted = append(f.muted, identity)
	return nil
}

func (f *fakeMedia) RemoveParticipant(ctx context.Context, room, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, identity)
	return nil
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []store.Message
}

func (f *fakeMessages) Create(_ context.Context, m store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

type wsFixture struct {
	srv   *httptest.Server
	games *game.Service
	media *fakeMedia
	msgs  *fakeMessages
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	fm := &fakeMedia{}
	msgs := &fakeMessages{}
	games := game.NewService(store.NewMemoryGameStore(), game.Timers{SpeakTime: 60, VotesTime: 30})

	s := NewServer(Deps{
		Log:      slog.New(slog.DiscardHandler),
		Hub:      NewHub(),
		Presence: NewPresence(),
		Games:    games,
		Messages: msgs,
		Media:    fm,
		Verifier: testVerifier{},
	})
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &wsFixture{srv: srv, games: games, media: fm, msgs: msgs}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *wsFixture) createGame(t *testing.T, gm string) *game.Game {
	t.Helper()
	g, err := f.games.Create(context.Background(), game.CreateParams{
		Name: "test", Owner: gm, GM: gm, MaxPlayers: 10, MafiaCount: 2, GameType: "classic",
	})
	require.NoError(t, err)
	return g
}

func send(t *testing.T, conn *websocket.Conn, evType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: evType, Payload: raw}))
}

// waitFor reads frames until one of the wanted type arrives, skipping
// interleaved broadcasts.
func waitFor(t *testing.T, conn *websocket.Conn, evType string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", evType)
		if env.Type == evType {
			return env.Payload
		}
	}
}

func TestHandleWS_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	for _, url := range []string{
		"ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws",
		"ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=bad",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestWS_ConnectionCountBroadcast(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t, "alice")
	var p ConnectionPayload
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvConnection), &p))
	assert.Equal(t, 1, p.ConnectedUsers)

	f.dial(t, "bob")
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvConnection), &p))
	assert.Equal(t, 2, p.ConnectedUsers)
}

func TestWS_RoomConnectionFlow(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})

	var room RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvRoomConnection), &room))
	assert.Equal(t, "gm-1", room.ParticipantIdentity)
	require.Len(t, room.Participants, 1)
	assert.True(t, room.Participants[0].Audio)

	var updated game.Game
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameUpdate), &updated))
	assert.Equal(t, []string{"gm"}, updated.Players)

	// Second participant: the whole room hears about it.
	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})

	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvRoomConnection), &room))
	assert.Equal(t, "bob-1", room.ParticipantIdentity)
	assert.Len(t, room.Participants, 2)
}

func TestWS_UnknownTypeAndBadJSON(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvError), &e))
	assert.Equal(t, "bad_json", e.Code)

	send(t, conn, "teleport", GamePayload{})
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvError), &e))
	assert.Equal(t, "unknown_type", e.Code)
}

func TestWS_PhaseTransitions(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, bob, EvGameUpdate)

	// Only the moderator may switch phases.
	send(t, bob, EvStartNight, GamePayload{GameID: g.ID})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvError), &e))
	assert.Equal(t, "unauthorized", e.Code)

	send(t, gm, EvStartNight, GamePayload{GameID: g.ID})

	var flow game.Game
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.True(t, flow.Flow.IsNight)

	var streams RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvUserStreamStatus), &streams))
	require.Len(t, streams.Participants, 2)
	for _, participant := range streams.Participants {
		assert.False(t, participant.Video, participant.Identity)
		assert.Equal(t, OffReasonPhase, participant.OffReason)
	}

	send(t, gm, EvStartDay, GamePayload{GameID: g.ID})
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvGameFlowUpdate), &flow))
	assert.False(t, flow.Flow.IsNight)
	assert.Equal(t, 1, flow.Flow.Day)
}

func TestWS_VotingRound(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, bob, EvGameUpdate)

	send(t, gm, EvProposeForVote, TargetPayload{GameID: g.ID, UserID: "bob"})
	var flow game.Game
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.Equal(t, []string{"bob"}, flow.Flow.Proposed)

	send(t, gm, EvStartVote, StartVotePayload{GameID: g.ID})
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.True(t, flow.Flow.IsVote)

	send(t, gm, EvExtraSpeech, ExtraSpeechPayload{GameID: g.ID, Enabled: true})
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.True(t, flow.Flow.IsExtraSpeech)

	// The vote is attributed to the sender, not the payload.
	send(t, bob, EvCastVote, VotePayload{GameID: g.ID, TargetID: "bob"})
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.Equal(t, []string{"bob"}, flow.Flow.Voted["bob"])

	send(t, gm, EvKillPlayer, TargetPayload{GameID: g.ID, UserID: "bob"})
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameFlowUpdate), &flow))
	assert.Equal(t, []string{"bob"}, flow.Flow.Killed)
}

func TestWS_MessageSend(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	send(t, gm, EvMessageSend, MessageSendPayload{
		To:   store.MessageTarget{Type: "room", ID: g.ID},
		Text: "good evening, city",
	})

	var msg store.Message
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvMessageSend), &msg))
	assert.Equal(t, "gm", msg.Sender)
	assert.Equal(t, "good evening, city", msg.Text)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), msg.CreatedAt, time.Minute)

	f.msgs.mu.Lock()
	defer f.msgs.mu.Unlock()
	require.Len(t, f.msgs.msgs, 1)
	// History sorts by createdAt, a zero timestamp would break ordering.
	assert.False(t, f.msgs.msgs[0].CreatedAt.IsZero())

	// Empty text never reaches the store.
	send(t, gm, EvMessageSend, MessageSendPayload{To: store.MessageTarget{Type: "all"}, Text: "   "})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvError), &e))
	assert.Equal(t, "bad_input", e.Code)
}

func TestWS_DirectMessage(t *testing.T) {
	f := newFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	carol := f.dial(t, "carol")

	send(t, alice, EvMessageSend, MessageSendPayload{
		To:   store.MessageTarget{Type: "user", ID: "bob"},
		Text: "psst",
	})

	var msg store.Message
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvMessageSend), &msg))
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.To.ID)
	assert.Equal(t, "psst", msg.Text)

	// The sender sees their own message too.
	require.NoError(t, json.Unmarshal(waitFor(t, alice, EvMessageSend), &msg))
	assert.Equal(t, "psst", msg.Text)

	// Carol never gets the direct message: the first message she sees is
	// the later global one.
	send(t, alice, EvMessageSend, MessageSendPayload{
		To:   store.MessageTarget{Type: "all"},
		Text: "hello everyone",
	})
	require.NoError(t, json.Unmarshal(waitFor(t, carol, EvMessageSend), &msg))
	assert.Equal(t, "hello everyone", msg.Text)

	// A user target without an id is rejected.
	send(t, alice, EvMessageSend, MessageSendPayload{
		To:   store.MessageTarget{Type: "user"},
		Text: "to nobody",
	})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, alice, EvError), &e))
	assert.Equal(t, "bad_input", e.Code)

	f.msgs.mu.Lock()
	defer f.msgs.mu.Unlock()
	require.Len(t, f.msgs.msgs, 2)
	assert.Equal(t, "user", f.msgs.msgs[0].To.Type)
}

func TestWS_TrackStatusIgnoresReportedRoom(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, bob, EvGameUpdate)

	// The payload names a room bob is not in; the snapshot still reaches
	// the room he actually joined.
	send(t, bob, EvUserAudioStatus, TrackStatusPayload{
		ParticipantIdentity: "bob-1",
		RoomID:              "some-other-room",
		Enabled:             false,
	})

	var streams RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvUserStreamStatus), &streams))
	require.Len(t, streams.Participants, 2)
	for _, participant := range streams.Participants {
		if participant.Identity == "bob-1" {
			assert.False(t, participant.Audio)
			assert.Equal(t, OffReasonSelf, participant.OffReason)
		}
	}

	// An identity nobody registered is an error back to the sender.
	send(t, bob, EvUserAudioStatus, TrackStatusPayload{ParticipantIdentity: "ghost-1", Enabled: false})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvError), &e))
	assert.Equal(t, "not_found", e.Code)
}

func TestWS_ModeratorMute(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, bob, EvGameUpdate)

	// Bob cannot mute the moderator.
	send(t, bob, EvToggleUserAudio, TogglePayload{GameID: g.ID, TargetUserID: "gm", Enabled: false})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvError), &e))
	assert.Equal(t, "unauthorized", e.Code)

	// The moderator mutes bob; presence records it as a moderator mute.
	send(t, gm, EvToggleUserAudio, TogglePayload{GameID: g.ID, TargetUserID: "bob", Enabled: false})
	var streams RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, EvUserStreamStatus), &streams))
	for _, participant := range streams.Participants {
		if participant.UserID == "bob" {
			assert.False(t, participant.Audio)
			assert.Equal(t, OffReasonModerator, participant.OffReason)
		}
	}

	f.media.mu.Lock()
	muted := append([]string(nil), f.media.muted...)
	f.media.mu.Unlock()
	assert.Contains(t, muted, "bob-1")
}

func TestWS_RoomLeaveCascade(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, gm, EvGameUpdate)

	send(t, bob, EvRoomLeave, RoomLeavePayload{RoomID: g.ID})

	var room RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvPeerDisconnect), &room))
	assert.Equal(t, "bob-1", room.ParticipantIdentity)
	require.Len(t, room.Participants, 1)

	var updated game.Game
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameUpdate), &updated))
	assert.Equal(t, []string{"gm"}, updated.Players)
}

func TestWS_DisconnectCascade(t *testing.T) {
	f := newFixture(t)
	g := f.createGame(t, "gm")

	gm := f.dial(t, "gm")
	send(t, gm, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "gm-1"})
	waitFor(t, gm, EvGameUpdate)

	bob := f.dial(t, "bob")
	send(t, bob, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1"})
	waitFor(t, gm, EvGameUpdate)

	// Abrupt close: the server must clean up membership and media itself.
	require.NoError(t, bob.Close())

	var room RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvPeerDisconnect), &room))
	assert.Equal(t, "bob-1", room.ParticipantIdentity)

	var updated game.Game
	require.NoError(t, json.Unmarshal(waitFor(t, gm, EvGameUpdate), &updated))
	assert.Equal(t, []string{"gm"}, updated.Players)

	f.media.mu.Lock()
	removed := append([]string(nil), f.media.removed...)
	f.media.mu.Unlock()
	assert.Contains(t, removed, "bob-1")
}

func TestWS_PrivateGamePassword(t *testing.T) {
	f := newFixture(t)
	g, err := f.games.Create(context.Background(), game.CreateParams{
		Name: "secret", Owner: "gm", GM: "gm", MaxPlayers: 10, MafiaCount: 2,
		GameType: "classic", IsPrivate: true, Password: "hunter2",
	})
	require.NoError(t, err)

	conn := f.dial(t, "bob")

	send(t, conn, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1", Password: "wrong"})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvError), &e))
	assert.Equal(t, "unauthorized", e.Code)

	send(t, conn, EvRoomConnection, RoomConnectionPayload{RoomID: g.ID, ParticipantIdentity: "bob-1", Password: "hunter2"})
	var room RoomEventPayload
	require.NoError(t, json.Unmarshal(waitFor(t, conn, EvRoomConnection), &room))
	assert.Equal(t, "bob-1", room.ParticipantIdentity)
}
