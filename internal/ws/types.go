package ws

import (
	"encoding/json"

	"example.com/mafia/internal/game"
	"example.com/mafia/internal/store"
)

// Envelope is the wire frame in both directions:
// {"type":"...","payload":{...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event names kept compatible with the previous client protocol.
const (
	// client -> server
	EvRoomConnection  = "roomConnection"
	EvRoomLeave       = "roomLeave"
	EvMessageSend     = "messageSend"
	EvProposeForVote  = "proposeForVote"
	EvCastVote        = "castVote"
	EvCastShoot       = "castShoot"
	EvStartDay        = "startDay"
	EvStartNight      = "startNight"
	EvStartVote       = "startVote"
	EvExtraSpeech     = "extraSpeech"
	EvUpdateSpeaker   = "updateSpeaker"
	EvWakeUp          = "wakeUp"
	EvNightAction     = "nightAction"
	EvKillPlayer      = "killPlayer"
	EvUserVideoStatus = "userVideoStatus"
	EvUserAudioStatus = "userAudioStatus"
	EvToggleUserAudio = "toggleUserAudio"
	EvToggleUserVideo = "toggleUserVideo"
	EvMuteAll         = "muteAll"

	// server -> client
	EvConnection       = "connection"
	EvSocketDisconnect = "socketDisconnect"
	EvPeerDisconnect   = "peerDisconnect"
	EvUserStreamStatus = "userStreamStatus"
	EvGameUpdate       = "gameUpdate"
	EvGameFlowUpdate   = "gameFlowUpdate"
	EvError            = "error"
)

// Incoming payloads. These are fully validated here at the adapter boundary;
// the engine only ever sees typed, checked commands.

type RoomConnectionPayload struct {
	RoomID              string `json:"roomId"`
	ParticipantIdentity string `json:"participantIdentity"`
	Password            string `json:"password,omitempty"`
}

type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

type MessageSendPayload struct {
	To   store.MessageTarget `json:"to"`
	Text string              `json:"text"`
}

type TargetPayload struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}

type VotePayload struct {
	GameID   string `json:"gameId"`
	TargetID string `json:"targetId"`
}

type GamePayload struct {
	GameID string `json:"gameId"`
}

type StartVotePayload struct {
	GameID string `json:"gameId"`
	ReVote bool   `json:"reVote"`
}

type ExtraSpeechPayload struct {
	GameID  string `json:"gameId"`
	Enabled bool   `json:"enabled"`
}

type WakeUpPayload struct {
	GameID string   `json:"gameId"`
	Users  []string `json:"users"`
}

type NightActionPayload struct {
	GameID   string               `json:"gameId"`
	Action   game.NightActionKind `json:"action"`
	TargetID string               `json:"targetId"`
}

type TrackStatusPayload struct {
	ParticipantIdentity string `json:"participantIdentity"`
	// RoomID is client-reported; delivery follows the registered participant.
	RoomID    string    `json:"roomId"`
	Enabled   bool      `json:"enabled"`
	OffReason OffReason `json:"offReason,omitempty"`
}

type TogglePayload struct {
	GameID       string `json:"gameId"`
	TargetUserID string `json:"targetUserId"`
	Enabled      bool   `json:"enabled"`
}

// Outgoing payloads.

type ConnectionPayload struct {
	ConnectedUsers int `json:"connectedUsers"`
}

type RoomEventPayload struct {
	ParticipantIdentity string        `json:"participantIdentity,omitempty"`
	Participants        []Participant `json:"participants"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
