package ws

import (
	"sort"
	"sync"
)

// OffReason tags why a track went off, so clients can distinguish a
// self-mute from a moderator mute or a phase-forced one.
type OffReason string

const (
	OffReasonNone      OffReason = ""
	OffReasonSelf      OffReason = "self"
	OffReasonModerator OffReason = "moderator"
	OffReasonPhase     OffReason = "phase"
)

// Participant is one connected media participant's room state.
type Participant struct {
	Identity  string    `json:"participantIdentity"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	Audio     bool      `json:"audio"`
	Video     bool      `json:"video"`
	OffReason OffReason `json:"offReason,omitempty"`
}

// Presence tracks connected media participants per room. It is process-local
// and lives only as long as the process; clients rebuild it by rejoining.
// An instance is constructor-injected into the relay server, never global.
type Presence struct {
	mu         sync.Mutex
	byIdentity map[string]*Participant
}

func NewPresence() *Presence {
	return &Presence{byIdentity: make(map[string]*Participant)}
}

// Join registers a participant with both tracks enabled.
func (p *Presence) Join(roomID, userID, identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byIdentity[identity] = &Participant{
		Identity: identity,
		UserID:   userID,
		RoomID:   roomID,
		Audio:    true,
		Video:    true,
	}
}

// Leave removes the participant and returns its last state so the caller can
// cascade game-membership cleanup.
func (p *Presence) Leave(identity string) (Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.byIdentity[identity]
	if !ok {
		return Participant{}, false
	}
	delete(p.byIdentity, identity)
	return *entry, true
}

func (p *Presence) Get(identity string) (Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.byIdentity[identity]
	if !ok {
		return Participant{}, false
	}
	return *entry, true
}

// SetTrack flips one participant's audio or video flag.
func (p *Presence) SetTrack(identity string, video bool, enabled bool, reason OffReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.byIdentity[identity]
	if !ok {
		return false
	}
	if video {
		entry.Video = enabled
	} else {
		entry.Audio = enabled
	}
	if enabled {
		entry.OffReason = OffReasonNone
	} else {
		entry.OffReason = reason
	}
	return true
}

// NightReset forces every camera in the room off; microphones stay on.
func (p *Presence) NightReset(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.byIdentity {
		if entry.RoomID != roomID {
			continue
		}
		entry.Video = false
		entry.Audio = true
		entry.OffReason = OffReasonPhase
	}
}

// DayReset forces every track in the room back on.
func (p *Presence) DayReset(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.byIdentity {
		if entry.RoomID != roomID {
			continue
		}
		entry.Video = true
		entry.Audio = true
		entry.OffReason = OffReasonNone
	}
}

// WakeUp turns tracks on for the addressed players plus the moderator,
// leaving everyone else untouched.
func (p *Presence) WakeUp(roomID string, userIDs []string, gm string) {
	addressed := make(map[string]bool, len(userIDs)+1)
	for _, id := range userIDs {
		addressed[id] = true
	}
	addressed[gm] = true

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.byIdentity {
		if entry.RoomID != roomID || !addressed[entry.UserID] {
			continue
		}
		entry.Video = true
		entry.Audio = true
		entry.OffReason = OffReasonNone
	}
}

// SetSpeaker gives the named player the floor: their tracks go on, every
// other microphone in the room goes off.
func (p *Presence) SetSpeaker(roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.byIdentity {
		if entry.RoomID != roomID {
			continue
		}
		if entry.UserID == userID {
			entry.Video = true
			entry.Audio = true
			entry.OffReason = OffReasonNone
		} else {
			entry.Audio = false
			entry.OffReason = OffReasonPhase
		}
	}
}

// Snapshot returns the full membership of a room, stable order. Snapshots are
// always complete, never deltas; broadcast frequency follows human-paced game
// events so the simplicity wins.
func (p *Presence) Snapshot(roomID string) []Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []Participant{}
	for _, entry := range p.byIdentity {
		if entry.RoomID == roomID {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// FindByUser returns the participant entry for a user in a room, if any.
func (p *Presence) FindByUser(roomID, userID string) (Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.byIdentity {
		if entry.RoomID == roomID && entry.UserID == userID {
			return *entry, true
		}
	}
	return Participant{}, false
}
