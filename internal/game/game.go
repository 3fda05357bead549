package game

import "time"

// Game is the persisted aggregate for one room. The document shape mirrors
// what the clients receive over the wire, hence the bson+json tags.
type Game struct {
	ID         string   `bson:"_id" json:"id"`
	Name       string   `bson:"name" json:"name"`
	Owner      string   `bson:"owner" json:"owner"`
	GM         string   `bson:"gm" json:"gm"`
	Players    []string `bson:"players" json:"players"`
	MaxPlayers int      `bson:"maxPlayers" json:"maxPlayers"`

	IsPrivate bool   `bson:"isPrivate" json:"isPrivate"`
	Password  string `bson:"password,omitempty" json:"-"` // bcrypt hash, never serialized out
	IsActive  bool   `bson:"isActive" json:"isActive"`

	GameType   string   `bson:"gameType" json:"gameType"`
	MafiaCount int      `bson:"mafiaCount" json:"mafiaCount"`
	ExtraRoles []string `bson:"extraRoles,omitempty" json:"extraRoles,omitempty"`

	// Role assignment. A player occupies at most one slot at a time;
	// the partition is produced by the moderator's client (see AssignRoles).
	Mafia      []string `bson:"mafia,omitempty" json:"mafia,omitempty"`
	Citizens   []string `bson:"citizens,omitempty" json:"citizens,omitempty"`
	Sheriff    string   `bson:"sheriff,omitempty" json:"sheriff,omitempty"`
	Doctor     string   `bson:"doctor,omitempty" json:"doctor,omitempty"`
	Maniac     string   `bson:"maniac,omitempty" json:"maniac,omitempty"`
	Prostitute string   `bson:"prostitute,omitempty" json:"prostitute,omitempty"`

	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
	StartedAt  *time.Time `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty" json:"finishedAt,omitempty"`

	Flow Flow `bson:"gameFlow" json:"gameFlow"`
}

// Flow is the phase state machine sub-record.
//
// Day counts up only when a day starts; it is 0 in the lobby. IsNight and the
// day-phase flags (IsVote/IsReVote/IsExtraSpeech) are mutually exclusive.
type Flow struct {
	Day int `bson:"day" json:"day"`

	IsStarted     bool `bson:"isStarted" json:"isStarted"`
	IsFinished    bool `bson:"isFinished" json:"isFinished"`
	IsNight       bool `bson:"isNight" json:"isNight"`
	IsVote        bool `bson:"isVote" json:"isVote"`
	IsReVote      bool `bson:"isReVote" json:"isReVote"`
	IsExtraSpeech bool `bson:"isExtraSpeech" json:"isExtraSpeech"`

	Speaker   string `bson:"speaker" json:"speaker"`
	SpeakTime int    `bson:"speakTime" json:"speakTime"` // seconds, advisory
	VotesTime int    `bson:"votesTime" json:"votesTime"` // seconds, advisory

	Proposed []string            `bson:"proposed" json:"proposed"`
	Voted    map[string][]string `bson:"voted" json:"voted"` // target -> voters
	Shoot    map[string][]string `bson:"shoot" json:"shoot"` // target -> shooters
	Killed   []string            `bson:"killed" json:"killed"`
	WakeUp   []string            `bson:"wakeUp" json:"wakeUp"`

	// Per-night scratch fields for special roles, reset on every phase change.
	SheriffCheck string `bson:"sheriffCheck" json:"sheriffCheck"`
	DoctorSave   string `bson:"doctorSave" json:"doctorSave"`
	DonCheck     string `bson:"donCheck" json:"donCheck"`
}

// NewFlow returns the lobby-state flow with the configured timer durations.
func NewFlow(speakTime, votesTime int) Flow {
	return Flow{
		SpeakTime: speakTime,
		VotesTime: votesTime,
		Proposed:  []string{},
		Voted:     map[string][]string{},
		Shoot:     map[string][]string{},
		Killed:    []string{},
		WakeUp:    []string{},
	}
}

// HasPlayer reports whether userID is in the player list.
func (g *Game) HasPlayer(userID string) bool {
	for _, p := range g.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// RoleAssignment is a wholesale replacement of the game's role partition.
// The engine does not validate that it covers every player exactly once;
// the moderator's client is responsible for producing a proper partition.
type RoleAssignment struct {
	Mafia      []string `json:"mafia"`
	Citizens   []string `json:"citizens"`
	Sheriff    string   `json:"sheriff,omitempty"`
	Doctor     string   `json:"doctor,omitempty"`
	Maniac     string   `json:"maniac,omitempty"`
	Prostitute string   `json:"prostitute,omitempty"`
}

// CreateParams carries everything needed to construct a new game.
type CreateParams struct {
	Name       string   `json:"name"`
	Owner      string   `json:"owner"`
	GM         string   `json:"gm"`
	MaxPlayers int      `json:"maxPlayers"`
	IsPrivate  bool     `json:"isPrivate"`
	Password   string   `json:"password,omitempty"`
	GameType   string   `json:"gameType"`
	MafiaCount int      `json:"mafiaCount"`
	ExtraRoles []string `json:"extraRoles,omitempty"`
}

// ConfigPatch is the REST-updatable subset of a game's configuration.
// Nil fields are left untouched.
type ConfigPatch struct {
	Name       *string `json:"name,omitempty"`
	IsPrivate  *bool   `json:"isPrivate,omitempty"`
	MaxPlayers *int    `json:"maxPlayers,omitempty"`
	MafiaCount *int    `json:"mafiaCount,omitempty"`
	GameType   *string `json:"gameType,omitempty"`
}

// NightActionKind selects which per-night scratch field a night action writes.
type NightActionKind string

const (
	SheriffCheck NightActionKind = "sheriffCheck"
	DoctorSave   NightActionKind = "doctorSave"
	DonCheck     NightActionKind = "donCheck"
)
