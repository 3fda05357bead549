package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Timers carries the advisory speaking/voting window durations (seconds) new
// games start with. The engine never schedules these itself; clients and the
// moderator drive phase transitions.
type Timers struct {
	SpeakTime int
	VotesTime int
}

// Service is the game flow engine: it validates transitions over the Game
// aggregate and turns them into atomic store updates. It holds no state of
// its own, so one instance serves every room.
type Service struct {
	store  Store
	timers Timers
}

func NewService(store Store, timers Timers) *Service {
	return &Service{store: store, timers: timers}
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Game, error) {
	switch {
	case p.Owner == "":
		return nil, validationf("owner is required")
	case p.GM == "":
		return nil, validationf("gm is required")
	case p.MaxPlayers <= 0:
		return nil, validationf("maxPlayers must be positive")
	case p.MafiaCount <= 0:
		return nil, validationf("mafiaCount must be positive")
	case p.GameType == "":
		return nil, validationf("gameType is required")
	}

	g := &Game{
		ID:         uuid.NewString(),
		Name:       p.Name,
		Owner:      p.Owner,
		GM:         p.GM,
		Players:    []string{},
		MaxPlayers: p.MaxPlayers,
		IsPrivate:  p.IsPrivate,
		IsActive:   true,
		GameType:   p.GameType,
		MafiaCount: p.MafiaCount,
		ExtraRoles: p.ExtraRoles,
		CreatedAt:  time.Now().UTC(),
		Flow:       NewFlow(s.timers.SpeakTime, s.timers.VotesTime),
	}

	if p.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		g.Password = string(hash)
	}

	if err := s.store.Insert(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Game, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Game, error) {
	return s.store.List(ctx)
}

// UpdateConfig applies a partial configuration change. Nil fields are ignored.
func (s *Service) UpdateConfig(ctx context.Context, id string, patch ConfigPatch) (*Game, error) {
	set := map[string]any{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.IsPrivate != nil {
		set["isPrivate"] = *patch.IsPrivate
	}
	if patch.MaxPlayers != nil {
		if *patch.MaxPlayers <= 0 {
			return nil, validationf("maxPlayers must be positive")
		}
		set["maxPlayers"] = *patch.MaxPlayers
	}
	if patch.MafiaCount != nil {
		if *patch.MafiaCount <= 0 {
			return nil, validationf("mafiaCount must be positive")
		}
		set["mafiaCount"] = *patch.MafiaCount
	}
	if patch.GameType != nil {
		set["gameType"] = *patch.GameType
	}
	if len(set) == 0 {
		return s.store.FindByID(ctx, id)
	}
	return s.store.Update(ctx, id, Update{Set: set})
}

// AddPlayer is an idempotent insert: joining twice leaves the player list
// unchanged and is not an error (clients retry on flaky connections).
func (s *Service) AddPlayer(ctx context.Context, id, userID string) (*Game, error) {
	if userID == "" {
		return nil, validationf("userId is required")
	}
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.HasPlayer(userID) {
		return g, nil
	}
	if len(g.Players) >= g.MaxPlayers {
		return nil, ErrGameFull
	}
	return s.store.Update(ctx, id, Update{
		AddToSet: map[string]string{"players": userID},
	})
}

// RemovePlayer pulls the player out of the game. If the moderator leaves and
// players remain, the first remaining player inherits the moderator role; if
// the room empties, the game goes inactive.
func (s *Service) RemovePlayer(ctx context.Context, id, userID string) (*Game, error) {
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	u := Update{
		Pull: map[string]string{"players": userID},
		Set:  map[string]any{},
	}

	var remaining []string
	for _, p := range g.Players {
		if p != userID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		u.Set["isActive"] = false
	} else if g.GM == userID {
		u.Set["gm"] = remaining[0]
	}

	return s.store.Update(ctx, id, u)
}

// AssignRoles replaces the whole role partition. It does not merge with the
// previous assignment and does not validate coverage; racing it against a
// phase transition can lose one side's write, which is accepted since a
// single moderator drives both.
func (s *Service) AssignRoles(ctx context.Context, id string, ra RoleAssignment) (*Game, error) {
	if ra.Mafia == nil {
		ra.Mafia = []string{}
	}
	if ra.Citizens == nil {
		ra.Citizens = []string{}
	}
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"mafia":      ra.Mafia,
		"citizens":   ra.Citizens,
		"sheriff":    ra.Sheriff,
		"doctor":     ra.Doctor,
		"maniac":     ra.Maniac,
		"prostitute": ra.Prostitute,
	}})
}

// Start begins the game: day 1, started flag, start timestamp. The only
// transition rejected for being in the wrong phase.
func (s *Service) Start(ctx context.Context, id string) (*Game, error) {
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Flow.IsStarted {
		return nil, ErrInvalidState
	}
	now := time.Now().UTC()
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.isStarted": true,
		"gameFlow.day":       1,
		"startedAt":          now,
	}})
}

// Finish terminates the game and deactivates the room. Idempotent.
func (s *Service) Finish(ctx context.Context, id string) (*Game, error) {
	now := time.Now().UTC()
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.isFinished": true,
		"isActive":            false,
		"finishedAt":          now,
	}})
}

// StartDay flips to the day phase, bumps the day counter and clears the
// per-round scratch state. Deliberately callable from any phase: repeated or
// out-of-order client messages degrade to an idempotent reset.
func (s *Service) StartDay(ctx context.Context, id string) (*Game, error) {
	return s.store.Update(ctx, id, Update{
		Set: phaseReset(false),
		Inc: map[string]int{"gameFlow.day": 1},
	})
}

// StartNight is symmetric to StartDay but keeps the day counter.
func (s *Service) StartNight(ctx context.Context, id string) (*Game, error) {
	return s.store.Update(ctx, id, Update{Set: phaseReset(true)})
}

func phaseReset(night bool) map[string]any {
	return map[string]any{
		"gameFlow.isNight":       night,
		"gameFlow.isVote":        false,
		"gameFlow.isReVote":      false,
		"gameFlow.isExtraSpeech": false,
		"gameFlow.speaker":       "",
		"gameFlow.proposed":      []string{},
		"gameFlow.voted":         map[string][]string{},
		"gameFlow.shoot":         map[string][]string{},
		"gameFlow.wakeUp":        []string{},
		"gameFlow.sheriffCheck":  "",
		"gameFlow.doctorSave":    "",
		"gameFlow.donCheck":      "",
	}
}

// Propose nominates a player for the elimination vote.
func (s *Service) Propose(ctx context.Context, id, userID string) (*Game, error) {
	if userID == "" {
		return nil, validationf("userId is required")
	}
	return s.store.Update(ctx, id, Update{
		AddToSet: map[string]string{"gameFlow.proposed": userID},
	})
}

// Vote records voterID under targetID. Re-casting the same vote is a no-op.
// A voter switching targets is not pulled from the previous target; the
// original records raw tallies the same way and resolution is manual.
func (s *Service) Vote(ctx context.Context, id, targetID, voterID string) (*Game, error) {
	if targetID == "" || voterID == "" {
		return nil, validationf("targetId and voterId are required")
	}
	return s.store.Update(ctx, id, Update{
		AddToSet: map[string]string{"gameFlow.voted." + targetID: voterID},
	})
}

// Shoot records a night-phase mafia shot, same shape as Vote.
func (s *Service) Shoot(ctx context.Context, id, targetID, shooterID string) (*Game, error) {
	if targetID == "" || shooterID == "" {
		return nil, validationf("targetId and shooterId are required")
	}
	return s.store.Update(ctx, id, Update{
		AddToSet: map[string]string{"gameFlow.shoot." + targetID: shooterID},
	})
}

// StartVote opens the day-phase voting window (or a re-vote on a tie).
func (s *Service) StartVote(ctx context.Context, id string, reVote bool) (*Game, error) {
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.isVote":   true,
		"gameFlow.isReVote": reVote,
	}})
}

// SetExtraSpeech toggles the extra-speech sub-state of the day phase.
func (s *Service) SetExtraSpeech(ctx context.Context, id string, on bool) (*Game, error) {
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.isExtraSpeech": on,
	}})
}

// SetSpeaker hands the floor to a player (empty userID clears it).
func (s *Service) SetSpeaker(ctx context.Context, id, userID string) (*Game, error) {
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.speaker": userID,
	}})
}

// SetWakeUp records which players are currently being addressed at night.
func (s *Service) SetWakeUp(ctx context.Context, id string, userIDs []string) (*Game, error) {
	if userIDs == nil {
		userIDs = []string{}
	}
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow.wakeUp": userIDs,
	}})
}

// NightAction writes a special role's per-night scratch field.
func (s *Service) NightAction(ctx context.Context, id string, kind NightActionKind, targetID string) (*Game, error) {
	switch kind {
	case SheriffCheck, DoctorSave, DonCheck:
	default:
		return nil, validationf("unknown night action %q", kind)
	}
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"gameFlow." + string(kind): targetID,
	}})
}

// RecordKill appends a player to the kill log. The engine never derives kills
// from vote or shoot tallies; the moderator resolves those and calls this.
// Killed players stay in the player list for history.
func (s *Service) RecordKill(ctx context.Context, id, userID string) (*Game, error) {
	if userID == "" {
		return nil, validationf("userId is required")
	}
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, k := range g.Flow.Killed {
		if k == userID {
			return g, nil
		}
	}
	return s.store.Update(ctx, id, Update{
		Push: map[string]string{"gameFlow.killed": userID},
	})
}

// Restart resets the game to its freshly-created state while keeping
// identity, ownership, players and configuration.
func (s *Service) Restart(ctx context.Context, id string) (*Game, error) {
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, id, Update{Set: map[string]any{
		"mafia":      []string{},
		"citizens":   []string{},
		"sheriff":    "",
		"doctor":     "",
		"maniac":     "",
		"prostitute": "",
		"isActive":   true,
		"startedAt":  nil,
		"finishedAt": nil,
		"gameFlow":   NewFlow(g.Flow.SpeakTime, g.Flow.VotesTime),
	}})
}

// VerifyPassword gates joining a private game. A mismatch is an expected
// outcome surfaced as ErrUnauthorized, not a server fault.
func (s *Service) VerifyPassword(ctx context.Context, id, candidate string) error {
	g, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !g.IsPrivate || g.Password == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(g.Password), []byte(candidate)) != nil {
		return ErrUnauthorized
	}
	return nil
}
