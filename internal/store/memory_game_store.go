package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/mafia/internal/game"
)

// MemoryGameStore is a full in-process implementation of game.Store. It backs
// the engine's tests and works as a storage fallback for local development;
// the operator application mirrors what Mongo does server-side.
type MemoryGameStore struct {
	mu    sync.Mutex
	games map[string]*game.Game
}

func NewMemoryGameStore() *MemoryGameStore {
	return &MemoryGameStore{games: make(map[string]*game.Game)}
}

func (s *MemoryGameStore) Insert(_ context.Context, g *game.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = cloneGame(g)
	return nil
}

func (s *MemoryGameStore) FindByID(_ context.Context, id string) (*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	return cloneGame(g), nil
}

func (s *MemoryGameStore) List(_ context.Context) ([]*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*game.Game, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, cloneGame(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryGameStore) Update(_ context.Context, id string, u game.Update) (*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, game.ErrNotFound
	}

	for path, v := range u.Set {
		if err := applySet(g, path, v); err != nil {
			return nil, err
		}
	}
	for path, v := range u.AddToSet {
		if err := applyAddToSet(g, path, v); err != nil {
			return nil, err
		}
	}
	for path, v := range u.Pull {
		if err := applyPull(g, path, v); err != nil {
			return nil, err
		}
	}
	for path, v := range u.Push {
		if err := applyPush(g, path, v); err != nil {
			return nil, err
		}
	}
	for path, n := range u.Inc {
		if err := applyInc(g, path, n); err != nil {
			return nil, err
		}
	}
	return cloneGame(g), nil
}

func applySet(g *game.Game, path string, v any) error {
	switch path {
	case "name":
		g.Name = v.(string)
	case "gm":
		g.GM = v.(string)
	case "isActive":
		g.IsActive = v.(bool)
	case "isPrivate":
		g.IsPrivate = v.(bool)
	case "maxPlayers":
		g.MaxPlayers = v.(int)
	case "mafiaCount":
		g.MafiaCount = v.(int)
	case "gameType":
		g.GameType = v.(string)
	case "mafia":
		g.Mafia = toStrings(v)
	case "citizens":
		g.Citizens = toStrings(v)
	case "sheriff":
		g.Sheriff = v.(string)
	case "doctor":
		g.Doctor = v.(string)
	case "maniac":
		g.Maniac = v.(string)
	case "prostitute":
		g.Prostitute = v.(string)
	case "startedAt":
		g.StartedAt = toTimePtr(v)
	case "finishedAt":
		g.FinishedAt = toTimePtr(v)
	case "gameFlow":
		g.Flow = v.(game.Flow)
	case "gameFlow.day":
		g.Flow.Day = v.(int)
	case "gameFlow.isStarted":
		g.Flow.IsStarted = v.(bool)
	case "gameFlow.isFinished":
		g.Flow.IsFinished = v.(bool)
	case "gameFlow.isNight":
		g.Flow.IsNight = v.(bool)
	case "gameFlow.isVote":
		g.Flow.IsVote = v.(bool)
	case "gameFlow.isReVote":
		g.Flow.IsReVote = v.(bool)
	case "gameFlow.isExtraSpeech":
		g.Flow.IsExtraSpeech = v.(bool)
	case "gameFlow.speaker":
		g.Flow.Speaker = v.(string)
	case "gameFlow.proposed":
		g.Flow.Proposed = toStrings(v)
	case "gameFlow.voted":
		g.Flow.Voted = v.(map[string][]string)
	case "gameFlow.shoot":
		g.Flow.Shoot = v.(map[string][]string)
	case "gameFlow.wakeUp":
		g.Flow.WakeUp = toStrings(v)
	case "gameFlow.sheriffCheck":
		g.Flow.SheriffCheck = v.(string)
	case "gameFlow.doctorSave":
		g.Flow.DoctorSave = v.(string)
	case "gameFlow.donCheck":
		g.Flow.DonCheck = v.(string)
	default:
		return fmt.Errorf("memory store: unsupported $set path %q", path)
	}
	return nil
}

func applyAddToSet(g *game.Game, path, v string) error {
	switch {
	case path == "players":
		g.Players = addUnique(g.Players, v)
	case path == "gameFlow.proposed":
		g.Flow.Proposed = addUnique(g.Flow.Proposed, v)
	case strings.HasPrefix(path, "gameFlow.voted."):
		target := strings.TrimPrefix(path, "gameFlow.voted.")
		if g.Flow.Voted == nil {
			g.Flow.Voted = map[string][]string{}
		}
		g.Flow.Voted[target] = addUnique(g.Flow.Voted[target], v)
	case strings.HasPrefix(path, "gameFlow.shoot."):
		target := strings.TrimPrefix(path, "gameFlow.shoot.")
		if g.Flow.Shoot == nil {
			g.Flow.Shoot = map[string][]string{}
		}
		g.Flow.Shoot[target] = addUnique(g.Flow.Shoot[target], v)
	default:
		return fmt.Errorf("memory store: unsupported $addToSet path %q", path)
	}
	return nil
}

func applyPull(g *game.Game, path, v string) error {
	switch path {
	case "players":
		g.Players = removeAll(g.Players, v)
	case "gameFlow.proposed":
		g.Flow.Proposed = removeAll(g.Flow.Proposed, v)
	default:
		return fmt.Errorf("memory store: unsupported $pull path %q", path)
	}
	return nil
}

func applyPush(g *game.Game, path, v string) error {
	if path != "gameFlow.killed" {
		return fmt.Errorf("memory store: unsupported $push path %q", path)
	}
	g.Flow.Killed = append(g.Flow.Killed, v)
	return nil
}

func applyInc(g *game.Game, path string, n int) error {
	if path != "gameFlow.day" {
		return fmt.Errorf("memory store: unsupported $inc path %q", path)
	}
	g.Flow.Day += n
	return nil
}

func addUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func removeAll(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func toStrings(v any) []string {
	s, _ := v.([]string)
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}

func toTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func cloneGame(g *game.Game) *game.Game {
	cp := *g
	cp.Players = append([]string(nil), g.Players...)
	cp.ExtraRoles = append([]string(nil), g.ExtraRoles...)
	cp.Mafia = append([]string(nil), g.Mafia...)
	cp.Citizens = append([]string(nil), g.Citizens...)
	cp.Flow.Proposed = append([]string(nil), g.Flow.Proposed...)
	cp.Flow.Killed = append([]string(nil), g.Flow.Killed...)
	cp.Flow.WakeUp = append([]string(nil), g.Flow.WakeUp...)
	cp.Flow.Voted = cloneSets(g.Flow.Voted)
	cp.Flow.Shoot = cloneSets(g.Flow.Shoot)
	return &cp
}

func cloneSets(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}
