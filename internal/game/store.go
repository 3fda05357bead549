package game

import "context"

// Update describes an atomic, field-level mutation of a game document.
// Keys are dotted document paths ("players", "gameFlow.day",
// "gameFlow.voted.<userId>"). The persistence layer applies the whole Update
// atomically for a single document; set-valued operators are idempotent, so
// interleaved updates from concurrent requests stay safe. Wholesale Set of a
// whole sub-record (AssignRoles, Restart) is the exception and can lose a
// concurrent field-level write.
type Update struct {
	Set      map[string]any    // $set
	AddToSet map[string]string // $addToSet (unique membership)
	Pull     map[string]string // $pull
	Push     map[string]string // $push (append, used for the kill log)
	Inc      map[string]int    // $inc
}

// IsZero reports whether the update carries no operators.
func (u Update) IsZero() bool {
	return len(u.Set) == 0 && len(u.AddToSet) == 0 && len(u.Pull) == 0 &&
		len(u.Push) == 0 && len(u.Inc) == 0
}

// Store is the narrow persistence contract the flow engine consumes.
// Update returns the post-update document so the caller can broadcast it
// without a second round trip. Implementations return ErrNotFound when the
// game id is unknown.
type Store interface {
	Insert(ctx context.Context, g *Game) error
	FindByID(ctx context.Context, id string) (*Game, error)
	List(ctx context.Context) ([]*Game, error)
	Update(ctx context.Context, id string, u Update) (*Game, error)
}
