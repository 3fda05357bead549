package game

import "context"

// Authorize checks a privileged action against the game's current moderator.
// The moderator may act on anyone; everyone else only on themselves. The game
// is looked up fresh on every call so a moderator handoff takes effect for
// the very next request.
func (s *Service) Authorize(ctx context.Context, gameID, requesterID, targetUserID string) error {
	if requesterID != "" && requesterID == targetUserID {
		return nil
	}
	return s.AuthorizeGM(ctx, gameID, requesterID)
}

// AuthorizeGM allows only the game's moderator (phase transitions, batch
// mute, kill resolution, wake-up).
func (s *Service) AuthorizeGM(ctx context.Context, gameID, requesterID string) error {
	g, err := s.store.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if requesterID == "" || g.GM != requesterID {
		return ErrUnauthorized
	}
	return nil
}
