package game

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("game not found")
	ErrInvalidState = errors.New("invalid game state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrGameFull     = errors.New("game is full")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
