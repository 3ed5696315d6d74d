package engine

import (
	"errors"
	"fmt"

	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/session"
)

// Engine errors. Ledger failures surface as ledger.ErrInsufficientFunds,
// ledger.ErrPersistence and ledger.ErrBusy.
var (
	ErrValidation        = errors.New("invalid request")
	ErrSessionConflict   = errors.New("session already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrNotify            = errors.New("notification failed")
	// ErrBusy means another action on the same player held the session gate
	// past the lock timeout. Nothing changed.
	ErrBusy = errors.New("player busy")
)

// validation wraps a user error with ErrValidation.
func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify maps package errors onto the engine taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSessionConflict),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrBusy):
		return err
	case errors.Is(err, mines.ErrOutOfBounds),
		errors.Is(err, mines.ErrInvalidMines),
		errors.Is(err, tictactoe.ErrOutOfBounds):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, mines.ErrAlreadyRevealed),
		errors.Is(err, mines.ErrBoardFinished),
		errors.Is(err, tictactoe.ErrGameOver),
		errors.Is(err, tictactoe.ErrNotYourTurn),
		errors.Is(err, tictactoe.ErrCellOccupied),
		errors.Is(err, tictactoe.ErrNotPlayer):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case errors.Is(err, session.ErrExists):
		return fmt.Errorf("%w: %w", ErrSessionConflict, err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	default:
		return err
	}
}
