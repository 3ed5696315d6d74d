package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CancelResult reports what CancelSession ended: a refunded game or a
// withdrawn invitation.
type CancelResult struct {
	Settlement *Settlement
	Invitation *Invitation
}

// CancelSession ends the caller's unfinished game with a full refund. Without
// a Mines game it withdraws the caller's pending invitation, and failing that
// abandons a duel against the house (both stakes refunded). Duels between two
// players cannot be abandoned.
func (e *Engine) CancelSession(ctx context.Context, chatID, userID int64) (CancelResult, error) {
	key := Key{ChatID: chatID, UserID: userID}

	st, err := e.settleMines(ctx, key, OutcomeCancel)
	if err != nil && !errors.Is(err, ErrNotify) {
		return CancelResult{}, err
	}
	if st.Applied {
		return CancelResult{Settlement: &st}, err
	}

	if inv, ok := e.invites.Withdraw(key); ok {
		log.Info().
			Str("invitation_id", inv.ID).
			Int64("chat_id", chatID).
			Int64("user_id", userID).
			Msg("Duel invitation withdrawn")
		return CancelResult{Invitation: &inv}, nil
	}

	duelKey, ok := e.DuelKey(key)
	if !ok {
		return CancelResult{}, ErrSessionNotFound
	}
	st, err = e.settleDuel(ctx, duelKey, OutcomeCancel, func(d *duelSession) error {
		if d.opponent.Kind() != OpponentHouse {
			return fmt.Errorf("%w: a duel against another player must be played out", ErrInvalidTransition)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotify) {
		return CancelResult{}, err
	}
	if !st.Applied {
		return CancelResult{}, ErrSessionNotFound
	}
	return CancelResult{Settlement: &st}, err
}
