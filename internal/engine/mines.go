package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/model"
)

// RevealResult is the state after a reveal. Settlement is set when the
// reveal ended the game.
type RevealResult struct {
	View       MinesView
	Outcome    mines.Outcome
	Settlement *Settlement
}

// StartMines debits the stake and opens a board. Debit and registration are
// one step: of two concurrent starts on a key exactly one succeeds.
func (e *Engine) StartMines(ctx context.Context, chatID, userID, stake int64, mineCount int) (MinesView, error) {
	if stake < e.cfg.MinesMinStake || stake <= 0 {
		return MinesView{}, validation("stake must be at least %d", max(e.cfg.MinesMinStake, 1))
	}
	if e.cfg.MinesMaxStake > 0 && stake > e.cfg.MinesMaxStake {
		return MinesView{}, validation("stake must be at most %d", e.cfg.MinesMaxStake)
	}
	if mineCount < e.cfg.MinMines || mineCount > e.cfg.MaxMines {
		return MinesView{}, validation("mine count must be between %d and %d", e.cfg.MinMines, e.cfg.MaxMines)
	}

	key := Key{ChatID: chatID, UserID: userID}
	unlock, err := e.lockKeys(ctx, key)
	if err != nil {
		return MinesView{}, err
	}
	if e.inDuel(key) {
		unlock()
		return MinesView{}, fmt.Errorf("%w: finish your duel first", ErrSessionConflict)
	}

	var view MinesView
	_, err = e.mines.TryCreate(key, func() (*minesSession, error) {
		board, err := e.newBoard(mineCount)
		if err != nil {
			return nil, classify(err)
		}
		acc, err := e.ledger.Debit(ctx, userID, stake, model.TxTypeMinesStake)
		if err != nil {
			return nil, err
		}
		s := &minesSession{
			id:        newID(),
			key:       key,
			stake:     stake,
			board:     board,
			theme:     acc.SelectedCosmetic,
			createdAt: e.now(),
		}
		view = s.view(e.cfg.MinRevealsToCashOut)
		return s, nil
	})
	unlock()
	if err != nil {
		return MinesView{}, classify(err)
	}

	metrics.SessionsStarted.WithLabelValues(string(GameMines)).Inc()
	log.Info().
		Str("session_id", view.SessionID).
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("stake", stake).
		Int("mines", mineCount).
		Msg("Mines game started")

	return view, e.notify("session_created", key, func() error {
		return e.notifier.SessionCreated(ctx, view)
	})
}

// RevealCell opens a cell. A bomb settles the game as a loss and revealing the
// last gem cashes out, both inside the same section.
func (e *Engine) RevealCell(ctx context.Context, chatID, userID int64, row, col int) (RevealResult, error) {
	key := Key{ChatID: chatID, UserID: userID}
	var res RevealResult

	err := e.mines.Update(key, func(s *minesSession) (bool, error) {
		if s.settled {
			return true, ErrSessionNotFound
		}
		if s.board.Finished() {
			// a previous settlement failed to persist
			st, err := e.settleMinesLocked(ctx, s, pendingOutcome(s.board))
			if err != nil {
				return false, err
			}
			res = RevealResult{View: *st.Mines, Settlement: &st}
			return true, nil
		}

		outcome, err := s.board.Reveal(row, col)
		if err != nil {
			return false, classify(err)
		}
		res.Outcome = outcome

		if s.board.Finished() {
			st, err := e.settleMinesLocked(ctx, s, pendingOutcome(s.board))
			if err != nil {
				return false, err
			}
			res.View = *st.Mines
			res.Settlement = &st
			return true, nil
		}

		res.View = s.view(e.cfg.MinRevealsToCashOut)
		return false, nil
	})
	if err != nil {
		return RevealResult{}, classify(err)
	}

	if res.Settlement != nil {
		return res, e.announce(ctx, *res.Settlement)
	}
	return res, e.notify("board_updated", key, func() error {
		return e.notifier.BoardUpdated(ctx, res.View)
	})
}

// CashOut settles the game as a win at the current multiplier. It is refused
// with ErrInvalidTransition until enough gems are revealed.
func (e *Engine) CashOut(ctx context.Context, chatID, userID int64) (Settlement, error) {
	st, err := e.Settle(ctx, Key{ChatID: chatID, UserID: userID}, OutcomeWin)
	if err != nil && !errors.Is(err, ErrNotify) {
		return Settlement{}, err
	}
	if !st.Applied {
		return Settlement{}, ErrSessionNotFound
	}
	return st, err
}

// pendingOutcome is the outcome a finished board settles with.
func pendingOutcome(b *mines.Board) Outcome {
	if b.Exploded() {
		return OutcomeLoss
	}
	return OutcomeWin
}

// MinesState returns the caller's live Mines game.
func (e *Engine) MinesState(chatID, userID int64) (MinesView, error) {
	var v MinesView
	err := e.mines.View(Key{ChatID: chatID, UserID: userID}, func(s *minesSession) {
		v = s.view(e.cfg.MinRevealsToCashOut)
	})
	if err != nil {
		return MinesView{}, classify(err)
	}
	return v, nil
}
