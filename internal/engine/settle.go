package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/model"
	"mines-wager-bot/internal/session"
)

// Settle applies a Mines outcome (win, loss or cancel). The ledger commit
// happens before the session is removed. An absent session counts as already
// settled: nothing is paid and Applied is false. A failed commit leaves the
// session in place.
func (e *Engine) Settle(ctx context.Context, key Key, outcome Outcome) (Settlement, error) {
	return e.settleMines(ctx, key, outcome)
}

func (e *Engine) settleMines(ctx context.Context, key Key, outcome Outcome) (Settlement, error) {
	var st Settlement
	err := e.mines.Update(key, func(s *minesSession) (bool, error) {
		if s.settled {
			log.Warn().Str("session_id", s.id).Msg("Dropping already settled session")
			return true, nil
		}
		var err error
		st, err = e.settleMinesLocked(ctx, s, outcome)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return Settlement{Game: GameMines, Key: key, Outcome: outcome}, nil
	}
	if err != nil {
		return Settlement{}, classify(err)
	}
	if !st.Applied {
		return Settlement{Game: GameMines, Key: key, Outcome: outcome}, nil
	}
	return st, e.announce(ctx, st)
}

// settleMinesLocked moves the money for a Mines outcome. A win credits the
// payout to the player; the house only collects lost stakes. Cancelling a
// board that already ended settles the outcome it ended with.
func (e *Engine) settleMinesLocked(ctx context.Context, s *minesSession, outcome Outcome) (Settlement, error) {
	b := s.board
	player, house := s.key.UserID, e.ledger.HouseID()
	if outcome == OutcomeCancel && b.Finished() {
		outcome = OutcomeWin
		if b.Exploded() {
			outcome = OutcomeLoss
		}
	}
	st := Settlement{Applied: true, Game: GameMines, SessionID: s.id, Key: s.key, Outcome: outcome}

	var credits []ledger.Entry
	switch outcome {
	case OutcomeWin:
		if b.Exploded() {
			return Settlement{}, fmt.Errorf("%w: the board has exploded", ErrInvalidTransition)
		}
		// clearing every gem always pays, even below the cash-out minimum
		if b.SafeRevealed() < e.cfg.MinRevealsToCashOut && !b.Finished() {
			return Settlement{}, fmt.Errorf("%w: reveal at least %d gems before cashing out",
				ErrInvalidTransition, e.cfg.MinRevealsToCashOut)
		}
		st.Payout = b.Payout(s.stake)
		st.Winner = player
		credits = append(credits, ledger.Entry{AccountID: player, Amount: st.Payout, Type: model.TxTypeMinesPayout, Note: s.id})
	case OutcomeLoss:
		st.Winner = house
		credits = append(credits, ledger.Entry{AccountID: house, Amount: s.stake, Type: model.TxTypeMinesStake, Note: s.id})
	case OutcomeCancel:
		st.Payout = s.stake
		credits = append(credits, ledger.Entry{AccountID: player, Amount: s.stake, Type: model.TxTypeMinesRefund, Note: s.id})
	default:
		return Settlement{}, validation("%s is not a mines outcome", outcome)
	}

	accs, err := e.ledger.CreditMany(ctx, credits...)
	if err != nil {
		return Settlement{}, err
	}
	s.settled = true
	b.RevealAll()

	st.Balances = e.withBalance(balances(accs), player)
	view := s.view(e.cfg.MinRevealsToCashOut)
	st.Mines = &view

	metrics.SessionsSettled.WithLabelValues(string(GameMines), outcome.String()).Inc()
	log.Info().
		Str("session_id", s.id).
		Int64("chat_id", s.key.ChatID).
		Int64("user_id", player).
		Str("outcome", outcome.String()).
		Int64("stake", s.stake).
		Int64("payout", st.Payout).
		Msg("Mines game settled")

	return st, nil
}

// SettleDuel applies a duel outcome (win, draw or cancel) with the same
// contract as Settle. A win pays the winner the pool minus the house fee.
func (e *Engine) SettleDuel(ctx context.Context, key Key, outcome Outcome) (Settlement, error) {
	return e.settleDuel(ctx, key, outcome, nil)
}

func (e *Engine) settleDuel(ctx context.Context, key Key, outcome Outcome, guard func(d *duelSession) error) (Settlement, error) {
	var st Settlement
	err := e.duels.Update(key, func(d *duelSession) (bool, error) {
		if d.settled {
			log.Warn().Str("session_id", d.id).Msg("Dropping already settled duel")
			e.unlink(d.key)
			return true, nil
		}
		if guard != nil {
			if err := guard(d); err != nil {
				return false, err
			}
		}
		var err error
		st, err = e.settleDuelLocked(ctx, d, outcome)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return Settlement{Game: GameDuel, Key: key, Outcome: outcome}, nil
	}
	if err != nil {
		return Settlement{}, classify(err)
	}
	if !st.Applied {
		return Settlement{Game: GameDuel, Key: key, Outcome: outcome}, nil
	}
	return st, e.announce(ctx, st)
}

func (e *Engine) settleDuelLocked(ctx context.Context, d *duelSession, outcome Outcome) (Settlement, error) {
	house := e.ledger.HouseID()
	pool := 2 * d.stake
	st := Settlement{Applied: true, Game: GameDuel, SessionID: d.id, Key: d.key, Outcome: outcome}

	var credits []ledger.Entry
	switch outcome {
	case OutcomeWin:
		if d.game.Status() != tictactoe.Won {
			return Settlement{}, fmt.Errorf("%w: the duel has no winner", ErrInvalidTransition)
		}
		st.Winner = int64(d.game.Winner())
		st.Fee = ledger.RoundCredits(float64(pool) * e.cfg.FeePercent / 100)
		st.Payout = pool - st.Fee
		credits = append(credits,
			ledger.Entry{AccountID: st.Winner, Amount: st.Payout, Type: model.TxTypeDuelPayout, Note: d.id},
			ledger.Entry{AccountID: house, Amount: st.Fee, Type: model.TxTypeHouseFee, Note: d.id},
		)
	case OutcomeDraw, OutcomeCancel:
		st.Payout = d.stake
		for _, id := range d.participants() {
			credits = append(credits, ledger.Entry{AccountID: id, Amount: d.stake, Type: model.TxTypeDuelRefund, Note: d.id})
		}
	default:
		return Settlement{}, validation("%s is not a duel outcome", outcome)
	}

	accs, err := e.ledger.CreditMany(ctx, credits...)
	if err != nil {
		return Settlement{}, err
	}
	d.settled = true
	e.unlink(d.key)

	bal := balances(accs)
	for _, id := range d.participants() {
		bal = e.withBalance(bal, id)
	}
	st.Balances = bal
	view := d.view()
	st.Duel = &view

	metrics.SessionsSettled.WithLabelValues(string(GameDuel), outcome.String()).Inc()
	log.Info().
		Str("session_id", d.id).
		Int64("chat_id", d.key.ChatID).
		Str("opponent", d.opponent.Kind().String()).
		Str("outcome", outcome.String()).
		Int64("winner", st.Winner).
		Int64("payout", st.Payout).
		Int64("fee", st.Fee).
		Msg("Duel settled")

	return st, nil
}

// duelOutcome maps a finished game to its settlement outcome.
func duelOutcome(g *tictactoe.Game) Outcome {
	if g.Status() == tictactoe.Won {
		return OutcomeWin
	}
	return OutcomeDraw
}

func (e *Engine) withBalance(bal map[int64]int64, id int64) map[int64]int64 {
	if _, ok := bal[id]; ok {
		return bal
	}
	if acc, err := e.ledger.Get(id); err == nil {
		bal[id] = acc.Balance
	}
	return bal
}

func (e *Engine) announce(ctx context.Context, st Settlement) error {
	return e.notify("session_settled", st.Key, func() error {
		return e.notifier.SessionSettled(ctx, st)
	})
}
