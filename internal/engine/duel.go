package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/metrics"
	"mines-wager-bot/internal/model"
	"mines-wager-bot/internal/session"
)

const houseName = "House"

// ChallengeResult holds the pending invitation of a challenge to a player, or
// the started duel of a challenge to the house.
type ChallengeResult struct {
	Invitation *Invitation
	Duel       *DuelView
}

// MoveResult is the duel state after a move. Settlement is set when the move
// ended the game.
type MoveResult struct {
	View       DuelView
	Settlement *Settlement
}

// IssueChallenge offers a duel. A house challenge escrows both stakes and
// starts at once; a player challenge waits for acceptance and escrows nothing.
func (e *Engine) IssueChallenge(ctx context.Context, chatID, userID, stake int64, kind OpponentKind) (ChallengeResult, error) {
	if stake < max(e.cfg.DuelMinStake, 1) {
		return ChallengeResult{}, validation("stake must be at least %d", max(e.cfg.DuelMinStake, 1))
	}
	key := Key{ChatID: chatID, UserID: userID}

	if kind == OpponentHouse {
		view, err := e.startHouseDuel(ctx, key, stake)
		if err != nil {
			return ChallengeResult{}, err
		}
		return ChallengeResult{Duel: &view}, e.notify("duel_updated", key, func() error {
			return e.notifier.DuelUpdated(ctx, view)
		})
	}

	acc, err := e.ledger.Get(userID)
	if err != nil {
		return ChallengeResult{}, err
	}
	if acc.Balance < stake {
		return ChallengeResult{}, &ledger.InsufficientFundsError{AccountID: userID, Balance: acc.Balance, Required: stake}
	}

	unlock, err := e.lockKeys(ctx, key)
	if err != nil {
		return ChallengeResult{}, err
	}
	if err := e.checkFree(key); err != nil {
		unlock()
		return ChallengeResult{}, err
	}
	inv, err := e.invites.Issue(key, func(expiresAt time.Time) (Invitation, error) {
		return Invitation{
			ID:          newID(),
			Key:         key,
			InviterName: acc.DisplayName(),
			Stake:       stake,
			CreatedAt:   expiresAt.Add(-e.invites.TTL()),
			ExpiresAt:   expiresAt,
		}, nil
	})
	unlock()
	if err != nil {
		return ChallengeResult{}, classify(err)
	}

	log.Info().
		Str("invitation_id", inv.ID).
		Int64("chat_id", chatID).
		Int64("user_id", userID).
		Int64("stake", stake).
		Msg("Duel invitation issued")

	return ChallengeResult{Invitation: &inv}, e.notify("invitation_issued", key, func() error {
		return e.notifier.InvitationIssued(ctx, inv)
	})
}

func (e *Engine) startHouseDuel(ctx context.Context, key Key, stake int64) (DuelView, error) {
	house := e.ledger.HouseID()
	unlock, err := e.lockKeys(ctx, key)
	if err != nil {
		return DuelView{}, err
	}
	defer unlock()

	if err := e.checkFree(key); err != nil {
		return DuelView{}, err
	}

	var view DuelView
	_, err = e.duels.TryCreate(key, func() (*duelSession, error) {
		id := newID()
		_, err := e.ledger.DebitMany(ctx,
			ledger.Entry{AccountID: key.UserID, Amount: stake, Type: model.TxTypeDuelStake, Note: id},
			ledger.Entry{AccountID: house, Amount: stake, Type: model.TxTypeDuelStake, Note: id},
		)
		if err != nil {
			return nil, err
		}
		d := &duelSession{
			id:        id,
			key:       key,
			stake:     stake,
			opponent:  HouseAI(house, e.policy),
			names:     map[int64]string{key.UserID: e.displayName(key.UserID), house: houseName},
			game:      e.newGame(key.UserID, house),
			createdAt: e.now(),
		}
		d.opponent.respond(d.game)
		e.link(key, key)
		view = d.view()
		return d, nil
	})
	if err != nil {
		return DuelView{}, classify(err)
	}

	metrics.SessionsStarted.WithLabelValues(string(GameDuel)).Inc()
	log.Info().
		Str("session_id", view.SessionID).
		Int64("chat_id", key.ChatID).
		Int64("user_id", key.UserID).
		Int64("stake", stake).
		Msg("House duel started")

	return view, nil
}

// AcceptChallenge turns a live invitation into a duel, escrowing both stakes.
// The first acceptance wins. If escrow fails the invitation stays open.
func (e *Engine) AcceptChallenge(ctx context.Context, chatID, inviterID, acceptorID int64) (DuelView, error) {
	if inviterID == acceptorID {
		return DuelView{}, validation("you cannot accept your own challenge")
	}
	inviteKey := Key{ChatID: chatID, UserID: inviterID}
	acceptorKey := Key{ChatID: chatID, UserID: acceptorID}

	unlock, err := e.lockKeys(ctx, inviteKey, acceptorKey)
	if err != nil {
		return DuelView{}, err
	}
	if err := e.checkFree(inviteKey); err != nil {
		unlock()
		return DuelView{}, err
	}
	if err := e.checkFree(acceptorKey); err != nil {
		unlock()
		return DuelView{}, err
	}

	var view DuelView
	inv, err := e.invites.Take(inviteKey, func(inv Invitation) error {
		_, err := e.duels.TryCreate(inviteKey, func() (*duelSession, error) {
			_, err := e.ledger.DebitMany(ctx,
				ledger.Entry{AccountID: inviterID, Amount: inv.Stake, Type: model.TxTypeDuelStake, Note: inv.ID},
				ledger.Entry{AccountID: acceptorID, Amount: inv.Stake, Type: model.TxTypeDuelStake, Note: inv.ID},
			)
			if err != nil {
				return nil, err
			}
			d := &duelSession{
				id:        inv.ID,
				key:       inviteKey,
				stake:     inv.Stake,
				opponent:  Human(acceptorID),
				names:     map[int64]string{inviterID: e.displayName(inviterID), acceptorID: e.displayName(acceptorID)},
				game:      e.newGame(inviterID, acceptorID),
				createdAt: e.now(),
			}
			e.link(inviteKey, inviteKey, acceptorKey)
			view = d.view()
			return d, nil
		})
		return err
	})
	unlock()
	if err != nil {
		if errors.Is(err, session.ErrExpired) {
			e.expired(ctx, []Invitation{inv})
		}
		return DuelView{}, classify(err)
	}

	metrics.SessionsStarted.WithLabelValues(string(GameDuel)).Inc()
	log.Info().
		Str("session_id", view.SessionID).
		Int64("chat_id", chatID).
		Int64("inviter_id", inviterID).
		Int64("acceptor_id", acceptorID).
		Int64("stake", view.Stake).
		Msg("Duel invitation accepted")

	return view, e.notify("invitation_accepted", inviteKey, func() error {
		return e.notifier.InvitationAccepted(ctx, view)
	})
}

// MakeMove plays actor's mark in the duel owned by ownerID. Against the house
// the reply is played in the same section. A finished game is settled before
// the section is released.
func (e *Engine) MakeMove(ctx context.Context, chatID, ownerID int64, row, col int, actorID int64) (MoveResult, error) {
	key := Key{ChatID: chatID, UserID: ownerID}
	var res MoveResult

	err := e.duels.Update(key, func(d *duelSession) (bool, error) {
		if d.settled {
			e.unlink(d.key)
			return true, ErrSessionNotFound
		}
		// a finished game here means an earlier settlement failed to persist
		if d.game.Status() == tictactoe.InProgress {
			if _, err := d.game.Move(row, col, tictactoe.Player(actorID)); err != nil {
				return false, classify(err)
			}
			d.opponent.respond(d.game)
		}

		if d.game.Status() != tictactoe.InProgress {
			st, err := e.settleDuelLocked(ctx, d, duelOutcome(d.game))
			if err != nil {
				return false, err
			}
			res = MoveResult{View: *st.Duel, Settlement: &st}
			return true, nil
		}

		res.View = d.view()
		return false, nil
	})
	if err != nil {
		return MoveResult{}, classify(err)
	}

	if res.Settlement != nil {
		return res, e.announce(ctx, *res.Settlement)
	}
	return res, e.notify("duel_updated", key, func() error {
		return e.notifier.DuelUpdated(ctx, res.View)
	})
}

// checkFree fails with ErrSessionConflict if key holds a Mines game or sits in a duel.
func (e *Engine) checkFree(key Key) error {
	if e.mines.Has(key) {
		return fmt.Errorf("%w: finish your mines game first", ErrSessionConflict)
	}
	if e.inDuel(key) {
		return fmt.Errorf("%w: finish your duel first", ErrSessionConflict)
	}
	return nil
}

// DuelState returns the duel the caller sits in, as owner or opponent.
func (e *Engine) DuelState(chatID, userID int64) (DuelView, error) {
	key, ok := e.DuelKey(Key{ChatID: chatID, UserID: userID})
	if !ok {
		return DuelView{}, ErrSessionNotFound
	}
	var v DuelView
	if err := e.duels.View(key, func(d *duelSession) { v = d.view() }); err != nil {
		return DuelView{}, classify(err)
	}
	return v, nil
}
