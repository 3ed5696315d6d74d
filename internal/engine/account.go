package engine

import (
	"context"
	"fmt"

	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/model"
)

// EnsurePlayer creates the account on first sight and keeps names current.
func (e *Engine) EnsurePlayer(ctx context.Context, userID int64, username, firstName string) (*model.Account, bool, error) {
	return e.ledger.EnsureAccount(ctx, userID, username, firstName)
}

// Balance returns the player's account.
func (e *Engine) Balance(userID int64) (*model.Account, error) {
	return e.ledger.Get(userID)
}

// ClaimDailyBonus credits the daily bonus or returns a *ledger.CooldownError.
func (e *Engine) ClaimDailyBonus(ctx context.Context, userID int64) (*model.Account, error) {
	return e.ledger.TryClaimDailyBonus(ctx, userID, e.now())
}

// ClaimWeeklyBonus credits the weekly bonus or returns a *ledger.CooldownError.
func (e *Engine) ClaimWeeklyBonus(ctx context.Context, userID int64) (*model.Account, error) {
	return e.ledger.TryClaimWeeklyBonus(ctx, userID, e.now())
}

// Gift moves credits to the player with the given username.
func (e *Engine) Gift(ctx context.Context, fromID int64, toUsername string, amount int64) (sender, recipient *model.Account, err error) {
	if amount <= 0 {
		return nil, nil, validation("amount must be positive")
	}
	to, err := e.ledger.FindByUsername(toUsername)
	if err != nil {
		return nil, nil, err
	}
	if to.ID == e.ledger.HouseID() {
		return nil, nil, validation("the house does not accept gifts")
	}
	if to.ID == fromID {
		return nil, nil, validation("you cannot gift yourself")
	}
	return e.ledger.Transfer(ctx, fromID, to.ID, amount)
}

// Leaderboard returns the n richest players.
func (e *Engine) Leaderboard(n int) []*model.Account {
	return e.ledger.Top(n)
}

// AdminSetBalance overwrites a player's balance.
func (e *Engine) AdminSetBalance(ctx context.Context, userID, amount int64) (*model.Account, error) {
	if amount < 0 {
		return nil, validation("balance must not be negative")
	}
	return e.ledger.SetBalance(ctx, userID, amount)
}

// AdminResetAllBalances sets every player balance to amount and returns how
// many accounts changed.
func (e *Engine) AdminResetAllBalances(ctx context.Context, amount int64) (int, error) {
	if amount < 0 {
		return 0, validation("balance must not be negative")
	}
	return e.ledger.ResetAll(ctx, amount)
}

// FindPlayer resolves a username to its account.
func (e *Engine) FindPlayer(username string) (*model.Account, error) {
	acc, err := e.ledger.FindByUsername(username)
	if err != nil {
		return nil, err
	}
	if acc.ID == e.ledger.HouseID() {
		return nil, fmt.Errorf("%w: @%s", ledger.ErrAccountNotFound, acc.Username)
	}
	return acc, nil
}

// History returns the player's newest journal lines.
func (e *Engine) History(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	return e.ledger.History(ctx, userID, limit)
}

// RegisterChat remembers a chat for broadcasts.
func (e *Engine) RegisterChat(ctx context.Context, chatID int64) error {
	return e.ledger.RegisterChat(ctx, chatID)
}

// KnownChats returns every chat the bot has seen.
func (e *Engine) KnownChats() []int64 {
	return e.ledger.Chats()
}
