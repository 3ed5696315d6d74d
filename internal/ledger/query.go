package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"mines-wager-bot/internal/model"
)

// Top returns up to n player accounts by balance, highest first.
func (l *Ledger) Top(n int) []*model.Account {
	l.mu.RLock()
	out := make([]*model.Account, 0, len(l.accounts))
	for id, acc := range l.accounts {
		if id != l.cfg.HouseID {
			out = append(out, acc.Clone())
		}
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b *model.Account) int {
		if c := cmp.Compare(b.Balance, a.Balance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FindByUsername resolves a username, with or without the leading @, case-insensitively.
func (l *Ledger) FindByUsername(username string) (*model.Account, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return nil, ErrAccountNotFound
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, acc := range l.accounts {
		if strings.EqualFold(acc.Username, name) {
			return acc.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: @%s", ErrAccountNotFound, name)
}

// TotalBalance sums every balance including the house.
func (l *Ledger) TotalBalance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, acc := range l.accounts {
		total += acc.Balance
	}
	return total
}

// RegisterChat remembers a chat for broadcasts.
func (l *Ledger) RegisterChat(ctx context.Context, chatID int64) error {
	l.mu.RLock()
	known := slices.Contains(l.chats, chatID)
	l.mu.RUnlock()
	if known {
		return nil
	}

	if err := l.store.AddChat(ctx, chatID); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	l.mu.Lock()
	if !slices.Contains(l.chats, chatID) {
		l.chats = append(l.chats, chatID)
	}
	l.mu.Unlock()
	return nil
}

// Chats returns every known chat.
func (l *Ledger) Chats() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.chats)
}

// History returns the newest journal lines for an account.
func (l *Ledger) History(ctx context.Context, id int64, limit int) ([]model.Transaction, error) {
	return l.store.History(ctx, id, limit)
}
