package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/model"
)

// SetBalance overwrites one balance.
func (l *Ledger) SetBalance(ctx context.Context, id, amount int64) (*model.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: balance %d", ErrInvalidAmount, amount)
	}

	acc, err := l.Mutate(ctx, id, func(a *model.Account) (*model.Transaction, error) {
		delta := amount - a.Balance
		a.Balance = amount
		return &model.Transaction{Amount: delta, Type: model.TxTypeAdminSet}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("account_id", id).Int64("balance", amount).Msg("Admin set balance")
	return acc, nil
}

// ResetAll sets every player balance to amount in one commit. The house is untouched.
func (l *Ledger) ResetAll(ctx context.Context, amount int64) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: balance %d", ErrInvalidAmount, amount)
	}

	l.mu.RLock()
	ids := make([]int64, 0, len(l.accounts))
	for id := range l.accounts {
		if id != l.cfg.HouseID {
			ids = append(ids, id)
		}
	}
	l.mu.RUnlock()

	if len(ids) == 0 {
		return 0, nil
	}

	_, err := l.mutateMany(ctx, ids, func(accs map[int64]*model.Account) ([]model.Transaction, error) {
		journal := make([]model.Transaction, 0, len(accs))
		for _, acc := range accs {
			delta := amount - acc.Balance
			acc.Balance = amount
			journal = append(journal, model.Transaction{AccountID: acc.ID, Amount: delta, Type: model.TxTypeAdminReset})
		}
		return journal, nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int("accounts", len(ids)).Int64("balance", amount).Msg("Admin reset all balances")
	return len(ids), nil
}
