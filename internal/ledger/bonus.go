package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/model"
)

// Bonus kinds.
const (
	BonusDaily  = "daily"
	BonusWeekly = "weekly"
)

// TryClaimDailyBonus credits the daily bonus if the cooldown has elapsed.
// Otherwise it returns a *CooldownError.
func (l *Ledger) TryClaimDailyBonus(ctx context.Context, id int64, now time.Time) (*model.Account, error) {
	return l.claimBonus(ctx, id, now, BonusDaily)
}

// TryClaimWeeklyBonus credits the weekly bonus if the cooldown has elapsed.
func (l *Ledger) TryClaimWeeklyBonus(ctx context.Context, id int64, now time.Time) (*model.Account, error) {
	return l.claimBonus(ctx, id, now, BonusWeekly)
}

func (l *Ledger) claimBonus(ctx context.Context, id int64, now time.Time, kind string) (*model.Account, error) {
	amount, cooldown, txType := l.cfg.DailyAmount, l.cfg.DailyCooldown, model.TxTypeDaily
	if kind == BonusWeekly {
		amount, cooldown, txType = l.cfg.WeeklyAmount, l.cfg.WeeklyCooldown, model.TxTypeWeekly
	}

	acc, err := l.Mutate(ctx, id, func(a *model.Account) (*model.Transaction, error) {
		last := &a.LastDailyClaim
		if kind == BonusWeekly {
			last = &a.LastWeeklyClaim
		}
		if *last != nil {
			next := (*last).Add(cooldown)
			if now.Before(next) {
				return nil, &CooldownError{Bonus: kind, NextEligibleAt: next}
			}
		}

		claimed := now
		*last = &claimed
		a.Balance += amount
		return &model.Transaction{Amount: amount, Type: txType}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("account_id", id).
		Str("bonus", kind).
		Int64("amount", amount).
		Msg("Bonus claimed")

	return acc, nil
}
