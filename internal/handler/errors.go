package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/ledger"
	"mines-wager-bot/internal/session"
	"mines-wager-bot/internal/shop"
)

// errorText turns an engine error into the reply shown to the player.
func errorText(err error, now time.Time) string {
	var cooldown *ledger.CooldownError
	var funds *ledger.InsufficientFundsError

	switch {
	case errors.As(err, &cooldown):
		left := cooldown.NextEligibleAt.Sub(now).Round(time.Minute)
		return fmt.Sprintf("⏳ Your %s bonus is available again in %s", cooldown.Bonus, left)
	case errors.As(err, &funds):
		return fmt.Sprintf("❌ Not enough credits: you have %d, you need %d", funds.Balance, funds.Required)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "❌ Not enough credits"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "❌ Unknown player. They need to /start the bot first"
	case errors.Is(err, ledger.ErrSelfTransfer):
		return "❌ You cannot gift yourself"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "❌ The amount must be positive"
	case errors.Is(err, ledger.ErrPersistence):
		return "❌ Could not save your balance, please try again later"
	case errors.Is(err, ledger.ErrBusy), errors.Is(err, engine.ErrBusy):
		return "⏳ Your previous action is still running, try again in a moment"
	case errors.Is(err, engine.ErrValidation):
		return "❌ " + capitalize(detail(err, engine.ErrValidation))
	case errors.Is(err, engine.ErrSessionConflict):
		if d := detail(err, engine.ErrSessionConflict); d != session.ErrExists.Error() {
			return "❌ " + capitalize(d)
		}
		return "❌ You already have a game running. Finish it or /end it"
	case errors.Is(err, engine.ErrSessionNotFound):
		return "❌ No active game. Start one with /mine or /duel"
	case errors.Is(err, engine.ErrInvalidTransition):
		return "❌ " + capitalize(detail(err, engine.ErrInvalidTransition))
	case errors.Is(err, shop.ErrItemNotFound):
		return "❌ No such theme. See /shop"
	case errors.Is(err, shop.ErrAlreadyOwned):
		return "❌ You already own this theme"
	case errors.Is(err, shop.ErrNotOwned):
		return "❌ Buy the theme first with /buy"
	default:
		log.Error().Err(err).Msg("Unhandled error in handler")
		return "❌ Something went wrong, please try again later"
	}
}

// detail strips the sentinel's text from a wrapped error message.
func detail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// settled drops ErrNotify: the action succeeded and only its message failed.
func settled(err error) error {
	if errors.Is(err, engine.ErrNotify) {
		return nil
	}
	return err
}
