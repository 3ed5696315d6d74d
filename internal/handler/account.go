// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/model"
)

// ContextKeyCreated is set by the account middleware when the sender's
// account was created by the current update.
const ContextKeyCreated = "account_created"

const helpText = `🎮 Mines Wager Bot 🎮

Account:
/start - Create your account
/balance - Check your balance
/daily - Claim the daily bonus
/weekly - Claim the weekly bonus
/leaderboard - Richest players
/history - Your last transactions
/gift @username <amount> - Send credits to a player

Mines:
/mine <stake> <mines> - Start a game, e.g. /mine 10 5
/cashout - Cash out your winnings
/end - Cancel your game for a full refund

Duels:
/duel <stake> - Challenge the chat to tic-tac-toe
/duel <stake> house - Play against the house

Themes:
/shop - Browse board themes
/buy <theme> - Buy a theme
/theme <theme> - Switch to an owned theme

Rules:
1. 5x5 grid with hidden gems and bombs
2. Reveal tiles to find gems, numbers count nearby bombs
3. Cash out after finding at least 2 gems
4. Hit a bomb and you lose your stake`

// AccountHandler handles account-related commands.
type AccountHandler struct {
	engine *engine.Engine
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(eng *engine.Engine) *AccountHandler {
	return &AccountHandler{engine: eng}
}

// HandleStart handles the /start command.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	acc, err := h.engine.Balance(sender.ID)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	if created, _ := c.Get(ContextKeyCreated).(bool); created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome to Mines, %s!\n\n"+
				"You've been given %d credits to start playing.\n"+
				"Use /help to learn how to play.",
			sender.FirstName, acc.Balance,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 Welcome back, %s!\n\n"+
			"Your current balance: %d credits\n"+
			"Use /help to see available commands.",
		sender.FirstName, acc.Balance,
	))
}

// HandleHelp handles the /help command.
func (h *AccountHandler) HandleHelp(c tele.Context) error {
	return c.Reply(helpText)
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	acc, err := h.engine.Balance(sender.ID)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return c.Reply(fmt.Sprintf("💰 Your current balance: %d credits", acc.Balance))
}

// HandleDaily handles the /daily command.
func (h *AccountHandler) HandleDaily(c tele.Context) error {
	return h.claim(c, "daily", h.engine.ClaimDailyBonus)
}

// HandleWeekly handles the /weekly command.
func (h *AccountHandler) HandleWeekly(c tele.Context) error {
	return h.claim(c, "weekly", h.engine.ClaimWeeklyBonus)
}

func (h *AccountHandler) claim(c tele.Context, kind string, claim func(context.Context, int64) (*model.Account, error)) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	before, err := h.engine.Balance(sender.ID)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	acc, err := claim(context.Background(), sender.ID)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	return c.Reply(fmt.Sprintf(
		"🎁 %s bonus claimed: +%d credits\n"+
			"💰 Balance: %d",
		capitalize(kind), acc.Balance-before.Balance, acc.Balance,
	))
}

// HandleHistory handles the /history command.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	txs, err := h.engine.History(context.Background(), sender.ID, 10)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return c.Reply(FormatHistory(txs))
}

// FormatHistory lists journal lines newest first.
func FormatHistory(txs []model.Transaction) string {
	if len(txs) == 0 {
		return "📜 No transactions yet"
	}
	var sb strings.Builder
	sb.WriteString("📜 Recent transactions\n")
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	for _, tx := range txs {
		fmt.Fprintf(&sb, "%s  %+d  %s\n", tx.CreatedAt.Format("01-02 15:04"), tx.Amount, strings.ReplaceAll(tx.Type, "_", " "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
