package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
)

// AdminHandler handles admin-only commands. Permission is checked by the
// admin middleware.
type AdminHandler struct {
	engine       *engine.Engine
	resetBalance int64
}

// NewAdminHandler creates a new AdminHandler. /resetdata without an amount
// resets to resetBalance.
func NewAdminHandler(eng *engine.Engine, resetBalance int64) *AdminHandler {
	return &AdminHandler{engine: eng, resetBalance: resetBalance}
}

// HandleBroadcast handles the /broadcast command.
// Format: /broadcast <message>
func (h *AdminHandler) HandleBroadcast(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	text := strings.TrimSpace(c.Data())
	if text == "" {
		return c.Reply("❌ Usage: /broadcast <message>")
	}

	sent, failed := Broadcast(c.Bot(), h.engine.KnownChats(), "📢 "+text)

	log.Info().
		Int64("admin_id", sender.ID).
		Int("sent", sent).
		Int("failed", failed).
		Str("operation", "broadcast").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("✅ Broadcast sent to %d chats (%d failed)", sent, failed))
}

// Broadcast sends text to every chat and counts the outcomes. A failed chat,
// for example one that blocked the bot, does not stop the rest.
func Broadcast(api API, chats []int64, text string) (sent, failed int) {
	for _, chatID := range chats {
		if _, err := api.Send(tele.ChatID(chatID), text); err != nil {
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("Broadcast delivery failed")
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

// HandleResetData handles the /resetdata command.
// Format: /resetdata [balance]
func (h *AdminHandler) HandleResetData(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	amount := h.resetBalance
	if args := c.Args(); len(args) > 0 {
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || v < 0 {
			return c.Reply("❌ Usage: /resetdata [balance]")
		}
		amount = v
	}

	n, err := h.engine.AdminResetAllBalances(context.Background(), amount)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int("accounts", n).
		Int64("balance", amount).
		Str("operation", "reset_data").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("✅ Reset %d accounts to %d credits", n, amount))
}

// HandleSetBalance handles the /setbalance command.
// Format: /setbalance @username amount
func (h *AdminHandler) HandleSetBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("❌ Usage: /setbalance @username <amount>")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount < 0 {
		return c.Reply("❌ Amount must be a whole number of at least 0")
	}

	target, err := h.engine.FindPlayer(args[0])
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	acc, err := h.engine.AdminSetBalance(context.Background(), target.ID, amount)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", target.ID).
		Int64("balance", amount).
		Str("operation", "set_balance").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ Balance updated\n\n"+
			"👤 User: %s (ID: %d)\n"+
			"💰 Balance: %d",
		acc.DisplayName(), acc.ID, acc.Balance,
	))
}
