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

// TransferHandler handles gifts between players.
type TransferHandler struct {
	engine *engine.Engine
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(eng *engine.Engine) *TransferHandler {
	return &TransferHandler{engine: eng}
}

// HandleGift handles the /gift command.
// Format: /gift @username amount
func (h *TransferHandler) HandleGift(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 2 || !strings.HasPrefix(args[0], "@") {
		return c.Reply("❌ Usage: /gift @username <amount>\nExample: /gift @alice 100")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount < 1 {
		return c.Reply("❌ Amount must be a whole number of at least 1")
	}

	from, to, err := h.engine.Gift(context.Background(), sender.ID, args[0], amount)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	log.Info().
		Int64("from_id", sender.ID).
		Int64("to_id", to.ID).
		Int64("amount", amount).
		Msg("Gift sent")

	notice := fmt.Sprintf("🎁 You received %d credits from %s!\nNew balance: %d", amount, from.DisplayName(), to.Balance)
	if _, err := c.Bot().Send(&tele.User{ID: to.ID}, notice); err != nil {
		log.Debug().Err(err).Int64("to_id", to.ID).Msg("Could not notify gift recipient")
	}

	return c.Reply(fmt.Sprintf(
		"🎁 Sent %d credits to %s\n"+
			"💰 Your balance: %d",
		amount, to.DisplayName(), from.Balance,
	))
}
