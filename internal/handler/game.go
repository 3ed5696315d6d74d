package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
)

// GameHandler handles Mines commands and board buttons.
type GameHandler struct {
	engine   *engine.Engine
	notifier *Notifier
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(eng *engine.Engine, notifier *Notifier) *GameHandler {
	return &GameHandler{engine: eng, notifier: notifier}
}

// HandleMine handles the /mine command. The board itself is posted by the
// notifier.
// Format: /mine <stake> <mines>
func (h *GameHandler) HandleMine(c tele.Context) error {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 2 {
		return c.Reply("❌ Usage: /mine <stake> <mines>\nExample: /mine 100 5")
	}
	stake, err1 := strconv.ParseInt(args[0], 10, 64)
	mineCount, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return c.Reply("❌ Stake and mines must be whole numbers")
	}

	_, err := h.engine.StartMines(context.Background(), chat.ID, sender.ID, stake, mineCount)
	if err = settled(err); err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return nil
}

// HandleCashOut handles the /cashout command.
func (h *GameHandler) HandleCashOut(c tele.Context) error {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	st, err := h.engine.CashOut(context.Background(), chat.ID, sender.ID)
	if err = settled(err); err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return c.Reply(fmt.Sprintf("💰 Cashed out %d credits. Balance: %d", st.Payout, st.Balances[sender.ID]))
}

// HandleEnd handles the /end command: it cancels the caller's Mines game for
// a refund, or withdraws their open challenge.
func (h *GameHandler) HandleEnd(c tele.Context) error {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	ctx := context.Background()
	res, err := h.engine.CancelSession(ctx, chat.ID, sender.ID)
	if err = settled(err); err != nil {
		return c.Reply(errorText(err, time.Now()))
	}

	switch {
	case res.Invitation != nil:
		if err := h.notifier.InvitationWithdrawn(ctx, *res.Invitation); err != nil {
			log.Warn().Err(err).Str("invitation_id", res.Invitation.ID).Msg("Failed to close invitation message")
		}
		return c.Reply("🚫 Challenge withdrawn")
	case res.Settlement != nil && res.Settlement.Game == engine.GameDuel:
		return c.Reply(fmt.Sprintf("🛑 Duel cancelled, %d refunded", res.Settlement.Payout))
	case res.Settlement != nil:
		return c.Reply(fmt.Sprintf("🛑 Game cancelled, %d refunded. Balance: %d",
			res.Settlement.Payout, res.Settlement.Balances[sender.ID]))
	}
	return nil
}

// HandleCallback handles board buttons.
func (h *GameHandler) HandleCallback(c tele.Context) error {
	callback, sender, chat := c.Callback(), c.Sender(), c.Chat()
	if callback == nil || sender == nil || chat == nil {
		return nil
	}

	action, args := decodeCallback(callback.Data)
	switch action {
	case CallbackReveal:
		owner, row, col, err := cellArgs(args)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		if owner != sender.ID {
			return c.Respond(&tele.CallbackResponse{Text: "❌ This is not your game", ShowAlert: true})
		}
		res, err := h.engine.RevealCell(context.Background(), chat.ID, sender.ID, row, col)
		if err = settled(err); err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now())})
		}
		return c.Respond(&tele.CallbackResponse{Text: revealToast(res)})

	case CallbackCashOut:
		owner, err := idArg(args)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		if owner != sender.ID {
			return c.Respond(&tele.CallbackResponse{Text: "❌ This is not your game", ShowAlert: true})
		}
		st, err := h.engine.CashOut(context.Background(), chat.ID, sender.ID)
		if err = settled(err); err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now())})
		}
		return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("💰 Cashed out %d credits", st.Payout)})
	}

	return c.Respond()
}

func revealToast(res engine.RevealResult) string {
	if res.Settlement == nil {
		return "💎 Gem found!"
	}
	switch res.Settlement.Outcome {
	case engine.OutcomeLoss:
		return "💥 Boom!"
	case engine.OutcomeWin:
		return fmt.Sprintf("🎉 Board cleared! +%d", res.Settlement.Payout)
	}
	return ""
}
