package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/game/tictactoe"
)

// DuelHandler handles tic-tac-toe duels.
type DuelHandler struct {
	engine *engine.Engine
}

// NewDuelHandler creates a new DuelHandler.
func NewDuelHandler(eng *engine.Engine) *DuelHandler {
	return &DuelHandler{engine: eng}
}

// HandleDuel handles the /duel command. Without an opponent the challenge is
// open to the whole chat; "house" plays against the bot right away.
// Format: /duel <stake> [house]
func (h *DuelHandler) HandleDuel(c tele.Context) error {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /duel <stake> [house]\nExample: /duel 50")
	}
	stake, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Stake must be a whole number")
	}

	kind := engine.OpponentHuman
	if len(args) > 1 {
		switch strings.ToLower(args[1]) {
		case "house", "bot":
			kind = engine.OpponentHouse
		default:
			return c.Reply("❌ Usage: /duel <stake> [house]")
		}
	}

	_, err = h.engine.IssueChallenge(context.Background(), chat.ID, sender.ID, stake, kind)
	if err = settled(err); err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return nil
}

// HandleCallback handles the accept button and board moves.
func (h *DuelHandler) HandleCallback(c tele.Context) error {
	callback, sender, chat := c.Callback(), c.Sender(), c.Chat()
	if callback == nil || sender == nil || chat == nil {
		return nil
	}

	ctx := context.Background()
	action, args := decodeCallback(callback.Data)
	switch action {
	case CallbackAccept:
		inviter, err := idArg(args)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		if _, err := h.engine.AcceptChallenge(ctx, chat.ID, inviter, sender.ID); settled(err) != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now()), ShowAlert: true})
		}
		return c.Respond(&tele.CallbackResponse{Text: "⚔️ Challenge accepted!"})

	case CallbackMove:
		owner, row, col, err := cellArgs(args)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		res, err := h.engine.MakeMove(ctx, chat.ID, owner, row, col, sender.ID)
		if err = settled(err); err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now())})
		}
		return c.Respond(&tele.CallbackResponse{Text: moveToast(res, sender.ID)})
	}

	return c.Respond()
}

func moveToast(res engine.MoveResult, actor int64) string {
	st := res.Settlement
	switch {
	case st == nil:
		return ""
	case st.Outcome == engine.OutcomeDraw:
		return "🤝 Draw"
	case res.View.Status == tictactoe.Won && st.Winner == actor:
		return "🏆 You win!"
	default:
		return "😢 You lose"
	}
}
