package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/game/tictactoe"
	"mines-wager-bot/internal/shop"
)

// Callback actions. Buttons carry "\f<action>|<args>" as their data.
const (
	CallbackReveal  = "mines_reveal"  // mines_reveal|owner|row|col
	CallbackCashOut = "mines_cashout" // mines_cashout|owner
	CallbackAccept  = "duel_accept"   // duel_accept|inviter
	CallbackMove    = "duel_move"     // duel_move|owner|row|col
)

var adjacentGlyphs = [...]string{"", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣"}

// decodeCallback splits raw callback data into its action and arguments.
func decodeCallback(raw string) (string, []string) {
	raw = strings.TrimPrefix(raw, "\f")
	parts := strings.Split(raw, "|")
	return parts[0], parts[1:]
}

// cellArgs parses "owner|row|col".
func cellArgs(args []string) (owner int64, row, col int, err error) {
	if len(args) != 3 {
		return 0, 0, 0, fmt.Errorf("want 3 arguments, got %d", len(args))
	}
	if owner, err = strconv.ParseInt(args[0], 10, 64); err != nil {
		return 0, 0, 0, err
	}
	if row, err = strconv.Atoi(args[1]); err != nil {
		return 0, 0, 0, err
	}
	if col, err = strconv.Atoi(args[2]); err != nil {
		return 0, 0, 0, err
	}
	return owner, row, col, nil
}

func idArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("want 1 argument, got %d", len(args))
	}
	return strconv.ParseInt(args[0], 10, 64)
}

func idStr(v int64) string { return strconv.FormatInt(v, 10) }

// minesGlyph picks the tile for one cell under a theme.
func minesGlyph(c mines.Cell, g shop.Glyphs) string {
	switch {
	case !c.Revealed:
		return g.Hidden
	case c.Exploded:
		return g.Exploded
	case c.Mine:
		return g.Bomb
	case c.Adjacent > 0:
		return adjacentGlyphs[c.Adjacent]
	default:
		return g.Gem
	}
}

// MinesMarkup builds the 5x5 board keyboard with an optional cash-out row.
func MinesMarkup(v engine.MinesView) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	glyphs := shop.Theme(v.Theme)
	owner := idStr(v.Key.UserID)

	rows := make([]tele.Row, 0, mines.Size+1)
	for r := range mines.Size {
		btns := make([]tele.Btn, 0, mines.Size)
		for c := range mines.Size {
			btns = append(btns, markup.Data(minesGlyph(v.Cells[r][c], glyphs), CallbackReveal, owner, strconv.Itoa(r), strconv.Itoa(c)))
		}
		rows = append(rows, markup.Row(btns...))
	}
	if v.CanCashOut && !v.Finished {
		label := fmt.Sprintf("💰 Cash out %d (%.2fx)", v.Payout, v.Multiplier)
		rows = append(rows, markup.Row(markup.Data(label, CallbackCashOut, owner)))
	}

	markup.Inline(rows...)
	return markup
}

// MinesText is the caption above a live board.
func MinesText(v engine.MinesView, player string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💎 %s's Mines game 💣\n\n", player)
	fmt.Fprintf(&sb, "Stake: %d\n", v.Stake)
	fmt.Fprintf(&sb, "Mines: %d\n", v.MineCount)
	fmt.Fprintf(&sb, "Gems found: %d/%d\n", v.SafeRevealed, mines.Cells-v.MineCount)
	fmt.Fprintf(&sb, "Multiplier: %.2fx", v.Multiplier)
	return sb.String()
}

// DuelMarkup builds the 3x3 duel keyboard.
func DuelMarkup(v engine.DuelView) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	owner := idStr(v.Key.UserID)

	rows := make([]tele.Row, 0, tictactoe.Size)
	for r := range tictactoe.Size {
		btns := make([]tele.Btn, 0, tictactoe.Size)
		for c := range tictactoe.Size {
			btns = append(btns, markup.Data(markGlyph(v.Board[r][c]), CallbackMove, owner, strconv.Itoa(r), strconv.Itoa(c)))
		}
		rows = append(rows, markup.Row(btns...))
	}

	markup.Inline(rows...)
	return markup
}

func markGlyph(m tictactoe.Mark) string {
	switch m {
	case tictactoe.X:
		return "❌"
	case tictactoe.O:
		return "⭕"
	default:
		return "▫️"
	}
}

// DuelText is the caption above a duel board.
func DuelText(v engine.DuelView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚔️ Duel for %d each\n", v.Stake)
	fmt.Fprintf(&sb, "❌ %s vs ⭕ %s\n\n", v.Name(v.PlayerX), v.Name(v.PlayerO))
	if v.Status == tictactoe.InProgress {
		fmt.Fprintf(&sb, "Turn: %s %s", markGlyph(markOf(v, v.Turn)), v.Name(v.Turn))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func markOf(v engine.DuelView, player int64) tictactoe.Mark {
	if player == v.PlayerX {
		return tictactoe.X
	}
	return tictactoe.O
}

// InvitationText announces an open challenge.
func InvitationText(inv engine.Invitation, now time.Time) string {
	left := inv.ExpiresAt.Sub(now).Round(time.Second)
	return fmt.Sprintf("⚔️ %s challenges the chat to a duel for %d credits!\n\nFirst to accept plays. Expires in %s.",
		inv.InviterName, inv.Stake, left)
}

// InvitationMarkup holds the accept button.
func InvitationMarkup(inv engine.Invitation) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("✅ Accept", CallbackAccept, idStr(inv.Key.UserID))))
	return markup
}

// SettlementText summarizes a settled game. player names the Mines player.
func SettlementText(st engine.Settlement, player string) string {
	switch st.Game {
	case engine.GameMines:
		return minesResult(st, player)
	case engine.GameDuel:
		return duelResult(st)
	}
	return ""
}

func minesResult(st engine.Settlement, player string) string {
	var sb strings.Builder
	if st.Mines != nil {
		sb.WriteString(MinesText(*st.Mines, player))
		sb.WriteString("\n\n")
	}
	switch st.Outcome {
	case engine.OutcomeWin:
		mult := 0.0
		if st.Mines != nil {
			mult = st.Mines.Multiplier
		}
		fmt.Fprintf(&sb, "💰 %s cashed out %d at %.2fx!", player, st.Payout, mult)
	case engine.OutcomeLoss:
		stake := int64(0)
		if st.Mines != nil {
			stake = st.Mines.Stake
		}
		fmt.Fprintf(&sb, "💥 Boom! %s lost %d.", player, stake)
	case engine.OutcomeCancel:
		fmt.Fprintf(&sb, "🛑 Game cancelled, %d refunded.", st.Payout)
	}
	if bal, ok := st.Balances[st.Key.UserID]; ok {
		fmt.Fprintf(&sb, "\nBalance: %d", bal)
	}
	return sb.String()
}

func duelResult(st engine.Settlement) string {
	var sb strings.Builder
	if st.Duel != nil {
		sb.WriteString(DuelText(*st.Duel))
		sb.WriteString("\n\n")
	}
	name := func(id int64) string {
		if st.Duel != nil {
			return st.Duel.Name(id)
		}
		return strconv.FormatInt(id, 10)
	}
	switch st.Outcome {
	case engine.OutcomeWin:
		fmt.Fprintf(&sb, "🏆 %s wins %d", name(st.Winner), st.Payout)
		if st.Fee > 0 {
			fmt.Fprintf(&sb, " (house fee %d)", st.Fee)
		}
	case engine.OutcomeDraw:
		sb.WriteString("🤝 Draw! Stakes refunded.")
	case engine.OutcomeCancel:
		sb.WriteString("🛑 Duel cancelled, stakes refunded.")
	}
	return sb.String()
}
