package handler

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/model"
)

const leaderboardSize = 10

// RankingHandler handles the leaderboard.
type RankingHandler struct {
	engine *engine.Engine
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(eng *engine.Engine) *RankingHandler {
	return &RankingHandler{engine: eng}
}

// HandleLeaderboard handles the /leaderboard command.
func (h *RankingHandler) HandleLeaderboard(c tele.Context) error {
	return c.Reply(FormatLeaderboard(h.engine.Leaderboard(leaderboardSize)))
}

// FormatLeaderboard renders the top players with medals for the first three.
func FormatLeaderboard(top []*model.Account) string {
	if len(top) == 0 {
		return "🏆 Leaderboard is empty!"
	}

	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	sb.WriteString("🏆 TOP PLAYERS 🏆\n")
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	for i, acc := range top {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&sb, "%s %s: %d\n", rank, acc.DisplayName(), acc.Balance)
	}
	return strings.TrimRight(sb.String(), "\n")
}
