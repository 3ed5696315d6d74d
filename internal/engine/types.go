package engine

import (
	"cmp"
	"maps"
	"time"

	"mines-wager-bot/internal/game/mines"
	"mines-wager-bot/internal/game/tictactoe"
)

// Key identifies at most one live session: a participant inside one chat.
type Key struct {
	ChatID int64
	UserID int64
}

func (k Key) compare(o Key) int {
	if c := cmp.Compare(k.ChatID, o.ChatID); c != 0 {
		return c
	}
	return cmp.Compare(k.UserID, o.UserID)
}

// Game names a session kind.
type Game string

const (
	GameMines Game = "mines"
	GameDuel  Game = "duel"
)

// Outcome is the financial result of a session.
type Outcome int

const (
	OutcomeWin Outcome = iota + 1
	OutcomeLoss
	OutcomeCancel
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	case OutcomeCancel:
		return "cancel"
	case OutcomeDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// OpponentKind tells a human opponent from the house.
type OpponentKind int

const (
	OpponentHuman OpponentKind = iota
	OpponentHouse
)

func (k OpponentKind) String() string {
	if k == OpponentHouse {
		return "house"
	}
	return "human"
}

// Opponent is the second seat of a duel: Human(id) or HouseAI(policy).
type Opponent struct {
	kind   OpponentKind
	id     int64
	policy tictactoe.Policy
}

// Human seats a player account.
func Human(id int64) Opponent {
	return Opponent{kind: OpponentHuman, id: id}
}

// HouseAI seats the house account, whose moves come from policy.
func HouseAI(houseID int64, policy tictactoe.Policy) Opponent {
	return Opponent{kind: OpponentHouse, id: houseID, policy: policy}
}

// Kind returns the opponent kind.
func (o Opponent) Kind() OpponentKind { return o.kind }

// ID returns the opponent's account id.
func (o Opponent) ID() int64 { return o.id }

// respond plays the house's reply when it is the house's turn. It is a no-op
// for human opponents.
func (o Opponent) respond(g *tictactoe.Game) {
	if o.policy == nil || g.Status() != tictactoe.InProgress || g.Turn() != tictactoe.Player(o.id) {
		return
	}
	if r, c, ok := o.policy.ChooseMove(g); ok {
		_, _ = g.Move(r, c, tictactoe.Player(o.id))
	}
}

type minesSession struct {
	id        string
	key       Key
	stake     int64
	board     *mines.Board
	theme     string
	createdAt time.Time
	settled   bool
}

type duelSession struct {
	id        string
	key       Key
	stake     int64
	opponent  Opponent
	names     map[int64]string
	game      *tictactoe.Game
	createdAt time.Time
	settled   bool
}

// MinesView is a copy of a Mines session for rendering.
type MinesView struct {
	SessionID    string
	Key          Key
	Stake        int64
	MineCount    int
	SafeRevealed int
	Multiplier   float64
	Payout       int64 // cash-out value at the current multiplier
	CanCashOut   bool
	Finished     bool
	Theme        string
	Cells        [mines.Size][mines.Size]mines.Cell
}

// DuelView is a copy of a duel for rendering.
type DuelView struct {
	SessionID string
	Key       Key
	Stake     int64
	Opponent  OpponentKind
	PlayerX   int64
	PlayerO   int64
	Names     map[int64]string
	Turn      int64
	Status    tictactoe.Status
	Winner    int64
	Board     [tictactoe.Size][tictactoe.Size]tictactoe.Mark
}

// Name returns a participant's display name.
func (v DuelView) Name(id int64) string { return v.Names[id] }

// Invitation is a pending offer to play a duel.
type Invitation struct {
	ID          string
	Key         Key
	InviterName string
	Stake       int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Settlement describes one settle call. Applied is false when the session was
// already gone and nothing was paid.
type Settlement struct {
	Applied   bool
	Game      Game
	SessionID string
	Key       Key
	Outcome   Outcome
	Winner    int64
	Payout    int64 // credited to the player, or to the winner of a duel
	Fee       int64
	Balances  map[int64]int64
	Mines     *MinesView
	Duel      *DuelView
}

func (s *minesSession) view(minReveals int) MinesView {
	b := s.board
	v := MinesView{
		SessionID:    s.id,
		Key:          s.key,
		Stake:        s.stake,
		MineCount:    b.MineCount(),
		SafeRevealed: b.SafeRevealed(),
		Multiplier:   b.Multiplier(),
		Payout:       b.Payout(s.stake),
		CanCashOut:   !b.Exploded() && b.SafeRevealed() >= minReveals,
		Finished:     b.Finished(),
		Theme:        s.theme,
	}
	for r := 0; r < mines.Size; r++ {
		for c := 0; c < mines.Size; c++ {
			v.Cells[r][c] = b.CellAt(r, c)
		}
	}
	return v
}

func (d *duelSession) view() DuelView {
	x, o := d.game.Players()
	v := DuelView{
		SessionID: d.id,
		Key:       d.key,
		Stake:     d.stake,
		Opponent:  d.opponent.Kind(),
		PlayerX:   int64(x),
		PlayerO:   int64(o),
		Names:     maps.Clone(d.names),
		Turn:      int64(d.game.Turn()),
		Status:    d.game.Status(),
		Winner:    int64(d.game.Winner()),
	}
	for r := 0; r < tictactoe.Size; r++ {
		for c := 0; c < tictactoe.Size; c++ {
			v.Board[r][c] = d.game.At(r, c)
		}
	}
	return v
}

// participants returns the account ids seated in the duel.
func (d *duelSession) participants() [2]int64 {
	return [2]int64{d.key.UserID, d.opponent.ID()}
}
