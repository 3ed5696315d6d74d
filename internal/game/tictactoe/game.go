// Package tictactoe implements the 3x3 turn game used for duels.
package tictactoe

import (
	"errors"
	"math/rand/v2"
)

// Size is the board edge length.
const Size = 3

// Game errors.
var (
	ErrGameOver     = errors.New("game is over")
	ErrOutOfBounds  = errors.New("cell out of bounds")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrCellOccupied = errors.New("cell already taken")
	ErrNotPlayer    = errors.New("not a participant")
)

// Mark is a cell value.
type Mark int

const (
	Empty Mark = iota
	X
	O
)

func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return " "
	}
}

// Status of a game.
type Status int

const (
	InProgress Status = iota
	Won
	Draw
)

// Player is a participant id. The house uses its ledger account id.
type Player int64

// MoveResult describes the state after a move.
type MoveResult struct {
	Status Status
	Winner Player // set when Status == Won
}

// Game is not safe for concurrent use; callers serialize access.
type Game struct {
	board   [Size][Size]Mark
	players [2]Player // players[0] plays X
	turn    int       // index into players
	moves   int
	status  Status
	winner  Player
}

// NewGame starts an empty board; the first mover is chosen uniformly at random.
func NewGame(p1, p2 Player, rng *rand.Rand) *Game {
	g := &Game{players: [2]Player{p1, p2}}
	g.turn = rng.IntN(2)
	return g
}

// NewGameWithStarter is NewGame with a fixed first mover.
func NewGameWithStarter(p1, p2, starter Player) *Game {
	g := &Game{players: [2]Player{p1, p2}}
	if starter == p2 {
		g.turn = 1
	}
	return g
}

// Move places actor's mark at (row, col).
func (g *Game) Move(row, col int, actor Player) (MoveResult, error) {
	if g.status != InProgress {
		return g.result(), ErrGameOver
	}
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return g.result(), ErrOutOfBounds
	}
	if actor != g.players[0] && actor != g.players[1] {
		return g.result(), ErrNotPlayer
	}
	if actor != g.players[g.turn] {
		return g.result(), ErrNotYourTurn
	}
	if g.board[row][col] != Empty {
		return g.result(), ErrCellOccupied
	}

	mark := markFor(g.turn)
	g.board[row][col] = mark
	g.moves++

	switch {
	case g.hasLine(mark):
		g.status = Won
		g.winner = actor
	case g.moves == Size*Size:
		g.status = Draw
	default:
		g.turn = 1 - g.turn
	}

	return g.result(), nil
}

// hasLine checks the three rows, three columns and both diagonals.
func (g *Game) hasLine(m Mark) bool {
	b := &g.board
	for i := 0; i < Size; i++ {
		if b[i][0] == m && b[i][1] == m && b[i][2] == m {
			return true
		}
		if b[0][i] == m && b[1][i] == m && b[2][i] == m {
			return true
		}
	}
	if b[0][0] == m && b[1][1] == m && b[2][2] == m {
		return true
	}
	return b[0][2] == m && b[1][1] == m && b[2][0] == m
}

func (g *Game) result() MoveResult {
	return MoveResult{Status: g.status, Winner: g.winner}
}

func markFor(idx int) Mark {
	if idx == 0 {
		return X
	}
	return O
}

// Status returns the current status.
func (g *Game) Status() Status { return g.status }

// Winner returns the winner once Status is Won.
func (g *Game) Winner() Player { return g.winner }

// Turn returns whose move it is.
func (g *Game) Turn() Player { return g.players[g.turn] }

// Players returns both participants; the first plays X.
func (g *Game) Players() (Player, Player) { return g.players[0], g.players[1] }

// MarkOf returns the mark a participant plays.
func (g *Game) MarkOf(p Player) Mark {
	if p == g.players[0] {
		return X
	}
	if p == g.players[1] {
		return O
	}
	return Empty
}

// At returns the mark at (row, col).
func (g *Game) At(row, col int) Mark { return g.board[row][col] }

// EmptyCells lists the free cells in row-major order.
func (g *Game) EmptyCells() [][2]int {
	var cells [][2]int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g.board[r][c] == Empty {
				cells = append(cells, [2]int{r, c})
			}
		}
	}
	return cells
}
