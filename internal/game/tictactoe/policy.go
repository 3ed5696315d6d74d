package tictactoe

import (
	"math/rand/v2"
	"sync"
)

// Policy picks the house's move. ok is false when no move is available.
type Policy interface {
	ChooseMove(g *Game) (row, col int, ok bool)
}

// RandomPolicy picks uniformly among empty cells.
type RandomPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPolicy creates a RandomPolicy. It is safe for concurrent use.
func NewRandomPolicy(rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{rng: rng}
}

// ChooseMove implements Policy.
func (p *RandomPolicy) ChooseMove(g *Game) (int, int, bool) {
	cells := g.EmptyCells()
	if len(cells) == 0 || g.Status() != InProgress {
		return 0, 0, false
	}
	p.mu.Lock()
	i := p.rng.IntN(len(cells))
	p.mu.Unlock()
	return cells[i][0], cells[i][1], true
}

// BlockingPolicy wins when it can, blocks the opponent's immediate win,
// and otherwise falls back to another policy.
type BlockingPolicy struct {
	Fallback Policy
}

// ChooseMove implements Policy.
func (p BlockingPolicy) ChooseMove(g *Game) (int, int, bool) {
	if g.Status() != InProgress {
		return 0, 0, false
	}
	me := g.Turn()
	mine := g.MarkOf(me)
	theirs := X
	if mine == X {
		theirs = O
	}

	for _, m := range []Mark{mine, theirs} {
		for _, cell := range g.EmptyCells() {
			g.board[cell[0]][cell[1]] = m
			wins := g.hasLine(m)
			g.board[cell[0]][cell[1]] = Empty
			if wins {
				return cell[0], cell[1], true
			}
		}
	}
	return p.Fallback.ChooseMove(g)
}
