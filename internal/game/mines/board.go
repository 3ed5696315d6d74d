// Package mines implements the 5x5 Mines board. It knows nothing about
// stakes beyond computing a payout, and nothing about cash-out rules.
package mines

import (
	"errors"
	"math"
	"math/rand/v2"
)

// Board geometry.
const (
	Size  = 5
	Cells = Size * Size

	MinMineCount = 1
	MaxMineCount = Cells - 1
)

// Board errors.
var (
	ErrOutOfBounds     = errors.New("cell out of bounds")
	ErrAlreadyRevealed = errors.New("cell already revealed")
	ErrBoardFinished   = errors.New("board already finished")
	ErrInvalidMines    = errors.New("invalid mine count")
)

// Outcome of a reveal.
type Outcome int

const (
	Safe Outcome = iota
	Bomb
)

func (o Outcome) String() string {
	if o == Bomb {
		return "bomb"
	}
	return "safe"
}

// Coefficients shape the multiplier curve:
// multiplier = 1 + safe * (Base + mines/24 * Density).
type Coefficients struct {
	Base    float64
	Density float64
}

// DefaultCoefficients are the production payout coefficients.
var DefaultCoefficients = Coefficients{Base: 0.25, Density: 0.5}

// Board is not safe for concurrent use; callers serialize access.
type Board struct {
	mines    [Cells]bool
	revealed [Cells]bool

	mineCount    int
	safeRevealed int
	exploded     int // cell index, -1 if none
	coefficients Coefficients
}

// NewBoard places mineCount mines uniformly without replacement.
func NewBoard(mineCount int, rng *rand.Rand, coef Coefficients) (*Board, error) {
	if mineCount < MinMineCount || mineCount > MaxMineCount {
		return nil, ErrInvalidMines
	}
	positions := rng.Perm(Cells)[:mineCount]
	return NewBoardWithMines(positions, coef)
}

// NewBoardWithMines builds a board with mines at the given cell indexes (row*Size+col).
func NewBoardWithMines(positions []int, coef Coefficients) (*Board, error) {
	b := &Board{exploded: -1, coefficients: coef}
	for _, p := range positions {
		if p < 0 || p >= Cells || b.mines[p] {
			return nil, ErrInvalidMines
		}
		b.mines[p] = true
		b.mineCount++
	}
	if b.mineCount < MinMineCount || b.mineCount > MaxMineCount {
		return nil, ErrInvalidMines
	}
	return b, nil
}

// Reveal opens one cell. A bomb finishes the board and opens every cell.
func (b *Board) Reveal(row, col int) (Outcome, error) {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return Safe, ErrOutOfBounds
	}
	if b.Finished() {
		return Safe, ErrBoardFinished
	}
	idx := row*Size + col
	if b.revealed[idx] {
		return Safe, ErrAlreadyRevealed
	}

	if b.mines[idx] {
		b.exploded = idx
		for i := range b.revealed {
			b.revealed[i] = true
		}
		return Bomb, nil
	}

	b.revealed[idx] = true
	b.safeRevealed++
	return Safe, nil
}

// Multiplier is recomputed from the counters on every call.
func (b *Board) Multiplier() float64 {
	step := b.coefficients.Base + float64(b.mineCount)/float64(MaxMineCount)*b.coefficients.Density
	return 1 + float64(b.safeRevealed)*step
}

// Payout is floor(stake * multiplier).
func (b *Board) Payout(stake int64) int64 {
	return int64(math.Floor(float64(stake) * b.Multiplier()))
}

// SafeRevealed returns the number of gems found.
func (b *Board) SafeRevealed() int { return b.safeRevealed }

// MineCount returns the number of mines on the board.
func (b *Board) MineCount() int { return b.mineCount }

// Exploded reports whether a bomb was hit.
func (b *Board) Exploded() bool { return b.exploded >= 0 }

// Finished reports whether any further reveal is impossible.
func (b *Board) Finished() bool {
	return b.Exploded() || b.safeRevealed == Cells-b.mineCount
}

// Cell describes one cell for rendering.
type Cell struct {
	Revealed bool
	Mine     bool
	Exploded bool
	Adjacent int
}

// CellAt returns the display state of a cell. Mine positions of hidden cells are not exposed.
func (b *Board) CellAt(row, col int) Cell {
	idx := row*Size + col
	c := Cell{Revealed: b.revealed[idx]}
	if c.Revealed {
		c.Mine = b.mines[idx]
		c.Exploded = idx == b.exploded
		c.Adjacent = b.AdjacentMines(row, col)
	}
	return c
}

// AdjacentMines counts mines in the up to eight neighbouring cells.
func (b *Board) AdjacentMines(row, col int) int {
	n := 0
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			r, c := row+dr, col+dc
			if r >= 0 && r < Size && c >= 0 && c < Size && b.mines[r*Size+c] {
				n++
			}
		}
	}
	return n
}

// RevealAll opens every cell, used when a finished game is shown.
func (b *Board) RevealAll() {
	for i := range b.revealed {
		b.revealed[i] = true
	}
}
