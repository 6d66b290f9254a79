// Package ai picks moves for the computer opponent.
package ai

import (
	"math/rand/v2"

	"xox/internal/game/tictactoe"
)

const (
	winScore = 10

	// DefaultRandomness is the chance of playing a random cell instead of searching.
	DefaultRandomness = 0.15
)

// Rand is the subset of *rand.Rand the selector needs.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Selector chooses moves with a depth-limited minimax search, occasionally
// playing a random cell so the AI stays beatable.
type Selector struct {
	rand       Rand
	randomness float64
}

// NewSelector creates a selector. A nil rng uses the global source.
func NewSelector(rng Rand, randomness float64) *Selector {
	if rng == nil {
		rng = globalRand{}
	}
	return &Selector{rand: rng, randomness: randomness}
}

// SelectMove returns the cell toMove should play. ok is false when the board has no empty cell.
// The caller's board is not modified.
func (s *Selector) SelectMove(board tictactoe.Board, toMove tictactoe.Symbol, depth int) (cell int, ok bool) {
	avail := board.EmptyCells()
	if len(avail) == 0 {
		return 0, false
	}

	best := -1
	if s.randomness > 0 && s.rand.Float64() < s.randomness {
		best = avail[s.rand.IntN(len(avail))]
	} else {
		_, best = Minimax(board.Clone(), toMove, depth)
	}

	if best < 0 || !board.InRange(best) || board.Occupied(best) {
		best = avail[0]
	}
	return best, true
}

// Minimax scores the position for player to move. O maximises, X minimises.
// It returns the best score and the first cell reaching it in index order,
// or -1 when the position is terminal or depth is exhausted. The board is
// restored before returning.
func Minimax(board tictactoe.Board, player tictactoe.Symbol, depth int) (score, cell int) {
	switch board.Winner() {
	case tictactoe.X:
		return -winScore, -1
	case tictactoe.O:
		return winScore, -1
	}
	avail := board.EmptyCells()
	if len(avail) == 0 || depth == 0 {
		return 0, -1
	}

	maximise := player == tictactoe.O
	bestScore, bestCell := 10000, -1
	if maximise {
		bestScore = -10000
	}
	for _, i := range avail {
		board[i] = player
		sc, _ := Minimax(board, player.Opponent(), depth-1)
		board[i] = tictactoe.Empty

		if (maximise && sc > bestScore) || (!maximise && sc < bestScore) {
			bestScore, bestCell = sc, i
		}
	}
	return bestScore, bestCell
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }
