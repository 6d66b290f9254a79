package tictactoe

import (
	"encoding/json"
	"fmt"
)

// Symbol is the content of one cell.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Opponent returns the other player's symbol.
func (s Symbol) Opponent() Symbol {
	if s == X {
		return O
	}
	return X
}

// Board is a flattened N×N grid, row-major.
type Board []Symbol

// NewBoard returns an empty board with size*size cells.
func NewBoard(size int) Board {
	return make(Board, size*size)
}

// Size returns N for an N×N board.
func (b Board) Size() int {
	n := 0
	for n*n < len(b) {
		n++
	}
	return n
}

// Clone returns a copy that can be mutated independently.
func (b Board) Clone() Board {
	c := make(Board, len(b))
	copy(c, b)
	return c
}

// InRange reports whether cell is a valid index.
func (b Board) InRange(cell int) bool {
	return cell >= 0 && cell < len(b)
}

// Occupied reports whether cell already holds a symbol.
func (b Board) Occupied(cell int) bool {
	return b[cell] != Empty
}

// Full reports whether every cell is occupied.
func (b Board) Full() bool {
	for _, v := range b {
		if v == Empty {
			return false
		}
	}
	return true
}

// EmptyCells returns the indices of empty cells in ascending order.
func (b Board) EmptyCells() []int {
	cells := make([]int, 0, len(b))
	for i, v := range b {
		if v == Empty {
			cells = append(cells, i)
		}
	}
	return cells
}

// Winner returns the symbol owning a complete line, or Empty.
func (b Board) Winner() Symbol {
	return Winner(b)
}

// Winner checks rows, columns, the main diagonal and the anti-diagonal in
// that order and returns the first complete line's symbol. A board whose
// length is not a perfect square has no lines and yields Empty.
func Winner(b Board) Symbol {
	size := b.Size()
	if size == 0 || size*size != len(b) {
		return Empty
	}

	// rows
	for r := 0; r < size; r++ {
		if s := line(b, r*size, 1, size); s != Empty {
			return s
		}
	}
	// cols
	for c := 0; c < size; c++ {
		if s := line(b, c, size, size); s != Empty {
			return s
		}
	}
	// diags
	if s := line(b, 0, size+1, size); s != Empty {
		return s
	}
	return line(b, size-1, size-1, size)
}

// line walks size cells from start with the given stride.
func line(b Board, start, stride, size int) Symbol {
	first := b[start]
	if first == Empty {
		return Empty
	}
	for i := 1; i < size; i++ {
		if b[start+i*stride] != first {
			return Empty
		}
	}
	return first
}

// MarshalJSON encodes empty cells as null.
func (b Board) MarshalJSON() ([]byte, error) {
	cells := make([]*string, len(b))
	for i, v := range b {
		if v != Empty {
			s := string(v)
			cells[i] = &s
		}
	}
	return json.Marshal(cells)
}

// UnmarshalJSON decodes null as an empty cell and rejects anything but "X" or "O".
func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []*string
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	out := make(Board, len(cells))
	for i, c := range cells {
		if c == nil {
			continue
		}
		switch Symbol(*c) {
		case X, O:
			out[i] = Symbol(*c)
		default:
			return fmt.Errorf("cell %d: invalid symbol %q", i, *c)
		}
	}
	*b = out
	return nil
}
