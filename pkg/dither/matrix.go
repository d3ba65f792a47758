package dither

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var ErrInvalidMatrix = errors.New("invalid dither matrix")

// BayerOrders lists the matrix sizes accepted by Bayer.
var BayerOrders = []int{2, 4, 8, 16}

// Matrix is an immutable N×N threshold map. Ranks are in [0, N*N) and are
// exposed as thresholds in (0, 1) relative to one palette step.
type Matrix struct {
	n          int
	ranks      []int
	thresholds []float64
}

// Bayer builds the classic recursive Bayer matrix of the given order.
func Bayer(n int) (*Matrix, error) {
	if !lo.Contains(BayerOrders, n) {
		return nil, errors.Wrapf(ErrInvalidMatrix, "bayer order %d not in %v", n, BayerOrders)
	}

	rows := [][]int{{0}}
	for size := 1; size < n; size *= 2 {
		next := make([][]int, size*2)
		for y := range next {
			next[y] = make([]int, size*2)
		}
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				v := 4 * rows[y][x]
				next[y][x] = v
				next[y][x+size] = v + 2
				next[y+size][x] = v + 3
				next[y+size][x+size] = v + 1
			}
		}
		rows = next
	}

	return NewMatrix(rows)
}

// NewMatrix validates rows and copies them into a Matrix.
func NewMatrix(rows [][]int) (*Matrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, errors.Wrap(ErrInvalidMatrix, "empty")
	}

	cells := n * n
	m := &Matrix{
		n:          n,
		ranks:      make([]int, 0, cells),
		thresholds: make([]float64, 0, cells),
	}

	for y, row := range rows {
		if len(row) != n {
			return nil, errors.Wrapf(ErrInvalidMatrix, "row %d has %d cells, want %d", y, len(row), n)
		}
		for x, v := range row {
			if v < 0 || v >= cells {
				return nil, errors.Wrapf(ErrInvalidMatrix, "value %d at (%d,%d) out of range [0,%d)", v, x, y, cells)
			}
			m.ranks = append(m.ranks, v)
			m.thresholds = append(m.thresholds, (float64(v)+0.5)/float64(cells))
		}
	}

	return m, nil
}

func (m *Matrix) Size() int {
	return m.n
}

// Rank returns the raw matrix value at (x, y), tiling in both directions.
func (m *Matrix) Rank(x, y int) int {
	return m.ranks[m.index(x, y)]
}

// Threshold returns the normalized threshold at (x, y), tiling in both directions.
func (m *Matrix) Threshold(x, y int) float64 {
	return m.thresholds[m.index(x, y)]
}

// Rows returns a copy of the matrix values.
func (m *Matrix) Rows() [][]int {
	rows := make([][]int, m.n)
	for y := range rows {
		rows[y] = append([]int(nil), m.ranks[y*m.n:(y+1)*m.n]...)
	}
	return rows
}

func (m *Matrix) index(x, y int) int {
	return wrap(y, m.n)*m.n + wrap(x, m.n)
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
