package coordinator

import (
	"fmt"

	"yqhp/rowfarm/pkg/types"
)

// Assembler collects results into row slots. Each slot is written at most once.
type Assembler struct {
	height int
	width  int
	rows   [][]float64
	filled []bool
	count  int
}

// NewAssembler creates an assembler for a height x width matrix.
func NewAssembler(height, width int) *Assembler {
	if height < 0 {
		height = 0
	}
	return &Assembler{
		height: height,
		width:  width,
		rows:   make([][]float64, height),
		filled: make([]bool, height),
	}
}

// Record stores r in its row. A second result for the same row is a
// *types.DuplicateUnitError and leaves the first one untouched.
func (a *Assembler) Record(r types.Result) error {
	if r.UnitID < 0 || r.UnitID >= a.height {
		return fmt.Errorf("result for unit %d out of range [0, %d)", r.UnitID, a.height)
	}
	if a.filled[r.UnitID] {
		return &types.DuplicateUnitError{UnitID: r.UnitID}
	}
	if len(r.Values) != a.width {
		return fmt.Errorf("result for unit %d has %d values, want %d", r.UnitID, len(r.Values), a.width)
	}

	a.rows[r.UnitID] = append([]float64(nil), r.Values...)
	a.filled[r.UnitID] = true
	a.count++
	return nil
}

// Recorded reports whether row id holds a result.
func (a *Assembler) Recorded(id int) bool {
	return id >= 0 && id < a.height && a.filled[id]
}

// IsComplete reports whether every row holds a result.
func (a *Assembler) IsComplete() bool {
	return a.count == a.height
}

// Completed returns the number of recorded rows.
func (a *Assembler) Completed() int {
	return a.count
}

// Materialize returns the ordered matrix. It fails with types.ErrIncomplete
// until every row is recorded.
func (a *Assembler) Materialize() (*types.ResultMatrix, error) {
	if !a.IsComplete() {
		return nil, fmt.Errorf("%w: %d of %d rows recorded", types.ErrIncomplete, a.count, a.height)
	}

	rows := make([][]float64, a.height)
	copy(rows, a.rows)
	return &types.ResultMatrix{
		Height: a.height,
		Width:  a.width,
		Rows:   rows,
	}, nil
}
