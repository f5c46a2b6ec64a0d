package types

import "fmt"

// Unit is the smallest schedulable piece of work: one row of the grid.
type Unit struct {
	ID int `json:"id"`
}

// Result is the output of the compute kernel for exactly one unit.
type Result struct {
	UnitID int       `json:"unit_id"`
	Values []float64 `json:"values"`
}

// ResultMatrix is the ordered, row-major result of a complete run.
type ResultMatrix struct {
	Height int         `json:"height"`
	Width  int         `json:"width"`
	Rows   [][]float64 `json:"rows"`
}

// Row returns the values of row i.
func (m *ResultMatrix) Row(i int) ([]float64, error) {
	if i < 0 || i >= m.Height {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, m.Height)
	}
	return m.Rows[i], nil
}

// At returns the value at the given row and column.
func (m *ResultMatrix) At(row, col int) (float64, error) {
	values, err := m.Row(row)
	if err != nil {
		return 0, err
	}
	if col < 0 || col >= m.Width {
		return 0, fmt.Errorf("column %d out of range [0, %d)", col, m.Width)
	}
	return values[col], nil
}

// Empty reports whether the matrix has no rows.
func (m *ResultMatrix) Empty() bool {
	return m.Height == 0
}
