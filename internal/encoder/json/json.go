// Package json writes the matrix as {"height", "width", "rows"}.
package json

import (
	"io"

	"github.com/bytedance/sonic"

	"yqhp/rowfarm/internal/encoder"
	"yqhp/rowfarm/pkg/types"
)

func init() {
	encoder.Register("json", func() encoder.Encoder { return &Encoder{} })
}

// Encoder writes JSON.
type Encoder struct{}

func (*Encoder) Extension() string { return "json" }

func (*Encoder) Encode(w io.Writer, m *types.ResultMatrix) error {
	rows := m.Rows
	if rows == nil {
		rows = [][]float64{}
	}
	data, err := sonic.Marshal(&types.ResultMatrix{Height: m.Height, Width: m.Width, Rows: rows})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
