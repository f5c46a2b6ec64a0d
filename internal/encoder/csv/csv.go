// Package csv writes one line per row.
package csv

import (
	stdcsv "encoding/csv"
	"io"
	"strconv"

	"yqhp/rowfarm/internal/encoder"
	"yqhp/rowfarm/pkg/types"
)

func init() {
	encoder.Register("csv", func() encoder.Encoder { return &Encoder{} })
}

// Encoder writes comma separated values.
type Encoder struct{}

func (*Encoder) Extension() string { return "csv" }

func (*Encoder) Encode(w io.Writer, m *types.ResultMatrix) error {
	cw := stdcsv.NewWriter(w)

	record := make([]string, m.Width)
	for _, row := range m.Rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record[:len(row)]); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
