// Package all registers every output format.
package all

import (
	_ "yqhp/rowfarm/internal/encoder/csv"
	_ "yqhp/rowfarm/internal/encoder/json"
	_ "yqhp/rowfarm/internal/encoder/png"
)
