// Package encoder turns a finished result matrix into a file format.
//
// Formats register themselves from their own packages; import
// internal/encoder/all to get every one of them.
package encoder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/duke-git/lancet/v2/maputil"

	"yqhp/rowfarm/pkg/types"
)

// Encoder writes a matrix in one format.
type Encoder interface {
	// Encode writes m to w.
	Encode(w io.Writer, m *types.ResultMatrix) error

	// Extension is the file extension without the dot.
	Extension() string
}

// Factory creates an Encoder.
type Factory func() Encoder

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a format available by name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns the factory of a format.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List returns the registered format names, sorted.
func List() []string {
	registryMu.RLock()
	names := maputil.Keys(registry)
	registryMu.RUnlock()
	sort.Strings(names)
	return names
}

// New creates the encoder of a format.
func New(name string) (Encoder, error) {
	factory, ok := Get(name)
	if !ok {
		return nil, &UnknownFormatError{Format: name}
	}
	return factory(), nil
}

// FormatForPath guesses the format from a file extension.
func FormatForPath(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", false
	}
	if _, ok := Get(ext); ok {
		return ext, true
	}
	return "", false
}

// WriteFile encodes m into path. An empty format is guessed from the path.
func WriteFile(path, format string, m *types.ResultMatrix) error {
	if m == nil {
		return fmt.Errorf("encoder: nil matrix")
	}
	if format == "" {
		guessed, ok := FormatForPath(path)
		if !ok {
			return fmt.Errorf("encoder: cannot guess format of %s", path)
		}
		format = guessed
	}

	enc, err := New(format)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if err := enc.Encode(f, m); err != nil {
		f.Close()
		return fmt.Errorf("encoder: %s: %w", format, err)
	}
	return f.Close()
}

// UnknownFormatError reports a format nobody registered.
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown output format %q (available: %v)", e.Format, List())
}

// Range returns the smallest and largest value of m. An empty matrix yields 0, 0.
func Range(m *types.ResultMatrix) (lo, hi float64) {
	first := true
	for _, row := range m.Rows {
		for _, v := range row {
			if first {
				lo, hi = v, v
				first = false
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}
