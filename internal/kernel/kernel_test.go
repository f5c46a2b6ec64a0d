package kernel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"yqhp/rowfarm/pkg/types"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{NameIdentity, NameMandelbrot, NameScript}, List())

	_, err := New(&types.JobSpec{Kernel: "fft", Height: 1, Width: 1})
	var unknown *UnknownKernelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "fft", unknown.Name)

	k, err := New(&types.JobSpec{Kernel: NameIdentity, Height: 2, Width: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, k.Width())
}

func TestFactoriesRejectBadDimensions(t *testing.T) {
	for _, name := range List() {
		_, err := New(&types.JobSpec{Kernel: name, Height: 0, Width: 5, Script: "function compute(){return []}"})
		var dimErr *types.InvalidDimensionsError
		assert.True(t, errors.As(err, &dimErr), name)
	}
}

func TestIdentity(t *testing.T) {
	k, err := NewIdentity(&types.JobSpec{Height: 4, Width: 2})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		values, err := k.Compute(types.Unit{ID: i})
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(i), float64(i)}, values)
	}

	_, err = k.Compute(types.Unit{ID: 4})
	assert.Error(t, err)
	_, err = k.Compute(types.Unit{ID: -1})
	assert.Error(t, err)
}

func TestEscape(t *testing.T) {
	// the origin never escapes
	assert.Equal(t, 511, Escape(0, 0, 511))
	// far outside escapes before the first iteration
	assert.Equal(t, 0, Escape(3, 3, 511))
	// c = 1: z goes 1 -> 2 and |z| = 2 is already out
	assert.Equal(t, 1, Escape(1, 0, 511))
}

func TestMandelbrotDefaults(t *testing.T) {
	k, err := NewMandelbrot(&types.JobSpec{Height: 1000, Width: 1000})
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxIter, k.maxIter)
	assert.Equal(t, -2.1, k.minX)
	assert.Equal(t, -1.25, k.minY)
	assert.InDelta(t, 0.0028, k.stepX, 1e-12)
	assert.InDelta(t, 0.0025, k.stepY, 1e-12)
}

func TestMandelbrotRow(t *testing.T) {
	job := &types.JobSpec{Height: 1000, Width: 1000}
	k, err := NewMandelbrot(job)
	require.NoError(t, err)

	// row 500 is y = 0; column 750 is x = 0, inside the set
	values, err := k.Compute(types.Unit{ID: 500})
	require.NoError(t, err)
	require.Len(t, values, 1000)
	assert.InDelta(t, 511.0/512.0, values[750], 1e-12)
	// column 0 is x = -2.1, outside the set
	assert.Less(t, values[0], 0.01)

	_, err = k.Compute(types.Unit{ID: 1000})
	assert.Error(t, err)
}

func TestMandelbrotValuesInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		height := rapid.IntRange(1, 64).Draw(t, "height")
		width := rapid.IntRange(1, 64).Draw(t, "width")
		row := rapid.IntRange(0, height-1).Draw(t, "row")

		k, err := NewMandelbrot(&types.JobSpec{Height: height, Width: width, MaxIter: 64})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		values, err := k.Compute(types.Unit{ID: row})
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if len(values) != width {
			t.Fatalf("got %d values, want %d", len(values), width)
		}
		for _, v := range values {
			if v < 0 || v >= 1 {
				t.Fatalf("value %v outside [0, 1)", v)
			}
		}
	})
}

func TestMandelbrotDeterministic(t *testing.T) {
	job := &types.JobSpec{Height: 20, Width: 30, Plane: types.Plane{MinX: -1, MaxX: 1, MinY: -1, MaxY: 1}}
	a, err := NewMandelbrot(job)
	require.NoError(t, err)
	b, err := NewMandelbrot(job)
	require.NoError(t, err)

	for i := 0; i < job.Height; i++ {
		va, _ := a.Compute(types.Unit{ID: i})
		vb, _ := b.Compute(types.Unit{ID: i})
		assert.Equal(t, va, vb)
	}
}

func TestScript(t *testing.T) {
	job := &types.JobSpec{
		Height: 3,
		Width:  4,
		Script: `
function compute(row, width, height) {
  var out = [];
  for (var j = 0; j < width; j++) out.push(row * width + j + job.max_iter);
  return out;
}`,
		MaxIter: 100,
	}

	k, err := NewScript(job)
	require.NoError(t, err)
	assert.Equal(t, 4, k.Width())

	values, err := k.Compute(types.Unit{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{108, 109, 110, 111}, values)
}

func TestScriptErrors(t *testing.T) {
	base := types.JobSpec{Height: 2, Width: 2}

	tests := []struct {
		name   string
		script string
		newErr bool
	}{
		{"empty", "", true},
		{"syntax", "function compute(", true},
		{"no compute", "var x = 1;", true},
		{"wrong length", "function compute() { return [1]; }", false},
		{"not an array", "function compute() { return {a: 1}; }", false},
		{"nothing", "function compute() {}", false},
		{"throws", "function compute() { throw new Error('boom'); }", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := base
			job.Script = tt.script

			k, err := NewScript(&job)
			if tt.newErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			_, err = k.Compute(types.Unit{ID: 0})
			assert.Error(t, err)
		})
	}
}

func TestScriptTimeout(t *testing.T) {
	k, err := NewScript(&types.JobSpec{Height: 1, Width: 1, Script: "function compute() { for(;;){} }"})
	require.NoError(t, err)
	k.WithTimeout(50 * time.Millisecond)

	_, err = k.Compute(types.Unit{ID: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}

func TestScriptLateInterruptDoesNotLeak(t *testing.T) {
	k, err := NewScript(&types.JobSpec{Height: 2, Width: 1, Script: "function compute(row) { return [row]; }"})
	require.NoError(t, err)

	// the timer fires while Stop is being called: Stop reports false and
	// the interrupt lands a little later
	k.schedule = func(_ time.Duration, f func()) func() bool {
		gate := make(chan struct{})
		go func() {
			<-gate
			time.Sleep(20 * time.Millisecond)
			f()
		}()
		return func() bool {
			close(gate)
			return false
		}
	}

	values, err := k.Compute(types.Unit{ID: 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, values)

	k.WithTimeout(0)
	values, err = k.Compute(types.Unit{ID: 1})
	require.NoError(t, err, "interrupt from the previous call must be cleared")
	assert.Equal(t, []float64{1}, values)
}

func TestScriptTimeoutThenRecovers(t *testing.T) {
	k, err := NewScript(&types.JobSpec{Height: 2, Width: 1, Script: "function compute(row) { if (row === 0) { for(;;){} } return [row]; }"})
	require.NoError(t, err)
	k.WithTimeout(50 * time.Millisecond)

	_, err = k.Compute(types.Unit{ID: 0})
	require.Error(t, err)

	values, err := k.Compute(types.Unit{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, values)
}
