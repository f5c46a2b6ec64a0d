package kernel

import (
	"yqhp/rowfarm/pkg/types"
)

const (
	NameMandelbrot = "mandelbrot"

	// DefaultMaxIter bounds the escape-time loop.
	DefaultMaxIter = 511
)

// Mandelbrot is the escape-time kernel. Row i maps to y = minY + i*stepY,
// column j to x = minX + j*stepX, and each value is iterations/(maxIter+1),
// so points inside the set approach 1.
type Mandelbrot struct {
	height, width int
	maxIter       int
	minX, minY    float64
	stepX, stepY  float64
}

// NewMandelbrot builds the kernel for the job's plane and grid.
func NewMandelbrot(job *types.JobSpec) (*Mandelbrot, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	plane := job.Plane
	if plane == (types.Plane{}) {
		plane = types.DefaultPlane()
	}
	maxIter := job.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	return &Mandelbrot{
		height:  job.Height,
		width:   job.Width,
		maxIter: maxIter,
		minX:    plane.MinX,
		minY:    plane.MinY,
		stepX:   (plane.MaxX - plane.MinX) / float64(job.Width),
		stepY:   (plane.MaxY - plane.MinY) / float64(job.Height),
	}, nil
}

// Width returns the number of columns.
func (m *Mandelbrot) Width() int {
	return m.width
}

// Compute evaluates one row.
func (m *Mandelbrot) Compute(unit types.Unit) ([]float64, error) {
	if err := checkUnit(unit, m.height); err != nil {
		return nil, err
	}

	y := m.minY + float64(unit.ID)*m.stepY
	scale := float64(m.maxIter + 1)

	values := make([]float64, m.width)
	for j := range values {
		x := m.minX + float64(j)*m.stepX
		values[j] = float64(Escape(x, y, m.maxIter)) / scale
	}
	return values, nil
}

// Escape returns the number of iterations before z = z^2 + c leaves the
// radius-2 disc, capped at maxIter.
func Escape(cx, cy float64, maxIter int) int {
	x, y := cx, cy
	it := 0
	for ; it < maxIter && x*x+y*y < 4; it++ {
		x, y = x*x-y*y+cx, 2*x*y+cy
	}
	return it
}
