package types

// Plane is the rectangle of the complex plane rendered by the grid.
type Plane struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// DefaultPlane returns the classic Mandelbrot view.
func DefaultPlane() Plane {
	return Plane{MinX: -2.1, MaxX: 0.7, MinY: -1.25, MaxY: 1.25}
}

// JobSpec describes the grid and the kernel. Remote workers receive it on
// registration so they can build the same kernel as the coordinator expects.
type JobSpec struct {
	RunID   string `json:"run_id"`
	Kernel  string `json:"kernel"`
	Height  int    `json:"height"`
	Width   int    `json:"width"`
	Plane   Plane  `json:"plane"`
	MaxIter int    `json:"max_iter"`
	Script  string `json:"script,omitempty"`
}

// Validate checks the grid dimensions.
func (j *JobSpec) Validate() error {
	if j.Height <= 0 || j.Width <= 0 {
		return &InvalidDimensionsError{Height: j.Height, Width: j.Width}
	}
	return nil
}
