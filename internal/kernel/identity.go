package kernel

import "yqhp/rowfarm/pkg/types"

const NameIdentity = "identity"

// Identity fills every column of row i with i.
type Identity struct {
	height, width int
}

// NewIdentity builds the kernel for the job's grid.
func NewIdentity(job *types.JobSpec) (*Identity, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &Identity{height: job.Height, width: job.Width}, nil
}

func (k *Identity) Width() int { return k.width }

func (k *Identity) Compute(unit types.Unit) ([]float64, error) {
	if err := checkUnit(unit, k.height); err != nil {
		return nil, err
	}
	values := make([]float64, k.width)
	for j := range values {
		values[j] = float64(unit.ID)
	}
	return values, nil
}
