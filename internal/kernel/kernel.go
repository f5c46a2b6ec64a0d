// Package kernel provides the per-row compute functions evaluated by workers.
//
// A kernel is pure: the same unit always yields the same values, and the
// scheduler never needs to know which kernel is running.
package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/duke-git/lancet/v2/maputil"

	"yqhp/rowfarm/pkg/types"
)

// Kernel computes one row of the grid.
type Kernel interface {
	// Width is the number of values Compute returns.
	Width() int

	// Compute evaluates the kernel for one unit.
	Compute(unit types.Unit) ([]float64, error)
}

// Factory builds a kernel for a job.
type Factory func(job *types.JobSpec) (Kernel, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a kernel available by name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List returns the registered kernel names, sorted.
func List() []string {
	registryMu.RLock()
	names := maputil.Keys(registry)
	registryMu.RUnlock()
	sort.Strings(names)
	return names
}

// New builds the kernel named by job.Kernel.
func New(job *types.JobSpec) (Kernel, error) {
	if job == nil {
		return nil, fmt.Errorf("kernel: nil job")
	}
	factory, ok := Get(job.Kernel)
	if !ok {
		return nil, &UnknownKernelError{Name: job.Kernel}
	}
	return factory(job)
}

// UnknownKernelError reports a kernel name nobody registered.
type UnknownKernelError struct {
	Name string
}

func (e *UnknownKernelError) Error() string {
	return fmt.Sprintf("unknown kernel %q (available: %v)", e.Name, List())
}

// checkUnit verifies id lies in [0, height).
func checkUnit(unit types.Unit, height int) error {
	if unit.ID < 0 || unit.ID >= height {
		return fmt.Errorf("kernel: unit %d out of range [0, %d)", unit.ID, height)
	}
	return nil
}

func init() {
	Register(NameMandelbrot, func(job *types.JobSpec) (Kernel, error) { return NewMandelbrot(job) })
	Register(NameIdentity, func(job *types.JobSpec) (Kernel, error) { return NewIdentity(job) })
	Register(NameScript, func(job *types.JobSpec) (Kernel, error) { return NewScript(job) })
}
