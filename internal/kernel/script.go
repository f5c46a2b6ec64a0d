package kernel

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"yqhp/rowfarm/pkg/types"
)

const (
	NameScript = "script"

	// DefaultScriptTimeout bounds a single compute call.
	DefaultScriptTimeout = 30 * time.Second
)

// Script runs a JavaScript kernel. The source must define
//
//	function compute(row, width, height) { return [ ...width numbers ] }
//
// A global job object exposes the plane, maxIter and the grid size.
// A Script owns its runtime and is not safe for concurrent use; build one
// per worker.
type Script struct {
	height, width int
	timeout       time.Duration
	vm            *goja.Runtime
	compute       goja.Callable

	// schedule runs f after d and returns the timer's Stop.
	schedule func(d time.Duration, f func()) (stop func() bool)
}

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// NewScript compiles job.Script and resolves its compute function.
func NewScript(job *types.JobSpec) (*Script, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.Script == "" {
		return nil, fmt.Errorf("script kernel: empty script")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("job", job); err != nil {
		return nil, fmt.Errorf("script kernel: %w", err)
	}

	if _, err := vm.RunString(job.Script); err != nil {
		return nil, fmt.Errorf("script kernel: load: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("compute"))
	if !ok {
		return nil, fmt.Errorf("script kernel: compute is not a function")
	}

	return &Script{
		height:   job.Height,
		width:    job.Width,
		timeout:  DefaultScriptTimeout,
		vm:       vm,
		compute:  fn,
		schedule: afterFunc,
	}, nil
}

// WithTimeout sets the per-call limit. Zero disables it.
func (s *Script) WithTimeout(d time.Duration) *Script {
	s.timeout = d
	return s
}

func (s *Script) Width() int { return s.width }

// Compute calls compute(row, width, height) and checks the returned array.
func (s *Script) Compute(unit types.Unit) ([]float64, error) {
	if err := checkUnit(unit, s.height); err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		fired := make(chan struct{})
		stop := s.schedule(s.timeout, func() {
			defer close(fired)
			s.vm.Interrupt(fmt.Sprintf("compute exceeded %s", s.timeout))
		})
		defer func() {
			// a callback already under way must land before the clear,
			// or it would abort the next call
			if !stop() {
				<-fired
			}
			s.vm.ClearInterrupt()
		}()
	}

	ret, err := s.compute(goja.Undefined(), s.vm.ToValue(unit.ID), s.vm.ToValue(s.width), s.vm.ToValue(s.height))
	if err != nil {
		return nil, fmt.Errorf("script kernel: row %d: %w", unit.ID, err)
	}
	if goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, fmt.Errorf("script kernel: row %d: compute returned nothing", unit.ID)
	}

	var values []float64
	if err := s.vm.ExportTo(ret, &values); err != nil {
		return nil, fmt.Errorf("script kernel: row %d: %w", unit.ID, err)
	}
	if len(values) != s.width {
		return nil, fmt.Errorf("script kernel: row %d: got %d values, want %d", unit.ID, len(values), s.width)
	}
	return values, nil
}
