// Package stats measures a run: wall-clock time, per-unit turnaround and
// how the load spread over the workers.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// turnaround is tracked in microseconds, from 1µs to 10 minutes
	minTrackable = 1
	maxTrackable = int64(10 * time.Minute / time.Microsecond)
	sigFigs      = 3
)

// Collector receives coordinator events. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	end       time.Time
	inflight  map[int]time.Time
	hist      *hdrhistogram.Histogram
	perWorker map[string]int
	idles     int
	stops     int
}

// NewCollector creates a collector; the run clock starts now.
func NewCollector() *Collector {
	return newCollector(time.Now)
}

func newCollector(now func() time.Time) *Collector {
	return &Collector{
		now:       now,
		start:     now(),
		inflight:  make(map[int]time.Time),
		hist:      hdrhistogram.New(minTrackable, maxTrackable, sigFigs),
		perWorker: make(map[string]int),
	}
}

// OnAssign starts the clock of one unit.
func (c *Collector) OnAssign(workerID string, unitID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[unitID] = c.now()
	if _, ok := c.perWorker[workerID]; !ok {
		c.perWorker[workerID] = 0
	}
}

// OnComplete records the unit's turnaround and credits the worker.
func (c *Collector) OnComplete(workerID string, unitID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if started, ok := c.inflight[unitID]; ok {
		delete(c.inflight, unitID)
		us := c.now().Sub(started).Microseconds()
		if us < minTrackable {
			us = minTrackable
		}
		// values above the range are clamped rather than dropped
		if us > maxTrackable {
			us = maxTrackable
		}
		_ = c.hist.RecordValue(us)
	}
	c.perWorker[workerID]++
}

// OnIdle counts NO_WORK replies and drained workers.
func (c *Collector) OnIdle(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idles++
	if _, ok := c.perWorker[workerID]; !ok {
		c.perWorker[workerID] = 0
	}
}

// OnStop counts STOPs; the last one ends the run clock.
func (c *Collector) OnStop(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.end = c.now()
	if _, ok := c.perWorker[workerID]; !ok {
		c.perWorker[workerID] = 0
	}
}

// WorkerLoad is the number of units one worker completed.
type WorkerLoad struct {
	WorkerID string `json:"worker_id"`
	Units    int    `json:"units"`
}

// Summary is the report of a run.
type Summary struct {
	Elapsed time.Duration `json:"elapsed"`
	Units   int64         `json:"units"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Max     time.Duration `json:"max"`
	Mean    time.Duration `json:"mean"`
	Idles   int           `json:"idles"`
	Stops   int           `json:"stops"`
	Workers []WorkerLoad  `json:"workers"`
}

// Summary returns the current report. Elapsed runs up to the last STOP, or
// up to now while the run is in progress.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.end
	if end.IsZero() {
		end = c.now()
	}

	s := Summary{
		Elapsed: end.Sub(c.start),
		Units:   c.hist.TotalCount(),
		Idles:   c.idles,
		Stops:   c.stops,
		Workers: make([]WorkerLoad, 0, len(c.perWorker)),
	}
	if s.Units > 0 {
		s.P50 = micros(c.hist.ValueAtQuantile(50))
		s.P95 = micros(c.hist.ValueAtQuantile(95))
		s.P99 = micros(c.hist.ValueAtQuantile(99))
		s.Max = micros(c.hist.Max())
		s.Mean = time.Duration(c.hist.Mean() * float64(time.Microsecond))
	}

	for id, n := range c.perWorker {
		s.Workers = append(s.Workers, WorkerLoad{WorkerID: id, Units: n})
	}
	sort.Slice(s.Workers, func(i, j int) bool { return s.Workers[i].WorkerID < s.Workers[j].WorkerID })

	return s
}

// String renders the summary on a few lines.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "elapsed %s, %d units", s.Elapsed.Round(time.Millisecond), s.Units)
	if s.Units > 0 {
		fmt.Fprintf(&b, ", turnaround p50 %s p95 %s p99 %s max %s",
			s.P50.Round(time.Microsecond), s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}
	for _, w := range s.Workers {
		fmt.Fprintf(&b, "\n  %s: %d units", w.WorkerID, w.Units)
	}
	return b.String()
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
