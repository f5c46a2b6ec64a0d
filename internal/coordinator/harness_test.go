package coordinator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/types"
)

// traceEvent is one message crossing the hub.
type traceEvent struct {
	Out    bool // coordinator -> worker
	Worker string
	Kind   types.MessageKind
	Unit   int
}

// recordingHub wraps a hub and logs every message in coordinator order.
type recordingHub struct {
	transport.Hub

	mu    sync.Mutex
	trace []traceEvent
}

func (h *recordingHub) Send(ctx context.Context, workerID string, msg types.Message) error {
	h.record(true, workerID, msg)
	return h.Hub.Send(ctx, workerID, msg)
}

func (h *recordingHub) Receive(ctx context.Context) (transport.Inbound, error) {
	in, err := h.Hub.Receive(ctx)
	if err == nil {
		h.record(false, in.WorkerID, in.Message)
	}
	return in, err
}

func (h *recordingHub) record(out bool, worker string, msg types.Message) {
	ev := traceEvent{Out: out, Worker: worker, Kind: msg.Kind(), Unit: -1}
	switch m := msg.(type) {
	case *types.Assign:
		ev.Unit = m.Unit.ID
	case *types.Completion:
		ev.Unit = m.Result.UnitID
	}
	h.mu.Lock()
	h.trace = append(h.trace, ev)
	h.mu.Unlock()
}

func (h *recordingHub) events() []traceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]traceEvent(nil), h.trace...)
}

// simWorker answers every ASSIGN with [id, id, ...] after an optional delay.
func simWorker(ctx context.Context, link transport.Link, width int, maxDelay time.Duration, seed int64) error {
	defer link.Close()
	rnd := rand.New(rand.NewSource(seed))

	for {
		msg, err := link.Receive(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *types.Assign:
			if maxDelay > 0 {
				time.Sleep(time.Duration(rnd.Int63n(int64(maxDelay))))
			}
			values := make([]float64, width)
			for j := range values {
				values[j] = float64(m.Unit.ID)
			}
			if err := link.Send(ctx, types.NewCompletion(m.Unit.ID, values)); err != nil {
				return err
			}
		case *types.NoWork:
		case *types.Stop:
			return nil
		default:
			return fmt.Errorf("worker got %s", msg.Kind())
		}
	}
}

type runOutcome struct {
	matrix     *types.ResultMatrix
	err        error
	trace      []traceEvent
	workerErrs []error
	workers    []string
}

// runSimulated runs a coordinator against n simulated workers over a local hub.
func runSimulated(t testing.TB, height, width, n int, maxDelay time.Duration, seed int64) runOutcome {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("w%d", i)
	}

	local, links, err := transport.NewLocalHub(ids)
	if err != nil {
		t.Fatalf("local hub: %v", err)
	}
	hub := &recordingHub{Hub: local}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workerErrs := make([]error, n)
	var wg sync.WaitGroup
	for i, l := range links {
		wg.Add(1)
		go func(i int, l transport.Link) {
			defer wg.Done()
			workerErrs[i] = simWorker(ctx, l, width, maxDelay, seed+int64(i))
		}(i, l)
	}

	c, err := New(Config{Height: height, Width: width, Logger: zap.NewNop()}, hub)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	matrix, runErr := c.Run(ctx)
	wg.Wait()
	_ = local.Close()

	return runOutcome{
		matrix:     matrix,
		err:        runErr,
		trace:      hub.events(),
		workerErrs: workerErrs,
		workers:    ids,
	}
}

// checkTrace verifies the protocol invariants over a recorded run and
// returns a description of the first violation.
func checkTrace(o runOutcome, height int) error {
	everAssigned := make(map[int]string)
	holding := make(map[string]int)
	stops := make(map[string]int)
	sent := make(map[string][]types.MessageKind)

	for _, ev := range o.trace {
		if !ev.Out {
			if u, ok := holding[ev.Worker]; !ok || u != ev.Unit {
				return fmt.Errorf("%s completed %d without holding it", ev.Worker, ev.Unit)
			}
			delete(holding, ev.Worker)
			continue
		}

		if stops[ev.Worker] > 0 {
			return fmt.Errorf("%s got %s after STOP", ev.Worker, ev.Kind)
		}
		sent[ev.Worker] = append(sent[ev.Worker], ev.Kind)

		switch ev.Kind {
		case types.KindAssign:
			if prev, ok := everAssigned[ev.Unit]; ok {
				return fmt.Errorf("unit %d assigned to %s and %s", ev.Unit, prev, ev.Worker)
			}
			if u, ok := holding[ev.Worker]; ok {
				return fmt.Errorf("%s got unit %d while holding %d", ev.Worker, ev.Unit, u)
			}
			everAssigned[ev.Unit] = ev.Worker
			holding[ev.Worker] = ev.Unit
		case types.KindStop:
			if u, ok := holding[ev.Worker]; ok {
				return fmt.Errorf("%s stopped while holding %d", ev.Worker, u)
			}
			stops[ev.Worker]++
		}
	}

	if len(everAssigned) != height {
		return fmt.Errorf("%d units assigned, want %d", len(everAssigned), height)
	}
	for _, id := range o.workers {
		if stops[id] != 1 {
			return fmt.Errorf("%s got %d STOPs", id, stops[id])
		}
		kinds := sent[id]
		if len(kinds) == 0 || kinds[0] == types.KindStop {
			return fmt.Errorf("%s was not seeded before STOP", id)
		}
	}
	return nil
}

// checkMatrix verifies row i holds [i, i, ...].
func checkMatrix(m *types.ResultMatrix, height, width int) error {
	if m == nil {
		return fmt.Errorf("nil matrix")
	}
	if m.Height != height || m.Width != width || len(m.Rows) != height {
		return fmt.Errorf("matrix is %dx%d with %d rows, want %dx%d", m.Height, m.Width, len(m.Rows), height, width)
	}
	for i, row := range m.Rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d values", i, len(row))
		}
		for _, v := range row {
			if v != float64(i) {
				return fmt.Errorf("row %d holds %v", i, row)
			}
		}
	}
	return nil
}
