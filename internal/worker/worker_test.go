package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/rowfarm/internal/kernel"
	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/types"
)

func newPair(t *testing.T) (*transport.LocalHub, *transport.LocalLink) {
	t.Helper()
	hub, links, err := transport.NewLocalHub([]string{"w1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })
	return hub, links[0]
}

func identity(t *testing.T, height, width int) kernel.Kernel {
	t.Helper()
	k, err := kernel.NewIdentity(&types.JobSpec{Height: height, Width: width})
	require.NoError(t, err)
	return k
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWorkerComputesUntilStop(t *testing.T) {
	hub, link := newPair(t)
	ctx := testContext(t)

	w := New(link, identity(t, 4, 2), zap.NewNop())
	assert.Equal(t, Idle, w.State())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, hub.Send(ctx, "w1", types.NewAssign(3)))
	in, err := hub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w1", in.WorkerID)
	assert.Equal(t, types.NewCompletion(3, []float64{3, 3}), in.Message)

	require.NoError(t, hub.Send(ctx, "w1", &types.NoWork{}))
	require.NoError(t, hub.Send(ctx, "w1", types.NewAssign(1)))
	in, err = hub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, in.Message.(*types.Completion).Result.UnitID)

	require.NoError(t, hub.Send(ctx, "w1", &types.Stop{}))
	require.NoError(t, <-done)

	assert.Equal(t, Stopped, w.State())
	assert.Equal(t, 2, w.Processed())

	// the link is released
	err = hub.Send(ctx, "w1", &types.Stop{})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestWorkerStopWithoutWork(t *testing.T) {
	hub, link := newPair(t)
	ctx := testContext(t)

	require.NoError(t, hub.Send(ctx, "w1", &types.NoWork{}))
	require.NoError(t, hub.Send(ctx, "w1", &types.Stop{}))

	w := New(link, identity(t, 1, 1), zap.NewNop())
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 0, w.Processed())
	assert.Equal(t, 1, w.Idles())
}

func TestWorkerKernelFailure(t *testing.T) {
	hub, link := newPair(t)
	ctx := testContext(t)

	// unit 9 is outside the kernel's grid
	require.NoError(t, hub.Send(ctx, "w1", types.NewAssign(9)))

	w := New(link, identity(t, 2, 1), zap.NewNop())
	err := w.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compute unit 9")
	assert.Equal(t, Stopped, w.State())
}

func TestWorkerRejectsCompletion(t *testing.T) {
	hub, link := newPair(t)
	ctx := testContext(t)

	require.NoError(t, hub.Send(ctx, "w1", types.NewCompletion(0, nil)))

	err := New(link, identity(t, 1, 1), zap.NewNop()).Run(ctx)
	var protoErr *types.ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

func TestWorkerChannelFailure(t *testing.T) {
	hub, link := newPair(t)
	require.NoError(t, hub.Close())

	err := New(link, identity(t, 1, 1), zap.NewNop()).Run(testContext(t))
	var chErr *types.ChannelError
	assert.True(t, errors.As(err, &chErr))
}

func TestWorkerContextCancel(t *testing.T) {
	_, link := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(link, identity(t, 1, 1), zap.NewNop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "state(7)", State(7).String())
}
