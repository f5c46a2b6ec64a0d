package redisq

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/rowfarm/pkg/types"
)

// testClient connects to the server named by ROWFARM_TEST_REDIS, or to an
// in-process miniredis when it is unset.
func testClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("ROWFARM_TEST_REDIS")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestKeys(t *testing.T) {
	k := NewKeys("rowfarm", "r1")

	assert.Equal(t, "rowfarm:run:r1:job", k.Job())
	assert.Equal(t, "rowfarm:run:r1:register", k.Register())
	assert.Equal(t, "rowfarm:run:r1:inbox", k.Inbox())
	assert.Equal(t, "rowfarm:run:r1:worker:w1", k.Worker("w1"))
}

func TestNewHubValidation(t *testing.T) {
	_, err := NewHub(context.Background(), nil, HubConfig{Expected: 1})
	assert.Error(t, err)

	_, err = NewHub(context.Background(), nil, HubConfig{Job: &types.JobSpec{RunID: "r"}, Expected: 0})
	assert.Error(t, err)
}

func TestJoinRequiresIDs(t *testing.T) {
	_, _, err := Join(context.Background(), nil, "p", "", "w1")
	assert.Error(t, err)
}

func TestRedisExchange(t *testing.T) {
	client := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "rowfarm-test-" + uuid.NewString()[:8]
	job := &types.JobSpec{RunID: "run-1", Kernel: "identity", Height: 2, Width: 3}

	hub, err := NewHub(ctx, client, HubConfig{Prefix: prefix, Job: job, Expected: 2, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer hub.Close()

	l1, got, err := Join(ctx, client, prefix, "run-1", "w1")
	require.NoError(t, err)
	assert.Equal(t, job, got)
	l2, _, err := Join(ctx, client, prefix, "run-1", "w2")
	require.NoError(t, err)

	require.NoError(t, hub.WaitForWorkers(ctx))
	assert.Equal(t, []string{"w1", "w2"}, hub.Workers())

	require.NoError(t, hub.Send(ctx, "w2", types.NewAssign(1)))
	msg, err := l2.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.NewAssign(1), msg)

	require.NoError(t, l2.Send(ctx, types.NewCompletion(1, []float64{1, 1, 1})))
	in, err := hub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w2", in.WorkerID)

	require.NoError(t, hub.Send(ctx, "w1", &types.NoWork{}))
	require.NoError(t, hub.Send(ctx, "w1", &types.Stop{}))
	require.NoError(t, hub.Close())

	first, err := l1.Receive(ctx)
	require.NoError(t, err)
	second, err := l1.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.KindNoWork, first.Kind())
	assert.Equal(t, types.KindStop, second.Kind())

	ttl, err := client.TTL(ctx, NewKeys(prefix, "run-1").Job()).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0)
}

func TestJoinBeforePublish(t *testing.T) {
	client := testClient(t)

	_, _, err := Join(context.Background(), client, "rowfarm-test-"+uuid.NewString()[:8], "missing", "w1")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestReceiveFromUnregisteredWorker(t *testing.T) {
	client := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefix := "rowfarm-test-" + uuid.NewString()[:8]
	hub, err := NewHub(ctx, client, HubConfig{Prefix: prefix, Job: &types.JobSpec{RunID: "r"}, Expected: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer hub.Close()

	stray := &Link{client: client, keys: NewKeys(prefix, "r"), id: "intruder", done: make(chan struct{})}
	require.NoError(t, stray.Send(ctx, types.NewCompletion(0, nil)))

	_, err = hub.Receive(ctx)
	var protoErr *types.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "intruder", protoErr.WorkerID)
}

func TestStaleRegistrationIsAskedToRejoin(t *testing.T) {
	client := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "rowfarm-test-" + uuid.NewString()[:8]
	job := &types.JobSpec{RunID: "again", Kernel: "identity", Height: 1, Width: 1}

	old, err := NewHub(ctx, client, HubConfig{Prefix: prefix, Job: job, Expected: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer old.Close()

	// joins the first publication, which is then replaced
	stale, _, err := Join(ctx, client, prefix, "again", "w1")
	require.NoError(t, err)

	hub, err := NewHub(ctx, client, HubConfig{Prefix: prefix, Job: job, Expected: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer hub.Close()

	waited := make(chan error, 1)
	go func() { waited <- hub.WaitForWorkers(ctx) }()

	_, err = stale.Receive(ctx)
	require.ErrorIs(t, err, ErrRunRepublished)

	fresh, _, err := Join(ctx, client, prefix, "again", "w1")
	require.NoError(t, err)
	require.NoError(t, <-waited)
	assert.Equal(t, []string{"w1"}, hub.Workers())

	require.NoError(t, hub.Send(ctx, "w1", &types.Stop{}))
	msg, err := fresh.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.KindStop, msg.Kind())
}

func TestMalformedRegistrationIgnored(t *testing.T) {
	client := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "rowfarm-test-" + uuid.NewString()[:8]
	hub, err := NewHub(ctx, client, HubConfig{Prefix: prefix, Job: &types.JobSpec{RunID: "m", Kernel: "identity", Height: 1, Width: 1}, Expected: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer hub.Close()

	require.NoError(t, client.RPush(ctx, NewKeys(prefix, "m").Register(), "no-separator").Err())
	_, _, err = Join(ctx, client, prefix, "m", "w1")
	require.NoError(t, err)

	require.NoError(t, hub.WaitForWorkers(ctx))
	assert.Equal(t, []string{"w1"}, hub.Workers())
}
