package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/rowfarm/pkg/types"
)

func TestNewRegistryRejectsBadIDs(t *testing.T) {
	_, err := NewRegistry([]string{"a", "a"})
	assert.Error(t, err)

	_, err = NewRegistry([]string{""})
	assert.Error(t, err)
}

func TestRegistryLifecycle(t *testing.T) {
	r, err := NewRegistry([]string{"w1", "w2"})
	require.NoError(t, err)

	require.NoError(t, r.Assign("w1", types.Unit{ID: 0}))
	assert.Equal(t, 1, r.Busy())

	// back-pressure: one unit at a time
	assert.Error(t, r.Assign("w1", types.Unit{ID: 1}))

	st, ok := r.Status("w1")
	require.True(t, ok)
	assert.Equal(t, WorkerBusy, st.State)
	require.NotNil(t, st.Outstanding)
	assert.Equal(t, 0, *st.Outstanding)

	require.NoError(t, r.Complete("w1", 0))
	require.NoError(t, r.Drain("w1"))
	require.NoError(t, r.Stop("w1"))
	require.NoError(t, r.Stop("w2"))

	assert.Error(t, r.Stop("w1"))
	assert.Error(t, r.Assign("w1", types.Unit{ID: 3}))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "w1", snap[0].ID)
	assert.Equal(t, WorkerStopped, snap[0].State)
	assert.Equal(t, 1, snap[0].Assigned)
	assert.Equal(t, 1, snap[0].Completed)
	assert.Nil(t, snap[0].Outstanding)
}

func TestRegistryStopWithOutstandingUnit(t *testing.T) {
	r, err := NewRegistry([]string{"w1"})
	require.NoError(t, err)
	require.NoError(t, r.Assign("w1", types.Unit{ID: 4}))

	err = r.Stop("w1")
	var stranded *types.StrandedWorkerError
	require.True(t, errors.As(err, &stranded))
	assert.Equal(t, "w1", stranded.WorkerID)
	assert.Equal(t, 4, stranded.UnitID)
}

func TestRegistryCompleteChecks(t *testing.T) {
	r, err := NewRegistry([]string{"w1"})
	require.NoError(t, err)

	var protoErr *types.ProtocolError

	err = r.Complete("w1", 0)
	assert.True(t, errors.As(err, &protoErr), "unsolicited result")

	require.NoError(t, r.Assign("w1", types.Unit{ID: 2}))
	err = r.Complete("w1", 3)
	assert.True(t, errors.As(err, &protoErr), "wrong unit")

	err = r.Complete("ghost", 2)
	assert.True(t, errors.As(err, &protoErr), "unknown worker")

	assert.Error(t, r.Drain("w1"))
}
