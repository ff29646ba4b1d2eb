package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/ingest"
	"github.com/cuemby/corral/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestScheduleJobExecutionsMovesQueueToRunning(t *testing.T) {
	store := newTestStore(t)

	queued := &types.QueuedJobExe{QueueID: "q-1", JobTypeID: "jt-1"}
	running := &types.RunningJobExe{ExeID: "e-1", NodeID: "n-1", Status: types.ExeStatusRunning}

	require.NoError(t, store.ScheduleJobExecutions([]ScheduledPair{{Queued: queued, Running: running}}))

	exes, err := store.GetRunningJobExes()
	require.NoError(t, err)
	require.Len(t, exes, 1)
	require.Equal(t, "e-1", exes[0].ExeID)
}

func TestDeleteRunningJobExeRemovesRecord(t *testing.T) {
	store := newTestStore(t)

	exe := &types.RunningJobExe{ExeID: "e-1"}
	require.NoError(t, store.SaveRunningJobExe(exe))
	require.NoError(t, store.DeleteRunningJobExe("e-1"))

	exes, err := store.GetRunningJobExes()
	require.NoError(t, err)
	require.Empty(t, exes)
}

func TestGetQueueOrdersByDescendingPriority(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.QueueJobExecution(&types.QueuedJobExe{QueueID: "q-low", Priority: 1}))
	require.NoError(t, store.QueueJobExecution(&types.QueuedJobExe{QueueID: "q-high", Priority: 10}))
	require.NoError(t, store.QueueJobExecution(&types.QueuedJobExe{QueueID: "q-mid", Priority: 5}))

	queue, err := store.GetQueue()
	require.NoError(t, err)
	require.Len(t, queue, 3)
	require.Equal(t, []string{"q-high", "q-mid", "q-low"}, []string{queue[0].QueueID, queue[1].QueueID, queue[2].QueueID})
}

func TestListNodesReturnsSavedSnapshot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveNode(types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}))
	require.NoError(t, store.SaveNode(types.Node{NodeID: "n-2", AgentID: "a-2", Online: false}))

	// Re-registration: same node id, new agent id.
	require.NoError(t, store.SaveNode(types.Node{NodeID: "n-1", AgentID: "a-1b", Online: true}))

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byID := map[string]types.Node{}
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	require.Equal(t, "a-1b", byID["n-1"].AgentID)
}

func TestListJobTypesRoundTrips(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveJobType(types.JobType{JobTypeID: "jt-1", IsPaused: true}))

	jts, err := store.ListJobTypes()
	require.NoError(t, err)
	require.Len(t, jts, 1)
	require.True(t, jts[0].IsPaused)
}

func TestGetIngestsByScanFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveIngest(&ingest.Ingest{ScanID: "scan-a", FileName: "one.tif"}))
	require.NoError(t, store.SaveIngest(&ingest.Ingest{ScanID: "scan-a", FileName: "two.tif"}))
	require.NoError(t, store.SaveIngest(&ingest.Ingest{ScanID: "scan-b", FileName: "three.tif"}))

	ings, err := store.GetIngestsByScan("scan-a")
	require.NoError(t, err)
	require.Len(t, ings, 2)
}
