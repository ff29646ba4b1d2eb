package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/types"
)

func TestGetNextTasksDrainsQueueAndFailedRequeuesAtFront(t *testing.T) {
	m := New(1) // batch of one, so we can observe draining precisely
	m.UpdateNodes([]types.Node{{NodeID: "n-1", AgentID: "a-1", Online: true}})

	m.AddJobExecution(types.CleanupEntry{ExeID: "e-1", NodeID: "n-1", ContainerName: "c-1"})
	m.AddJobExecution(types.CleanupEntry{ExeID: "e-2", NodeID: "n-1", ContainerName: "c-2"})

	tasks := m.GetNextTasks()
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Entries, 1)
	assert.Equal(t, "e-1", tasks[0].Entries[0].ExeID)
	assert.Equal(t, "a-1", tasks[0].AgentID, "task is addressed to the node's current agent")

	// The entry is drained out of the pending queue while in-flight, so a
	// second call to GetNextTasks must not re-synthesize it.
	assert.Equal(t, 1, m.QueueDepth("n-1"))
	assert.Empty(t, m.GetNextTasks())

	// FAILED re-queues the in-flight entries at the front without
	// duplicating them.
	m.HandleTaskUpdate("a-1", types.TaskStatusFailed)
	assert.Equal(t, 2, m.QueueDepth("n-1"))

	tasks = m.GetNextTasks()
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Entries, 1)
	assert.Equal(t, "e-1", tasks[0].Entries[0].ExeID, "failed entry is retried before the rest of the queue")

	// FINISHED clears in-flight without touching the remaining queue.
	m.HandleTaskUpdate("a-1", types.TaskStatusFinished)
	assert.Equal(t, 1, m.QueueDepth("n-1"))

	tasks = m.GetNextTasks()
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Entries, 1)
	assert.Equal(t, "e-2", tasks[0].Entries[0].ExeID)
}

func TestHandleTaskUpdateUnknownAgentIsDropped(t *testing.T) {
	m := New(0)
	m.UpdateNodes([]types.Node{{NodeID: "n-1", AgentID: "a-old", Online: true}})
	m.AddJobExecution(types.CleanupEntry{ExeID: "e-1", NodeID: "n-1", ContainerName: "c-1"})

	tasks := m.GetNextTasks()
	require.Len(t, tasks, 1)

	// Node re-registers under a new agent id before the in-flight task's
	// status update arrives bearing the old one.
	m.UpdateNodes([]types.Node{{NodeID: "n-1", AgentID: "a-new", Online: true}})
	m.HandleTaskUpdate("a-old", types.TaskStatusFinished)

	// The stale update must not have cleared the in-flight slot, so the
	// queue is still considered busy and won't synthesize a duplicate.
	assert.Empty(t, m.GetNextTasks())

	m.HandleTaskUpdate("a-new", types.TaskStatusFinished)
	assert.Equal(t, 0, m.QueueDepth("n-1"))
}

func TestAddJobExecutionUnknownNodeIsSilentNoOp(t *testing.T) {
	m := New(0)
	m.AddJobExecution(types.CleanupEntry{ExeID: "e-1", NodeID: "ghost", ContainerName: "c-1"})
	assert.Equal(t, 0, m.QueueDepth("ghost"))
}
