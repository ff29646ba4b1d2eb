package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/cleanup"
	"github.com/cuemby/corral/pkg/driver"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/nodes"
	"github.com/cuemby/corral/pkg/offers"
	"github.com/cuemby/corral/pkg/persistence"
	"github.com/cuemby/corral/pkg/running"
	"github.com/cuemby/corral/pkg/types"
)

func newPumpHarness(t *testing.T) (*CallbackPump, *nodes.Registry, *cleanup.Manager, *running.Manager, persistence.Store) {
	t.Helper()
	store, err := persistence.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	nodeReg := nodes.New()
	cleanupMgr := cleanup.New(0)
	runningMgr := running.New()

	pump := NewCallbackPump(Deps{
		NodeRegistry:   nodeReg,
		OfferManager:   offers.New(),
		CleanupManager: cleanupMgr,
		RunningManager: runningMgr,
		Store:          store,
	})
	return pump, nodeReg, cleanupMgr, runningMgr, store
}

func launchedExe(exeID, nodeID, agentID string, taskIDs ...string) *types.RunningJobExe {
	tasks := make([]types.Task, len(taskIDs))
	for i, id := range taskIDs {
		tasks[i] = types.Task{TaskID: id, AgentID: agentID}
	}
	return &types.RunningJobExe{
		ExeID:             exeID,
		NodeID:            nodeID,
		AgentIDAtSchedule: agentID,
		TaskList:          tasks,
		CurrentTaskIndex:  len(tasks),
		Status:            types.ExeStatusRunning,
	}
}

func TestStatusUpdateRetiresCompletedExecution(t *testing.T) {
	pump, nodeReg, cleanupMgr, runningMgr, store := newPumpHarness(t)

	node := types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{node})
	cleanupMgr.UpdateNodes([]types.Node{node})

	exe := launchedExe("e-1", "n-1", "a-1", "t-1")
	runningMgr.AddJobExes([]*types.RunningJobExe{exe})
	require.NoError(t, store.SaveRunningJobExe(exe))

	pump.HandleStatusUpdate(driver.StatusUpdate{AgentID: "a-1", TaskID: "t-1", Status: types.TaskStatusFinished})

	assert.Zero(t, runningMgr.Count())
	assert.Equal(t, 1, cleanupMgr.QueueDepth("n-1"))

	persisted, err := store.GetRunningJobExes()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestStatusUpdateMidListTaskKeepsExecutionRunning(t *testing.T) {
	pump, nodeReg, _, runningMgr, _ := newPumpHarness(t)

	node := types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{node})

	exe := launchedExe("e-1", "n-1", "a-1", "t-pre", "t-main")
	exe.CurrentTaskIndex = 1 // only the pre-task has launched
	runningMgr.AddJobExes([]*types.RunningJobExe{exe})

	pump.HandleStatusUpdate(driver.StatusUpdate{AgentID: "a-1", TaskID: "t-pre", Status: types.TaskStatusFinished})

	assert.Equal(t, 1, runningMgr.Count())
	assert.True(t, exe.HasMoreTasks())
}

func TestStatusUpdateUnknownAgentIsDropped(t *testing.T) {
	pump, nodeReg, _, runningMgr, _ := newPumpHarness(t)

	node := types.Node{NodeID: "n-1", AgentID: "a-new", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{node})

	exe := launchedExe("e-1", "n-1", "a-old", "t-1")
	runningMgr.AddJobExes([]*types.RunningJobExe{exe})

	// The update bears the old agent id, which the latest snapshot no
	// longer maps to any node.
	pump.HandleStatusUpdate(driver.StatusUpdate{AgentID: "a-old", TaskID: "t-1", Status: types.TaskStatusFailed})

	assert.Equal(t, 1, runningMgr.Count(), "stale-agent update must not retire anything")
}

func TestStatusUpdateFailedTaskRetiresExecutionAsFailed(t *testing.T) {
	pump, nodeReg, cleanupMgr, runningMgr, _ := newPumpHarness(t)

	node := types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{node})
	cleanupMgr.UpdateNodes([]types.Node{node})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	pump.broker = broker

	exe := launchedExe("e-1", "n-1", "a-1", "t-1", "t-2")
	exe.CurrentTaskIndex = 1
	runningMgr.AddJobExes([]*types.RunningJobExe{exe})

	pump.HandleStatusUpdate(driver.StatusUpdate{AgentID: "a-1", TaskID: "t-1", Status: types.TaskStatusLost})

	assert.Zero(t, runningMgr.Count())
	assert.Equal(t, 1, cleanupMgr.QueueDepth("n-1"))

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventJobExeFailed, evt.Type)
		assert.Equal(t, "e-1", evt.Message)
	case <-time.After(time.Second):
		t.Fatal("expected a job_exe.failed event")
	}
}

func TestAgentLostRetiresExecutionsOnThatAgent(t *testing.T) {
	pump, nodeReg, cleanupMgr, runningMgr, _ := newPumpHarness(t)

	n1 := types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}
	n2 := types.Node{NodeID: "n-2", AgentID: "a-2", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{n1, n2})
	cleanupMgr.UpdateNodes([]types.Node{n1, n2})

	runningMgr.AddJobExes([]*types.RunningJobExe{
		launchedExe("e-1", "n-1", "a-1", "t-1"),
		launchedExe("e-2", "n-2", "a-2", "t-2"),
	})

	pump.HandleAgentLost("a-1")

	assert.Equal(t, 1, runningMgr.Count())
	_, survived := runningMgr.FindByTaskID("t-2")
	assert.True(t, survived)
	assert.Equal(t, 1, cleanupMgr.QueueDepth("n-1"))
	assert.Zero(t, cleanupMgr.QueueDepth("n-2"))
}

func TestPumpRunRoutesOffersToOfferManager(t *testing.T) {
	store, err := persistence.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	nodeReg := nodes.New()
	offerMgr := offers.New()
	node := types.Node{NodeID: "n-1", AgentID: "a-1", Online: true}
	nodeReg.UpdateFromSnapshot([]types.Node{node})
	offerMgr.UpdateNodes(nodeReg.GetNodes())

	pump := NewCallbackPump(Deps{
		NodeRegistry:   nodeReg,
		OfferManager:   offerMgr,
		CleanupManager: cleanup.New(0),
		RunningManager: running.New(),
		Store:          store,
	})

	drv := driver.NewMemoryDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Run(ctx, drv.Feeds())

	drv.PushOffers([]types.Offer{{OfferID: "o-1", NodeID: "n-1", Resources: types.Resources{CPUs: 2, MemMB: 1024}}})

	require.Eventually(t, func() bool {
		offerMgr.ReadyNewOffers()
		popped := offerMgr.PopAllOffers()
		for _, group := range popped {
			if len(group.OfferIDs) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
