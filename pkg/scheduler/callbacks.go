package scheduler

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/cleanup"
	"github.com/cuemby/corral/pkg/driver"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/nodes"
	"github.com/cuemby/corral/pkg/offers"
	"github.com/cuemby/corral/pkg/persistence"
	"github.com/cuemby/corral/pkg/running"
	"github.com/cuemby/corral/pkg/types"
)

// CallbackPump services the driver's inbound feeds: offers land in the
// offer manager's new buffer, task status updates are routed to the
// running-execution manager or the cleanup manager depending on which
// one owns the task, and agent-lost notifications fail everything bound
// to the vanished agent. It runs on its own goroutine, separate from
// the scheduling loop; every manager call it makes is thread-safe.
type CallbackPump struct {
	nodeReg    *nodes.Registry
	offerMgr   *offers.Manager
	cleanupMgr *cleanup.Manager
	runningMgr *running.Manager
	store      persistence.Store
	broker     *events.Broker
	logger     zerolog.Logger
}

// NewCallbackPump builds a pump over the same collaborators the
// scheduling loop uses. Broker may be nil.
func NewCallbackPump(d Deps) *CallbackPump {
	return &CallbackPump{
		nodeReg:    d.NodeRegistry,
		offerMgr:   d.OfferManager,
		cleanupMgr: d.CleanupManager,
		runningMgr: d.RunningManager,
		store:      d.Store,
		broker:     d.Broker,
		logger:     log.WithComponent("callbacks"),
	}
}

// Run consumes feeds until ctx is canceled or every channel closes. A
// nil channel in feeds simply never fires.
func (p *CallbackPump) Run(ctx context.Context, feeds driver.Feeds) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-feeds.Offers:
			if !ok {
				return
			}
			p.offerMgr.AddOffers(batch)
		case update, ok := <-feeds.StatusUpdates:
			if !ok {
				return
			}
			p.HandleStatusUpdate(update)
		case agentID, ok := <-feeds.AgentLost:
			if !ok {
				return
			}
			p.HandleAgentLost(agentID)
		}
	}
}

// HandleStatusUpdate applies one task status transition. Updates bearing
// an agent id not present in the node registry are dropped without
// logging: the agent re-registered (or was never known) and anything it
// reports is stale.
func (p *CallbackPump) HandleStatusUpdate(update driver.StatusUpdate) {
	if _, ok := p.nodeReg.LookupByAgent(update.AgentID); !ok {
		return
	}

	re, ok := p.runningMgr.FindByTaskID(update.TaskID)
	if !ok {
		// Not a job task; if it is a cleanup task the cleanup manager
		// recognizes the agent, otherwise this is a no-op there too.
		p.cleanupMgr.HandleTaskUpdate(update.AgentID, update.Status)
		return
	}

	switch update.Status {
	case types.TaskStatusStaging, types.TaskStatusRunning:
		return
	case types.TaskStatusFinished:
		if re.HasMoreTasks() {
			// Mid-list task done; the next round launches the next one.
			if err := p.store.SaveRunningJobExe(re); err != nil {
				p.logger.Error().Err(err).Str("exe_id", re.ExeID).Msg("failed to persist task progress")
			}
			return
		}
		p.retireExe(re, update.TaskID, events.EventJobExeCompleted)
	case types.TaskStatusFailed, types.TaskStatusLost, types.TaskStatusKilled:
		p.retireExe(re, update.TaskID, events.EventJobExeFailed)
	}
}

// HandleAgentLost treats every task outstanding on the lost agent as
// LOST: the cleanup manager's in-flight task (if any) is requeued, and
// every running execution scheduled onto that agent is retired as
// failed.
func (p *CallbackPump) HandleAgentLost(agentID string) {
	p.cleanupMgr.HandleTaskUpdate(agentID, types.TaskStatusLost)

	for _, re := range p.runningMgr.GetAllJobExes() {
		if re.AgentIDAtSchedule != agentID {
			continue
		}
		taskID := ""
		if re.CurrentTaskIndex > 0 {
			taskID = re.TaskList[re.CurrentTaskIndex-1].TaskID
		}
		p.retireExe(re, taskID, events.EventJobExeFailed)
	}
	p.logger.Warn().Str("agent_id", agentID).Msg("agent lost")
}

// retireExe removes a terminally finished execution from the running
// set and persistence, and hands its reclamation work to the cleanup
// manager.
func (p *CallbackPump) retireExe(re *types.RunningJobExe, lastTaskID string, eventType events.EventType) {
	p.runningMgr.Remove(re.ExeID)
	metrics.RunningExesTotal.Set(float64(p.runningMgr.Count()))

	if err := p.store.DeleteRunningJobExe(re.ExeID); err != nil {
		p.logger.Error().Err(err).Str("exe_id", re.ExeID).Msg("failed to delete retired execution")
	}

	p.cleanupMgr.AddJobExecution(types.CleanupEntry{
		ExeID:          re.ExeID,
		NodeID:         re.NodeID,
		WorkspacePaths: launchedHostPaths(re),
		ContainerName:  lastTaskID,
	})

	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:     eventType,
			Message:  re.ExeID,
			Metadata: map[string]string{"node_id": re.NodeID},
		})
	}
}

// launchedHostPaths collects the host-side mount paths of every task the
// execution actually launched, deduplicated, so cleanup can delete the
// workspaces left behind. Named-volume parameters have no host path and
// are skipped.
func launchedHostPaths(re *types.RunningJobExe) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, task := range re.TaskList[:re.CurrentTaskIndex] {
		for _, param := range task.Payload.VolumeParams {
			host, _, ok := strings.Cut(param, ":")
			if !ok || !strings.HasPrefix(host, "/") || seen[host] {
				continue
			}
			seen[host] = true
			paths = append(paths, host)
		}
	}
	return paths
}
