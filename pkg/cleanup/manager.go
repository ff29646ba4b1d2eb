// Package cleanup implements the cleanup manager: a per-node queue of
// cleanup tasks for completed job executions. Agent identities churn as
// workers re-register, so every status callback is guarded by the
// current agent-to-node mapping; an unknown node or agent id is a
// silent no-op.
package cleanup

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the per-node cap on how many queued cleanup
// entries are drained into one synthesized cleanup task.
const DefaultBatchSize = 25

type nodeCleanup struct {
	agentID  string
	queue    []types.CleanupEntry
	inFlight *types.CleanupTask
}

// Manager tracks per-node cleanup queues. All public methods are
// guarded by a single mutex with short, non-blocking critical sections.
type Manager struct {
	mu        sync.Mutex
	nodes     map[string]*nodeCleanup // node_id -> queue state
	byAgentID map[string]string       // agent_id -> node_id, independent of the node registry
	batchSize int
	logger    zerolog.Logger
}

// New creates an empty cleanup manager. batchSize <= 0 uses
// DefaultBatchSize.
func New(batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Manager{
		nodes:     make(map[string]*nodeCleanup),
		byAgentID: make(map[string]string),
		batchSize: batchSize,
		logger:    log.WithComponent("cleanup"),
	}
}

// UpdateNodes fully recomputes agent_id -> node_id. Existing per-node
// queues are preserved keyed by node_id; new nodes get an empty queue;
// nodes absent from the snapshot lose their queue entirely (the
// documented exception to "never loses an entry").
func (m *Manager) UpdateNodes(current []types.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAgent := make(map[string]string, len(current))
	seen := make(map[string]bool, len(current))
	for _, n := range current {
		seen[n.NodeID] = true
		if n.AgentID != "" {
			byAgent[n.AgentID] = n.NodeID
		}
		nc, ok := m.nodes[n.NodeID]
		if !ok {
			nc = &nodeCleanup{}
			m.nodes[n.NodeID] = nc
		}
		nc.agentID = n.AgentID
	}

	for nodeID := range m.nodes {
		if !seen[nodeID] {
			delete(m.nodes, nodeID)
		}
	}

	m.byAgentID = byAgent
}

// AddJobExecution appends a finished execution's cleanup requirements to
// its node's queue. It is a silent no-op if the node is unknown — a race
// with a node that has just disappeared.
func (m *Manager) AddJobExecution(entry types.CleanupEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nc, ok := m.nodes[entry.NodeID]
	if !ok {
		m.logger.Debug().Str("node_id", entry.NodeID).Str("exe_id", entry.ExeID).
			Msg("dropping cleanup entry for unknown node")
		return
	}
	nc.queue = append(nc.queue, entry)
}

// GetNextTasks synthesizes one batched cleanup task per node that has no
// in-flight task and a non-empty queue, up to batchSize entries each,
// and returns the set for the scheduler to launch. Each task is
// addressed to its node's current agent id; a node with no registered
// agent is skipped until it re-registers.
func (m *Manager) GetNextTasks() []types.CleanupTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.CleanupTask
	for nodeID, nc := range m.nodes {
		if nc.inFlight != nil || len(nc.queue) == 0 || nc.agentID == "" {
			continue
		}

		n := m.batchSize
		if n > len(nc.queue) {
			n = len(nc.queue)
		}
		entries := make([]types.CleanupEntry, n)
		copy(entries, nc.queue[:n])
		nc.queue = nc.queue[n:]

		task := types.CleanupTask{
			TaskID:  uuid.New().String(),
			NodeID:  nodeID,
			AgentID: nc.agentID,
			Entries: entries,
		}
		nc.inFlight = &task
		out = append(out, task)
	}
	return out
}

// HandleTaskUpdate transitions a node's in-flight cleanup task per the
// reported status. RUNNING is ignored. FINISHED clears in-flight (its
// entries were already drained out of the queue when the task was
// synthesized). FAILED and LOST clear in-flight and re-queue the
// entries at the front for retry. An update for an agent id not
// currently mapped to any node is dropped.
func (m *Manager) HandleTaskUpdate(agentID string, status types.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleStatusLocked(agentID, status)
}

// HandleTaskTimeout applies the same agent-id guard as HandleTaskUpdate
// and treats the timeout as a FAILED status.
func (m *Manager) HandleTaskTimeout(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleStatusLocked(agentID, types.TaskStatusFailed)
}

func (m *Manager) handleStatusLocked(agentID string, status types.TaskStatus) {
	nodeID, ok := m.byAgentID[agentID]
	if !ok {
		return
	}
	nc, ok := m.nodes[nodeID]
	if !ok || nc.inFlight == nil {
		return
	}

	switch status {
	case types.TaskStatusRunning, types.TaskStatusStaging:
		return
	case types.TaskStatusFinished:
		nc.inFlight = nil
	case types.TaskStatusFailed, types.TaskStatusLost, types.TaskStatusKilled:
		nc.queue = append(append([]types.CleanupEntry{}, nc.inFlight.Entries...), nc.queue...)
		nc.inFlight = nil
	}
}

// QueueDepth returns the number of pending (not in-flight) cleanup
// entries for nodeID.
func (m *Manager) QueueDepth(nodeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	nc, ok := m.nodes[nodeID]
	if !ok {
		return 0
	}
	return len(nc.queue)
}
