// Package nodes implements the node registry: the authoritative
// in-memory mapping of stable node identity to current agent identity,
// rebuilt wholesale from external snapshots every round.
package nodes

import (
	"sync"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Registry holds the current node set and the derived agent_id -> node_id
// map. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	nodes     map[string]types.Node // node_id -> Node
	byAgentID map[string]string     // agent_id -> node_id
	logger    zerolog.Logger
}

// New creates an empty node registry.
func New() *Registry {
	return &Registry{
		nodes:     make(map[string]types.Node),
		byAgentID: make(map[string]string),
		logger:    log.WithComponent("nodes"),
	}
}

// UpdateFromSnapshot atomically replaces the node set and fully
// recomputes agent_id -> node_id. Nodes absent from snapshot are
// evicted; a node re-appearing with a new agent_id is honored.
func (r *Registry) UpdateFromSnapshot(snapshot []types.Node) {
	nodes := make(map[string]types.Node, len(snapshot))
	byAgent := make(map[string]string, len(snapshot))
	for _, n := range snapshot {
		nodes[n.NodeID] = n
		if n.AgentID != "" {
			byAgent[n.AgentID] = n.NodeID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nodes
	r.byAgentID = byAgent
	r.logger.Debug().Int("node_count", len(nodes)).Msg("node registry refreshed from snapshot")
}

// LookupByAgent returns the node_id currently bound to agentID, or ""
// with ok=false if no node holds that agent id.
func (r *Registry) LookupByAgent(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodeID, ok := r.byAgentID[agentID]
	return nodeID, ok
}

// Get returns the node for nodeID.
func (r *Registry) Get(nodeID string) (types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// GetNodes returns an immutable snapshot of every known node. Callers
// must not mutate the returned slice's backing nodes through any other
// reference; the registry hands out a defensive copy.
func (r *Registry) GetNodes() []types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}
