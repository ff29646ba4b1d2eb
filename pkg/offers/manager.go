// Package offers implements the offer manager: it accumulates resource
// offers per node, answers admission queries for new and
// already-running job executions, and surfaces admitted work grouped by
// node for the scheduling loop to launch.
package offers

import (
	"sort"
	"sync"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Decision is the result of an admission query.
type Decision int

const (
	Rejected Decision = iota
	Accepted
)

type nodeSlot struct {
	node      types.Node
	offerIDs  []string
	available types.Resources
	newOffers []types.Offer // buffered, not yet merged by ReadyNewOffers
	accNew    []*types.QueuedJobExe
	accRun    []*types.RunningJobExe
}

// Manager holds per-node offer state. All public methods are safe for
// concurrent use; the critical sections are short in-memory operations,
// never blocking I/O, per the concurrency model.
type Manager struct {
	mu     sync.Mutex
	slots  map[string]*nodeSlot // node_id -> slot
	logger zerolog.Logger
}

// New creates an empty offer manager.
func New() *Manager {
	return &Manager{
		slots:  make(map[string]*nodeSlot),
		logger: log.WithComponent("offers"),
	}
}

// UpdateNodes synchronizes per-node slots with the current node
// registry snapshot. Nodes absent from nodes are dropped and every
// offer id they held is returned so the caller can decline them on the
// driver; any work already accepted against a dropped node is discarded
// with it and its queue/running entries are reconsidered next round.
func (m *Manager) UpdateNodes(current []types.Node) (offerIDsToDecline []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]types.Node, len(current))
	for _, n := range current {
		byID[n.NodeID] = n
	}

	for nodeID, slot := range m.slots {
		n, ok := byID[nodeID]
		if !ok {
			offerIDsToDecline = append(offerIDsToDecline, slot.offerIDs...)
			delete(m.slots, nodeID)
			continue
		}
		slot.node = n
	}

	for nodeID, n := range byID {
		if _, ok := m.slots[nodeID]; !ok {
			m.slots[nodeID] = &nodeSlot{node: n}
		}
	}

	return offerIDsToDecline
}

// AddOffers lands offers in each node's new-offer buffer; they are not
// visible to admission until ReadyNewOffers is called.
func (m *Manager) AddOffers(incoming []types.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range incoming {
		slot, ok := m.slots[o.NodeID]
		if !ok {
			// Offer for a node we don't know about yet (race with
			// update_nodes); drop it, it will be re-offered.
			continue
		}
		slot.newOffers = append(slot.newOffers, o)
	}
}

// ReadyNewOffers atomically merges every node's new-offer buffer into its
// active set, summing resources into Available.
func (m *Manager) ReadyNewOffers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, slot := range m.slots {
		for _, o := range slot.newOffers {
			slot.offerIDs = append(slot.offerIDs, o.OfferID)
			slot.available = slot.available.Add(o.Resources)
		}
		slot.newOffers = nil
	}
}

// ConsiderNewJobExe evaluates a queued execution against every
// schedulable node (online, not paused) with sufficient available
// resources. Exactly one node is chosen: best-fit-descending by
// remaining slack after subtraction (largest remaining memory wins,
// then largest remaining cpu), with node_id as the final deterministic
// tiebreak. On ACCEPTED, the exe is appended to that node's accepted-new
// list and its resources are subtracted from Available.
func (m *Manager) ConsiderNewJobExe(qe *types.QueuedJobExe) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := m.bestFitLocked(qe.RequiredResources)
	if best == nil {
		return Rejected
	}

	best.available = best.available.Sub(qe.RequiredResources)
	best.accNew = append(best.accNew, qe)
	return Accepted
}

func (m *Manager) bestFitLocked(need types.Resources) *nodeSlot {
	var candidates []*nodeSlot
	for _, slot := range m.slots {
		if slot.node.Paused || !slot.node.Online {
			continue
		}
		if !slot.available.Fits(need) {
			continue
		}
		candidates = append(candidates, slot)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri := candidates[i].available.Sub(need)
		rj := candidates[j].available.Sub(need)
		if ri.MemMB != rj.MemMB {
			return ri.MemMB > rj.MemMB
		}
		if ri.CPUs != rj.CPUs {
			return ri.CPUs > rj.CPUs
		}
		return candidates[i].node.NodeID < candidates[j].node.NodeID
	})

	return candidates[0]
}

// ConsiderNextTask peeks the running execution's next task and, if it
// fits within its already-bound node's remaining availability, admits
// it: appended to that node's accepted-running list and subtracted from
// Available. Running executions whose node has disappeared, or whose
// task list is exhausted, are silently skipped — they are reconsidered
// next round.
func (m *Manager) ConsiderNextTask(re *types.RunningJobExe) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := re.PeekNextTask()
	if !ok {
		return Rejected
	}

	slot, ok := m.slots[re.NodeID]
	if !ok {
		return Rejected
	}
	if !slot.available.Fits(task.Resources) {
		return Rejected
	}

	slot.available = slot.available.Sub(task.Resources)
	slot.accRun = append(slot.accRun, re)
	return Accepted
}

// PopOffersWithAcceptedJobExes returns and clears only the node entries
// that have at least one accepted exe or task this round.
func (m *Manager) PopOffersWithAcceptedJobExes() []types.NodeOffers {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []types.NodeOffers
	for nodeID, slot := range m.slots {
		if len(slot.accNew) == 0 && len(slot.accRun) == 0 {
			continue
		}
		result = append(result, toNodeOffers(slot))
		m.resetSlotLocked(nodeID, slot)
	}
	return result
}

// PopAllOffers returns and clears every node entry that holds offers or
// accepted work, used when a round produced no schedule; the caller
// declines every returned offer. Nodes with nothing to return are
// skipped.
func (m *Manager) PopAllOffers() []types.NodeOffers {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.NodeOffers, 0, len(m.slots))
	for nodeID, slot := range m.slots {
		if len(slot.offerIDs) == 0 && len(slot.accNew) == 0 && len(slot.accRun) == 0 {
			continue
		}
		result = append(result, toNodeOffers(slot))
		m.resetSlotLocked(nodeID, slot)
	}
	return result
}

func toNodeOffers(slot *nodeSlot) types.NodeOffers {
	ids := make([]string, len(slot.offerIDs))
	copy(ids, slot.offerIDs)
	return types.NodeOffers{
		Node:            slot.node,
		OfferIDs:        ids,
		Available:       slot.available,
		AcceptedNew:     slot.accNew,
		AcceptedRunning: slot.accRun,
	}
}

// resetSlotLocked clears a slot's offers and accepted-work accounting
// after it has been popped; the node itself remains known so it is
// still eligible to receive new offers next round.
func (m *Manager) resetSlotLocked(_ string, slot *nodeSlot) {
	slot.offerIDs = nil
	slot.available = types.Resources{}
	slot.accNew = nil
	slot.accRun = nil
}
