package offers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/types"
)

func addReadyOffer(m *Manager, offerID, nodeID string, r types.Resources) {
	m.AddOffers([]types.Offer{{OfferID: offerID, NodeID: nodeID, Resources: r}})
	m.ReadyNewOffers()
}

func TestConsiderNewJobExeBestFitPicksLargestRemainingSlack(t *testing.T) {
	m := New()
	tight := types.Node{NodeID: "n-tight", Online: true, Capacity: types.Resources{CPUs: 1, MemMB: 1024}}
	loose := types.Node{NodeID: "n-loose", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	m.UpdateNodes([]types.Node{tight, loose})
	addReadyOffer(m, "o-tight", "n-tight", tight.Capacity)
	addReadyOffer(m, "o-loose", "n-loose", loose.Capacity)

	qe := &types.QueuedJobExe{QueueID: "q-1", RequiredResources: types.Resources{CPUs: 1, MemMB: 512}}
	decision := m.ConsiderNewJobExe(qe)

	require.Equal(t, Accepted, decision)
	groups := m.PopOffersWithAcceptedJobExes()
	require.Len(t, groups, 1)
	assert.Equal(t, "n-loose", groups[0].Node.NodeID, "largest remaining slack wins the tiebreak")
}

func TestConsiderNewJobExeRejectsPausedAndOfflineNodes(t *testing.T) {
	m := New()
	paused := types.Node{NodeID: "n-paused", Online: true, Paused: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	offline := types.Node{NodeID: "n-offline", Online: false, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	m.UpdateNodes([]types.Node{paused, offline})
	addReadyOffer(m, "o-paused", "n-paused", paused.Capacity)
	addReadyOffer(m, "o-offline", "n-offline", offline.Capacity)

	qe := &types.QueuedJobExe{QueueID: "q-1", RequiredResources: types.Resources{CPUs: 1, MemMB: 512}}
	assert.Equal(t, Rejected, m.ConsiderNewJobExe(qe))
	assert.Empty(t, m.PopOffersWithAcceptedJobExes())
}

func TestConsiderNewJobExeRejectsWhenNoNodeHasCapacity(t *testing.T) {
	m := New()
	small := types.Node{NodeID: "n-1", Online: true, Capacity: types.Resources{CPUs: 1, MemMB: 512}}
	m.UpdateNodes([]types.Node{small})
	addReadyOffer(m, "o-1", "n-1", small.Capacity)

	qe := &types.QueuedJobExe{QueueID: "q-1", RequiredResources: types.Resources{CPUs: 2, MemMB: 4096}}
	assert.Equal(t, Rejected, m.ConsiderNewJobExe(qe))
}

func TestConsiderNextTaskFitsAgainstBoundNode(t *testing.T) {
	m := New()
	node := types.Node{NodeID: "n-1", Online: true, Capacity: types.Resources{CPUs: 1, MemMB: 1024}}
	m.UpdateNodes([]types.Node{node})
	addReadyOffer(m, "o-1", "n-1", node.Capacity)

	re := &types.RunningJobExe{
		ExeID:  "e-1",
		NodeID: "n-1",
		TaskList: []types.Task{
			{TaskID: "t-1", Resources: types.Resources{CPUs: 1, MemMB: 1024}},
		},
	}
	assert.Equal(t, Accepted, m.ConsiderNextTask(re))

	groups := m.PopOffersWithAcceptedJobExes()
	require.Len(t, groups, 1)
	require.Len(t, groups[0].AcceptedRunning, 1)
	assert.True(t, groups[0].Available.Negative() == false)
}

func TestConsiderNextTaskRejectsUnknownNode(t *testing.T) {
	m := New()
	re := &types.RunningJobExe{
		ExeID:  "e-1",
		NodeID: "ghost",
		TaskList: []types.Task{
			{TaskID: "t-1", Resources: types.Resources{CPUs: 1, MemMB: 1024}},
		},
	}
	assert.Equal(t, Rejected, m.ConsiderNextTask(re))
}

func TestPopOffersWithAcceptedJobExesOnlyReturnsTouchedNodes(t *testing.T) {
	m := New()
	idle := types.Node{NodeID: "n-idle", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	busy := types.Node{NodeID: "n-busy", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	m.UpdateNodes([]types.Node{idle, busy})
	addReadyOffer(m, "o-idle", "n-idle", idle.Capacity)
	addReadyOffer(m, "o-busy", "n-busy", busy.Capacity)

	qe := &types.QueuedJobExe{QueueID: "q-1", RequiredResources: types.Resources{CPUs: 1, MemMB: 512}}
	require.Equal(t, Accepted, m.ConsiderNewJobExe(qe))

	groups := m.PopOffersWithAcceptedJobExes()
	require.Len(t, groups, 1)
	assert.NotEqual(t, "n-idle", groups[0].Node.NodeID)

	// A second pop before any new admissions returns nothing: reservations
	// survive exactly one loop.
	assert.Empty(t, m.PopOffersWithAcceptedJobExes())
}

func TestPopAllOffersClearsEveryNodeAndIsUsedOnlyOnBarrenRounds(t *testing.T) {
	m := New()
	a := types.Node{NodeID: "n-a", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	b := types.Node{NodeID: "n-b", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	m.UpdateNodes([]types.Node{a, b})
	addReadyOffer(m, "o-a", "n-a", a.Capacity)
	addReadyOffer(m, "o-b", "n-b", b.Capacity)

	groups := m.PopAllOffers()
	require.Len(t, groups, 2)

	ids := map[string]bool{}
	for _, g := range groups {
		for _, id := range g.OfferIDs {
			ids[id] = true
		}
	}
	assert.True(t, ids["o-a"])
	assert.True(t, ids["o-b"])

	// Popped twice in a row returns nothing the second time.
	assert.Empty(t, m.PopAllOffers())
}

func TestUpdateNodesReturnsOffersToDeclineForVanishedNodes(t *testing.T) {
	m := New()
	node := types.Node{NodeID: "n-1", Online: true, Capacity: types.Resources{CPUs: 4, MemMB: 4096}}
	m.UpdateNodes([]types.Node{node})
	addReadyOffer(m, "o-1", "n-1", node.Capacity)

	toDecline := m.UpdateNodes(nil)
	assert.Equal(t, []string{"o-1"}, toDecline)

	// The node is gone; a fresh offer for it is silently dropped.
	m.AddOffers([]types.Offer{{OfferID: "o-2", NodeID: "n-1", Resources: node.Capacity}})
	m.ReadyNewOffers()
	assert.Empty(t, m.PopAllOffers())
}
