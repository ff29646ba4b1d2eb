// Package driver defines the resource broker driver contract: the
// scheduling loop's only way to launch tasks or decline offers, and the
// inbound feeds (offers, status updates, agent-lost) that a real driver
// implementation pushes from its own callback threads.
package driver

import (
	"context"

	"github.com/cuemby/corral/pkg/types"
)

// Driver is the outbound half of the resource broker contract.
type Driver interface {
	// LaunchTasks launches tasks against the given offer ids. Launch is
	// idempotent by task id; re-sending an already-launched task id is
	// forbidden by the caller, not enforced here.
	LaunchTasks(ctx context.Context, offerIDs []string, tasks []types.Task) error

	// DeclineOffer returns an unused offer to the broker.
	DeclineOffer(ctx context.Context, offerID string) error
}

// StatusUpdate is a task status transition delivered by a driver
// callback thread.
type StatusUpdate struct {
	AgentID string
	TaskID  string
	Status  types.TaskStatus
}

// Feeds groups the inbound channels a driver implementation publishes
// to from its own callback goroutines. The scheduling loop only ever
// receives from these; it never owns or closes them.
type Feeds struct {
	Offers        <-chan []types.Offer
	StatusUpdates <-chan StatusUpdate
	AgentLost     <-chan string
}
