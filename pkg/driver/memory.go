package driver

import (
	"context"
	"sync"

	"github.com/cuemby/corral/pkg/types"
)

// MemoryDriver is an in-process Driver used by tests and by the
// standalone single-node deployment mode: it records every launch and
// decline instead of talking to a real resource broker.
type MemoryDriver struct {
	mu       sync.Mutex
	Launched []LaunchCall
	Declined []string

	OffersCh  chan []types.Offer
	StatusCh  chan StatusUpdate
	LostCh    chan string
}

// LaunchCall records one LaunchTasks invocation.
type LaunchCall struct {
	OfferIDs []string
	Tasks    []types.Task
}

// NewMemoryDriver creates a MemoryDriver with buffered feed channels.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		OffersCh: make(chan []types.Offer, 16),
		StatusCh: make(chan StatusUpdate, 16),
		LostCh:   make(chan string, 16),
	}
}

// Feeds exposes this driver's channels as a Feeds value.
func (d *MemoryDriver) Feeds() Feeds {
	return Feeds{Offers: d.OffersCh, StatusUpdates: d.StatusCh, AgentLost: d.LostCh}
}

// LaunchTasks implements Driver.
func (d *MemoryDriver) LaunchTasks(_ context.Context, offerIDs []string, tasks []types.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Launched = append(d.Launched, LaunchCall{OfferIDs: offerIDs, Tasks: tasks})
	return nil
}

// DeclineOffer implements Driver.
func (d *MemoryDriver) DeclineOffer(_ context.Context, offerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Declined = append(d.Declined, offerID)
	return nil
}

// PushOffers feeds offers to the OffersCh, as a real driver's callback
// thread would.
func (d *MemoryDriver) PushOffers(offers []types.Offer) {
	d.OffersCh <- offers
}

// Snapshot returns a defensive copy of every launch/decline recorded so
// far.
func (d *MemoryDriver) Snapshot() ([]LaunchCall, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	launched := make([]LaunchCall, len(d.Launched))
	copy(launched, d.Launched)
	declined := make([]string, len(d.Declined))
	copy(declined, d.Declined)
	return launched, declined
}
