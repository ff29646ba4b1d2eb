// Package jobtype holds the scheduler's read-only view of job type
// definitions, rebuilt from the catalog layer every round.
package jobtype

import (
	"sync"

	"github.com/cuemby/corral/pkg/types"
)

// Manager is a thread-safe, swappable snapshot of job types keyed by id.
type Manager struct {
	mu    sync.RWMutex
	types map[string]types.JobType
}

// New creates an empty job type manager.
func New() *Manager {
	return &Manager{types: make(map[string]types.JobType)}
}

// SetAll replaces the entire snapshot, e.g. after a refresh from the
// catalog layer.
func (m *Manager) SetAll(jobTypes []types.JobType) {
	next := make(map[string]types.JobType, len(jobTypes))
	for _, jt := range jobTypes {
		next[jt.JobTypeID] = jt
	}
	m.mu.Lock()
	m.types = next
	m.mu.Unlock()
}

// Snapshot returns the current job type view, keyed by job_type_id.
func (m *Manager) Snapshot() map[string]types.JobType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.JobType, len(m.types))
	for k, v := range m.types {
		out[k] = v
	}
	return out
}
