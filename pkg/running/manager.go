// Package running implements the running-execution manager: the minimal
// registry of job executions currently in flight on the cluster.
package running

import (
	"sync"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Manager holds the set of running job executions.
type Manager struct {
	mu     sync.RWMutex
	exes   map[string]*types.RunningJobExe // exe_id -> exe
	logger zerolog.Logger
}

// New creates an empty running-execution manager.
func New() *Manager {
	return &Manager{
		exes:   make(map[string]*types.RunningJobExe),
		logger: log.WithComponent("running"),
	}
}

// AddJobExes registers newly scheduled executions.
func (m *Manager) AddJobExes(exes []*types.RunningJobExe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, re := range exes {
		m.exes[re.ExeID] = re
	}
}

// GetAllJobExes returns every running execution. The scheduling loop
// iterates this once per round to offer each a chance at its next task;
// the returned slice is a defensive copy of the map's values, but the
// RunningJobExe pointers themselves are shared so StartNextTask's
// CurrentTaskIndex advance is visible across rounds.
func (m *Manager) GetAllJobExes() []*types.RunningJobExe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.RunningJobExe, 0, len(m.exes))
	for _, re := range m.exes {
		out = append(out, re)
	}
	return out
}

// FindByTaskID returns the execution whose task list contains taskID.
// Status-update dispatch uses this to tell a job task apart from a
// synthesized cleanup task, which belongs to no execution.
func (m *Manager) FindByTaskID(taskID string) (*types.RunningJobExe, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, re := range m.exes {
		for _, task := range re.TaskList {
			if task.TaskID == taskID {
				return re, true
			}
		}
	}
	return nil, false
}

// Remove deletes exeID from the set upon a terminal task status. This is
// the only way an execution leaves the set; requeuing onto a new node is
// a persistence-layer concern, not performed here.
func (m *Manager) Remove(exeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exes, exeID)
}

// Count returns the number of tracked running executions, used for
// metrics reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exes)
}
