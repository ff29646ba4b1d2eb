// Package persistence defines the durable-storage contract the
// scheduling loop uses to read the queue and atomically promote queued
// executions into running ones. The Store interface keeps the core
// independent of any particular query layer; BoltStore is the default
// BoltDB-backed implementation.
package persistence

import (
	"github.com/cuemby/corral/pkg/ingest"
	"github.com/cuemby/corral/pkg/types"
)

// ScheduledPair binds a queued execution the scheduling loop admitted
// this round to the RunningJobExe it builds from that queue entry's
// job type (task list, resource footprint). Persistence only commits
// the pair atomically; it never builds the task list itself.
type ScheduledPair struct {
	Queued  *types.QueuedJobExe
	Running *types.RunningJobExe
}

// Store is everything the scheduling loop needs from durable storage.
type Store interface {
	// GetQueue returns every queued job execution eligible for
	// admission, ordered the way the caller should consider them
	// (typically priority then queue time).
	GetQueue() ([]*types.QueuedJobExe, error)

	// QueueJobExecution persists a new queued execution. The
	// scheduling loop itself never calls this; it is the CRUD/catalog
	// layer's entry point into the same queue GetQueue reads from.
	QueueJobExecution(qe *types.QueuedJobExe) error

	// ScheduleJobExecutions atomically removes each pair's queued
	// execution from the queue and persists its running execution. A
	// transient storage failure should be wrapped with
	// schederr.NewTransientPersistence so pkg/retry can back off and
	// retry the call.
	ScheduleJobExecutions(pairs []ScheduledPair) error

	// SaveRunningJobExe persists a running execution's latest state
	// (e.g. after a task status transition).
	SaveRunningJobExe(exe *types.RunningJobExe) error

	// DeleteRunningJobExe removes a completed execution's persisted
	// state.
	DeleteRunningJobExe(exeID string) error

	// GetRunningJobExes returns every running execution recorded in
	// storage, used to repopulate pkg/running after a restart.
	GetRunningJobExes() ([]*types.RunningJobExe, error)

	// SaveNode upserts a node record; the node snapshot the registries
	// rebuild from each refresh is the set of records saved here.
	SaveNode(n types.Node) error

	// ListNodes returns every known node, the external snapshot
	// pkg/nodes.Registry.UpdateFromSnapshot consumes.
	ListNodes() ([]types.Node, error)

	// SaveJobType upserts a job type definition.
	SaveJobType(jt types.JobType) error

	// ListJobTypes returns every job type definition, feeding the
	// per-round pkg/jobtype snapshot.
	ListJobTypes() ([]types.JobType, error)

	// SaveIngest upserts an ingest record.
	SaveIngest(ing *ingest.Ingest) error

	// GetIngestsByScan returns every ingest recorded against scanID,
	// used by the scan dedup pass (pkg/ingest.DeduplicateBatch).
	GetIngestsByScan(scanID string) ([]*ingest.Ingest, error)

	Close() error
}
