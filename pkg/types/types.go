// Package types holds the data model shared by every scheduler component:
// nodes, resource offers, queued and running job executions, tasks, and
// cleanup entries. Nothing in this package talks to the network, a
// database, or a container runtime — it is pure data plus the small
// amount of arithmetic the offer manager needs (Resources.Fits/Sub).
package types

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

// Resources is a bag of the node capacity the scheduler reasons about.
// All three fields are always present; a zero value means "none available",
// never "unknown".
type Resources struct {
	CPUs   float64
	MemMB  int64
	DiskMB int64
}

// Fits reports whether need can be carved out of r without driving any
// component negative.
func (r Resources) Fits(need Resources) bool {
	return r.CPUs >= need.CPUs && r.MemMB >= need.MemMB && r.DiskMB >= need.DiskMB
}

// Sub returns r with need subtracted componentwise. Callers must have
// already checked Fits; Sub does not clamp at zero so that a programming
// error (reserving more than is available) surfaces as a negative value
// the caller can detect as a Fatal invariant violation.
func (r Resources) Sub(need Resources) Resources {
	return Resources{
		CPUs:   r.CPUs - need.CPUs,
		MemMB:  r.MemMB - need.MemMB,
		DiskMB: r.DiskMB - need.DiskMB,
	}
}

// Add returns r with other added componentwise.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUs:   r.CPUs + other.CPUs,
		MemMB:  r.MemMB + other.MemMB,
		DiskMB: r.DiskMB + other.DiskMB,
	}
}

// Negative reports whether any component of r has gone below zero, which
// indicates a reservation-accounting bug.
func (r Resources) Negative() bool {
	return r.CPUs < 0 || r.MemMB < 0 || r.DiskMB < 0
}

// String renders resources with human-readable memory/disk units for log
// lines, e.g. "cpus=2.00 mem=1GiB disk=4GiB".
func (r Resources) String() string {
	return fmt.Sprintf("cpus=%.2f mem=%s disk=%s", r.CPUs,
		units.BytesSize(float64(r.MemMB)*1024*1024),
		units.BytesSize(float64(r.DiskMB)*1024*1024))
}

// Node is a worker in the cluster. NodeID is durable and assigned once by
// persistence; AgentID is ephemeral and changes whenever the worker
// re-registers with the resource broker.
type Node struct {
	NodeID   string
	AgentID  string
	Hostname string
	Capacity Resources
	Paused   bool
	Online   bool
}

// Offer is an immutable, short-lived grant of resources on one node.
type Offer struct {
	OfferID   string
	NodeID    string
	Resources Resources
}

// NodeOffers is the offer manager's per-node aggregation: the active
// offers for a node, how much of their resources remains unreserved, and
// the work that has been provisionally admitted against it this round.
type NodeOffers struct {
	Node            Node
	OfferIDs        []string
	Available       Resources
	AcceptedNew     []*QueuedJobExe
	AcceptedRunning []*RunningJobExe
}

// AddOfferID records an additional offer id backing this node's slot.
func (no *NodeOffers) AddOfferID(id string) {
	no.OfferIDs = append(no.OfferIDs, id)
}

// GetAcceptedNewJobExes returns the queued executions admitted this round.
func (no *NodeOffers) GetAcceptedNewJobExes() []*QueuedJobExe { return no.AcceptedNew }

// GetAcceptedRunningJobExes returns the running executions whose next task
// was admitted this round.
func (no *NodeOffers) GetAcceptedRunningJobExes() []*RunningJobExe { return no.AcceptedRunning }

// QueuedJobExe is a candidate for placement, produced by
// persistence.GetQueue and read-only within the scheduling loop.
type QueuedJobExe struct {
	QueueID           string
	JobTypeID         string
	RequiredResources Resources
	ConfigurationRef  string
	Priority          int
}

// TaskStatus is the lifecycle state of a single task as reported by the
// resource broker driver.
type TaskStatus string

const (
	TaskStatusStaging  TaskStatus = "STAGING"
	TaskStatusRunning  TaskStatus = "RUNNING"
	TaskStatusFinished TaskStatus = "FINISHED"
	TaskStatusFailed   TaskStatus = "FAILED"
	TaskStatusLost     TaskStatus = "LOST"
	TaskStatusKilled   TaskStatus = "KILLED"
)

// Task is opaque to the scheduler beyond its id, owning agent, and
// resource footprint. Launch is idempotent by TaskID; re-sending a
// launched task id is forbidden.
type Task struct {
	TaskID    string
	AgentID   string
	Resources Resources
	Payload   TaskPayload
}

// TaskPayload carries whatever a task builder already computed: image,
// command, environment, and pre-rendered volume parameters (see
// pkg/volume). The scheduler never inspects or mutates this beyond
// passing it through to the driver.
type TaskPayload struct {
	Image        string
	Command      []string
	Env          map[string]string
	VolumeParams []string
}

// RunningJobExe is a job execution that has been scheduled onto a node.
// TaskList is finite, ordered, and fixed at schedule time.
type RunningJobExe struct {
	ExeID             string
	NodeID            string
	AgentIDAtSchedule string
	TaskList          []Task
	CurrentTaskIndex  int
	Status            ExeStatus
}

// ExeStatus is the lifecycle state of a running job execution.
type ExeStatus string

const (
	ExeStatusRunning   ExeStatus = "RUNNING"
	ExeStatusCompleted ExeStatus = "COMPLETED"
	ExeStatusFailed    ExeStatus = "FAILED"
)

// StartNextTask returns the next task to launch, or (Task{}, false) if
// every task in the list has already been started. At most one task per
// execution is ever outstanding at a time; StartNextTask itself advances
// CurrentTaskIndex past the returned task.
func (re *RunningJobExe) StartNextTask() (Task, bool) {
	if re.CurrentTaskIndex >= len(re.TaskList) {
		return Task{}, false
	}
	task := re.TaskList[re.CurrentTaskIndex]
	re.CurrentTaskIndex++
	return task, true
}

// PeekNextTask returns the next task without advancing CurrentTaskIndex,
// used by the offer manager to check resource fit before committing to
// launch it.
func (re *RunningJobExe) PeekNextTask() (Task, bool) {
	if re.CurrentTaskIndex >= len(re.TaskList) {
		return Task{}, false
	}
	return re.TaskList[re.CurrentTaskIndex], true
}

// HasMoreTasks reports whether StartNextTask would succeed.
func (re *RunningJobExe) HasMoreTasks() bool {
	return re.CurrentTaskIndex < len(re.TaskList)
}

// CleanupEntry describes the reclamation work for one finished job
// execution: the workspace paths to delete and the container to remove.
type CleanupEntry struct {
	ExeID          string
	NodeID         string
	WorkspacePaths []string
	ContainerName  string
}

// CleanupTask is a synthesized, launchable batch of cleanup entries.
type CleanupTask struct {
	TaskID  string
	NodeID  string
	AgentID string
	Entries []CleanupEntry
}

// JobType is the scheduler's read-only view of a job type definition,
// rebuilt from the job type manager every round.
type JobType struct {
	JobTypeID            string
	IsPaused             bool
	ResourceRequirements Resources
}

// Now is a package-level clock indirection that tests can replace with a
// fixed clock. The scheduler packages call time.Now directly and do not
// read it.
var Now = time.Now
