// Package scheduler implements the single-threaded periodic scheduling
// loop: one round refreshes offers and job types, gives running
// executions first crack at their next task, admits queued work up to a
// per-round ceiling, persists the admissions, and launches or declines
// every offer the round touched. The callback pump in this package
// services the driver's inbound feeds on a separate goroutine.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/cleanup"
	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/driver"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/jobtype"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/nodes"
	"github.com/cuemby/corral/pkg/offers"
	"github.com/cuemby/corral/pkg/persistence"
	"github.com/cuemby/corral/pkg/retry"
	"github.com/cuemby/corral/pkg/running"
	"github.com/cuemby/corral/pkg/schederr"
	"github.com/cuemby/corral/pkg/types"
)

// TaskBuilder turns an admitted queued execution into the finite,
// ordered task list a RunningJobExe carries. The scheduler never
// inspects or mutates what it returns.
type TaskBuilder interface {
	BuildTaskList(qe *types.QueuedJobExe) ([]types.Task, error)
}

// Scheduler drives the periodic scheduling loop.
type Scheduler struct {
	nodeReg    *nodes.Registry
	offerMgr   *offers.Manager
	cleanupMgr *cleanup.Manager
	runningMgr *running.Manager
	jobTypeMgr *jobtype.Manager
	store      persistence.Store
	drv        driver.Driver
	builder    TaskBuilder
	broker     *events.Broker
	cfg        config.Config

	logger zerolog.Logger

	paused atomic.Bool
	round  uint64

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// Deps bundles every collaborator the scheduling loop needs. All
// fields are required except broker, which may be nil.
type Deps struct {
	NodeRegistry   *nodes.Registry
	OfferManager   *offers.Manager
	CleanupManager *cleanup.Manager
	RunningManager *running.Manager
	JobTypeManager *jobtype.Manager
	Store          persistence.Store
	Driver         driver.Driver
	TaskBuilder    TaskBuilder
	Broker         *events.Broker
	Config         config.Config
}

// New creates a Scheduler. It does not start the loop; call Run.
func New(d Deps) *Scheduler {
	return &Scheduler{
		nodeReg:    d.NodeRegistry,
		offerMgr:   d.OfferManager,
		cleanupMgr: d.CleanupManager,
		runningMgr: d.RunningManager,
		jobTypeMgr: d.JobTypeManager,
		store:      d.Store,
		drv:        d.Driver,
		builder:    d.TaskBuilder,
		broker:     d.Broker,
		cfg:        d.Config,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// SetPaused toggles the global admission gate: queued admissions stop,
// but running executions still get their next task considered.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// Paused reports the current pause state.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Run executes rounds until ctx is canceled or Shutdown is called. The
// current round always finishes; in-flight driver calls are never
// canceled mid-call.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		sleep := s.runRound(ctx)
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Shutdown flips the run flag; the loop exits after its current round.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait blocks until Run has returned.
func (s *Scheduler) Wait() {
	<-s.doneCh
}

// runRound executes exactly one scheduling round and returns how long
// the loop should sleep afterward (zero means proceed immediately).
func (s *Scheduler) runRound(ctx context.Context) time.Duration {
	roundStart := time.Now()
	s.round++
	logger := log.WithRound(s.round)

	declined := s.offerMgr.UpdateNodes(s.nodeReg.GetNodes())
	s.declineOffers(ctx, declined)
	s.cleanupMgr.UpdateNodes(s.nodeReg.GetNodes())

	s.offerMgr.ReadyNewOffers()
	jobTypes := s.jobTypeMgr.Snapshot()

	for _, re := range s.runningMgr.GetAllJobExes() {
		s.offerMgr.ConsiderNextTask(re)
	}

	if !s.Paused() {
		s.admitQueuedWork(logger, jobTypes)
	}

	tasksLaunched := s.launchAcceptedWork(ctx, logger)

	for _, task := range s.cleanupMgr.GetNextTasks() {
		if s.launchCleanupTask(ctx, task) {
			tasksLaunched++
		}
	}

	var sleep time.Duration
	if tasksLaunched == 0 {
		s.declineOffers(ctx, offerIDsOf(s.offerMgr.PopAllOffers()))
		sleep = s.cfg.Delay
	}

	duration := time.Since(roundStart)
	metrics.RoundDuration.Observe(duration.Seconds())
	if duration > s.cfg.ScheduleLoopWarnThreshold {
		metrics.RoundWarnThresholdBreachesTotal.Inc()
		logger.Warn().Dur("duration", duration).Msg("scheduling round exceeded warn threshold")
	} else {
		logger.Debug().Dur("duration", duration).Int("tasks_launched", tasksLaunched).Msg("scheduling round completed")
	}

	s.publish(events.EventRoundCompleted, "", nil)

	return sleep
}

// admitQueuedWork implements round step 3: walk the persisted queue in
// priority order, skipping entries whose job type is unknown or
// paused, admitting up to MaxNewJobExes via the offer manager.
func (s *Scheduler) admitQueuedWork(logger zerolog.Logger, jobTypes map[string]types.JobType) {
	queue, err := s.store.GetQueue()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read persisted queue")
		return
	}

	admitted := 0
	for _, qe := range queue {
		if admitted >= s.cfg.MaxNewJobExes {
			break
		}

		jt, ok := jobTypes[qe.JobTypeID]
		if !ok || jt.IsPaused {
			continue
		}

		if s.offerMgr.ConsiderNewJobExe(qe) == offers.Accepted {
			admitted++
			metrics.AdmissionsTotal.WithLabelValues("new", "accepted").Inc()
			s.publish(events.EventJobExeAdmitted, qe.QueueID, map[string]string{"job_type_id": qe.JobTypeID})
		} else {
			metrics.AdmissionsTotal.WithLabelValues("new", "rejected").Inc()
			s.publish(events.EventJobExeRejected, qe.QueueID, map[string]string{"job_type_id": qe.JobTypeID})
		}
	}
}

// launchAcceptedWork implements round steps 4-5 for ordinary job
// executions: it starts the next task for every accepted running
// execution, persists newly admitted queued executions as running
// ones, and launches everything against the driver per node.
func (s *Scheduler) launchAcceptedWork(ctx context.Context, logger zerolog.Logger) int {
	groups := s.offerMgr.PopOffersWithAcceptedJobExes()
	tasksLaunched := 0

	var pairs []persistence.ScheduledPair
	groupTasks := make(map[string][]types.Task, len(groups))

	for _, group := range groups {
		var launchTasks []types.Task

		for _, re := range group.AcceptedRunning {
			task, ok := re.StartNextTask()
			if ok {
				launchTasks = append(launchTasks, task)
			}
		}

		for _, qe := range group.AcceptedNew {
			taskList, err := s.builder.BuildTaskList(qe)
			if err != nil {
				logger.Error().Err(err).Str("job_type_id", qe.JobTypeID).Msg("failed to build task list for queued execution")
				continue
			}

			exe := &types.RunningJobExe{
				ExeID:             uuid.New().String(),
				NodeID:            group.Node.NodeID,
				AgentIDAtSchedule: group.Node.AgentID,
				TaskList:          taskList,
				Status:            types.ExeStatusRunning,
			}
			pairs = append(pairs, persistence.ScheduledPair{Queued: qe, Running: exe})
		}

		groupTasks[group.Node.NodeID] = launchTasks
	}

	if len(pairs) > 0 {
		if s.commitScheduledPairs(ctx, logger, pairs) {
			for _, pair := range pairs {
				s.runningMgr.AddJobExes([]*types.RunningJobExe{pair.Running})
				s.publish(events.EventJobExeScheduled, pair.Running.ExeID, map[string]string{"node_id": pair.Running.NodeID})
				if task, ok := pair.Running.StartNextTask(); ok {
					groupTasks[pair.Running.NodeID] = append(groupTasks[pair.Running.NodeID], task)
				}
			}
		}
	}

	var launchErrs *multierror.Error
	for _, group := range groups {
		tasks := groupTasks[group.Node.NodeID]
		if len(tasks) == 0 {
			// The batch commit failed, or every accepted item fell
			// through. The group is already popped out of the offer
			// manager, so its offers must be declined here — the
			// end-of-round barren check can no longer see them.
			s.declineOffers(ctx, group.OfferIDs)
			continue
		}
		if err := s.drv.LaunchTasks(ctx, group.OfferIDs, tasks); err != nil {
			launchErrs = multierror.Append(launchErrs, schederr.NewDriverUnavailable(err))
			logger.Error().Err(err).Str("node_id", group.Node.NodeID).Msg("failed to launch tasks")
			continue
		}
		tasksLaunched += len(tasks)
		metrics.TasksLaunchedTotal.Add(float64(len(tasks)))
		for _, task := range tasks {
			s.publish(events.EventTaskLaunched, task.TaskID, map[string]string{"node_id": group.Node.NodeID})
		}
	}

	if launchErrs.ErrorOrNil() != nil {
		logger.Warn().Err(launchErrs).Msg("one or more node groups failed to launch")
	}

	return tasksLaunched
}

// commitScheduledPairs persists pairs through the database retry
// envelope. On persistent failure it logs and abandons this round's
// admissions; their offers were already popped, so the caller declines
// the offers of any node group left with no task to launch.
func (s *Scheduler) commitScheduledPairs(ctx context.Context, logger zerolog.Logger, pairs []persistence.ScheduledPair) bool {
	policy := retry.Policy{
		MaxTries:  s.cfg.RetryMaxTries,
		BaseDelay: s.cfg.RetryBaseDelay,
		MaxDelay:  s.cfg.RetryMaxDelay,
	}

	timer := metrics.NewTimer()
	err := retry.Do(ctx, policy, func(attempt int, err error) {
		metrics.ScheduleRetriesTotal.Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying schedule_job_executions")
	}, func() error {
		return s.store.ScheduleJobExecutions(pairs)
	})
	duration := timer.Duration()
	metrics.ScheduleQueryDuration.Observe(duration.Seconds())
	if duration > s.cfg.ScheduleQueryWarnThreshold {
		logger.Warn().Dur("duration", duration).Msg("schedule_job_executions exceeded warn threshold")
	}

	if err != nil {
		if schederr.IsTransientPersistence(err) {
			logger.Error().Err(err).Int("batch_size", len(pairs)).
				Msg("schedule_job_executions failed after retries; abandoning round's queued admissions")
		} else {
			logger.Error().Err(err).Msg("schedule_job_executions failed")
		}
		return false
	}

	return true
}

// launchCleanupTask launches a synthesized cleanup task against the
// driver using the node it targets. Unlike ordinary job tasks, cleanup
// tasks carry no offer — they run opportunistically on a node the
// driver already controls.
func (s *Scheduler) launchCleanupTask(ctx context.Context, task types.CleanupTask) bool {
	var containers, paths []string
	for _, entry := range task.Entries {
		if entry.ContainerName != "" {
			containers = append(containers, entry.ContainerName)
		}
		paths = append(paths, entry.WorkspacePaths...)
	}
	if len(containers) == 0 && len(paths) == 0 {
		// Nothing to reclaim; report the batch done so the node's
		// in-flight slot frees up.
		s.cleanupMgr.HandleTaskUpdate(task.AgentID, types.TaskStatusFinished)
		return false
	}

	cleanupTasks := []types.Task{{
		TaskID:  task.TaskID,
		AgentID: task.AgentID,
		Payload: types.TaskPayload{Command: driver.BuildCleanupCommand(containers, paths)},
	}}

	if err := s.drv.LaunchTasks(ctx, nil, cleanupTasks); err != nil {
		s.logger.Error().Err(err).Str("node_id", task.NodeID).Msg("failed to launch cleanup task")
		// Requeue the batch; the entries get another shot next round.
		s.cleanupMgr.HandleTaskUpdate(task.AgentID, types.TaskStatusFailed)
		return false
	}
	metrics.CleanupTasksDispatchedTotal.Inc()
	s.publish(events.EventCleanupQueued, task.TaskID, map[string]string{"node_id": task.NodeID})
	return true
}

func (s *Scheduler) declineOffers(ctx context.Context, offerIDs []string) {
	for _, id := range offerIDs {
		if err := s.drv.DeclineOffer(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("offer_id", id).Msg("failed to decline offer")
			continue
		}
		metrics.OffersDeclinedTotal.Inc()
		s.publish(events.EventOfferDeclined, id, nil)
	}
}

// publish is a no-op when no broker was wired (Deps.Broker may be nil).
func (s *Scheduler) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, Message: message, Metadata: metadata})
}

func offerIDsOf(groups []types.NodeOffers) []string {
	var ids []string
	for _, g := range groups {
		ids = append(ids, g.OfferIDs...)
	}
	return ids
}
