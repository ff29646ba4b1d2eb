// Package runtime wraps containerd's client API to execute the tasks the
// scheduling loop launches and to remove the containers the cleanup
// manager reclaims. It is the worker-side half of the resource broker
// driver for the single-process deployment mode (see pkg/driver and
// cmd/corrald): no separate worker process, no RPC — the scheduling
// loop calls directly into a ContainerdDriver that satisfies
// driver.Driver.
package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/corral/pkg/driver"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace tasks run under.
	DefaultNamespace = "corral"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime wraps a containerd client scoped to one namespace.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client. An empty
// socketPath uses DefaultSocketPath.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{client: client, namespace: DefaultNamespace}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a container image from a registry.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// CreateAndStartTask creates a container for task's payload and starts
// it. The containerd container id is task.TaskID, so launch stays
// idempotent by task id.
func (r *ContainerdRuntime) CreateAndStartTask(ctx context.Context, task types.Task) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, task.Payload.Image)
	if err != nil {
		return fmt.Errorf("failed to get image %s: %w", task.Payload.Image, err)
	}

	env := make([]string, 0, len(task.Payload.Env))
	for k, v := range task.Payload.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(task.Payload.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(task.Payload.Command...))
	}
	if task.Resources.CPUs > 0 {
		shares := uint64(task.Resources.CPUs * 1024)
		quota := int64(task.Resources.CPUs * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if task.Resources.MemMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(task.Resources.MemMB)*1024*1024))
	}

	container, err := r.client.NewContainer(
		ctx,
		task.TaskID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(task.TaskID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container for task %s: %w", task.TaskID, err)
	}

	t, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create containerd task %s: %w", task.TaskID, err)
	}
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("failed to start containerd task %s: %w", task.TaskID, err)
	}
	return nil
}

// StopAndRemove stops (if running) and deletes the container named
// containerName along with its snapshot. Used by the cleanup manager's
// dispatch to reclaim a finished execution's container.
func (r *ContainerdRuntime) StopAndRemove(ctx context.Context, containerName string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerName)
	if err != nil {
		// Already gone; cleanup is idempotent.
		return nil
	}

	if t, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := t.Kill(stopCtx, syscall.SIGTERM); err == nil {
			statusC, waitErr := t.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = t.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		_, _ = t.Delete(ctx)
		cancel()
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", containerName, err)
	}
	return nil
}

// GetTaskStatus maps containerd's task status to a TaskStatus.
func (r *ContainerdRuntime) GetTaskStatus(ctx context.Context, taskID string) (types.TaskStatus, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, taskID)
	if err != nil {
		return types.TaskStatusLost, fmt.Errorf("failed to load container %s: %w", taskID, err)
	}

	t, err := container.Task(ctx, nil)
	if err != nil {
		return types.TaskStatusStaging, nil
	}

	status, err := t.Status(ctx)
	if err != nil {
		return types.TaskStatusFailed, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running:
		return types.TaskStatusRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.TaskStatusFinished, nil
		}
		return types.TaskStatusFailed, nil
	default:
		return types.TaskStatusStaging, nil
	}
}

// ContainerdDriver adapts a ContainerdRuntime to driver.Driver, making it
// the default single-process resource broker driver: LaunchTasks creates
// and starts one container per task; DeclineOffer is a no-op since
// declining never created anything. Launched task ids are watched and
// their terminal statuses published on the status feed, standing in for
// the callback threads a remote broker would run.
type ContainerdDriver struct {
	runtime *ContainerdRuntime
	logger  zerolog.Logger

	statusCh chan driver.StatusUpdate
	mu       sync.Mutex
	watched  map[string]string // task_id -> agent_id
}

// NewContainerdDriver wraps rt as a driver.Driver.
func NewContainerdDriver(rt *ContainerdRuntime) *ContainerdDriver {
	return &ContainerdDriver{
		runtime:  rt,
		logger:   log.WithComponent("containerd-driver"),
		statusCh: make(chan driver.StatusUpdate, 64),
		watched:  make(map[string]string),
	}
}

// Feeds exposes the driver's inbound feed channels. Only the status
// feed is live: offers and node registration are the composition
// root's concern in the single-process mode.
func (d *ContainerdDriver) Feeds() driver.Feeds {
	return driver.Feeds{StatusUpdates: d.statusCh}
}

// PollStatuses checks every watched task each interval and publishes a
// status update when one reaches a terminal state. Blocks until ctx is
// canceled.
func (d *ContainerdDriver) PollStatuses(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *ContainerdDriver) pollOnce(ctx context.Context) {
	d.mu.Lock()
	snapshot := make(map[string]string, len(d.watched))
	for taskID, agentID := range d.watched {
		snapshot[taskID] = agentID
	}
	d.mu.Unlock()

	for taskID, agentID := range snapshot {
		status, err := d.runtime.GetTaskStatus(ctx, taskID)
		if err != nil {
			status = types.TaskStatusLost
		}
		switch status {
		case types.TaskStatusFinished, types.TaskStatusFailed, types.TaskStatusLost, types.TaskStatusKilled:
			d.mu.Lock()
			delete(d.watched, taskID)
			d.mu.Unlock()
			d.publishStatus(driver.StatusUpdate{AgentID: agentID, TaskID: taskID, Status: status})
		}
	}
}

func (d *ContainerdDriver) publishStatus(update driver.StatusUpdate) {
	select {
	case d.statusCh <- update:
	default:
		d.logger.Warn().Str("task_id", update.TaskID).Msg("status feed full, dropping update")
	}
}

var _ driver.Driver = (*ContainerdDriver)(nil)

// Close releases the underlying containerd client connection.
func (d *ContainerdDriver) Close() error {
	return d.runtime.Close()
}

// LaunchTasks implements driver.Driver. Synthesized cleanup tasks are
// executed in place — containers removed, workspace paths deleted —
// rather than launched as containers of their own.
func (d *ContainerdDriver) LaunchTasks(ctx context.Context, offerIDs []string, tasks []types.Task) error {
	for _, task := range tasks {
		if containers, paths, ok := driver.ParseCleanupCommand(task.Payload.Command); ok {
			if err := d.runCleanup(ctx, task.TaskID, containers, paths); err != nil {
				return err
			}
			d.publishStatus(driver.StatusUpdate{AgentID: task.AgentID, TaskID: task.TaskID, Status: types.TaskStatusFinished})
			continue
		}

		if err := d.runtime.PullImage(ctx, task.Payload.Image); err != nil {
			return err
		}
		if err := d.runtime.CreateAndStartTask(ctx, task); err != nil {
			return err
		}
		d.mu.Lock()
		d.watched[task.TaskID] = task.AgentID
		d.mu.Unlock()
		d.logger.Info().Str("task_id", task.TaskID).Msg("launched task container")
	}
	return nil
}

// runCleanup reclaims what a finished execution left behind: its
// containers and their snapshots through containerd, and its workspace
// directories on the local filesystem.
func (d *ContainerdDriver) runCleanup(ctx context.Context, taskID string, containers, paths []string) error {
	for _, name := range containers {
		if err := d.runtime.StopAndRemove(ctx, name); err != nil {
			return fmt.Errorf("cleanup task %s: %w", taskID, err)
		}
	}
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("cleanup task %s: failed to remove %s: %w", taskID, path, err)
		}
	}
	d.logger.Info().Str("task_id", taskID).Int("containers", len(containers)).Int("paths", len(paths)).
		Msg("cleanup task executed")
	return nil
}

// DeclineOffer implements driver.Driver.
func (d *ContainerdDriver) DeclineOffer(_ context.Context, offerID string) error {
	d.logger.Debug().Str("offer_id", offerID).Msg("declining offer")
	return nil
}
