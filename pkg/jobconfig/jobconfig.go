// Package jobconfig resolves a queued execution's opaque configuration
// reference into a concrete, ordered task list. Configurations cross
// into the scheduler as validated, typed records; the parser/validator
// that produces them lives with the catalog CRUD layer, not here.
package jobconfig

import (
	"fmt"

	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/volume"
	"github.com/google/uuid"
)

// Configuration is the resolved, typed record a catalog entry decodes
// into: an image plus the three task positions (pre-task, main-task,
// post-task). Either pre or post may be empty; main is required.
type Configuration struct {
	Image string

	PreCommand  []string
	MainCommand []string
	PostCommand []string

	Env    map[string]string
	Mounts []volume.Mount

	// MainResources is charged against the offer for the main task.
	// Pre/post tasks run on the same already-reserved node and carry no
	// additional resource footprint of their own.
	MainResources types.Resources
}

// Catalog resolves a configuration reference to its typed
// Configuration. The default implementation is an in-memory map; a
// durable implementation would back this with the catalog layer's
// process/configuration CRUD.
type Catalog interface {
	Resolve(ref string) (Configuration, error)
}

// UnknownConfigurationError reports a configuration_ref with no catalog
// entry.
type UnknownConfigurationError struct {
	Ref string
}

func (e *UnknownConfigurationError) Error() string {
	return fmt.Sprintf("unknown configuration ref %q", e.Ref)
}

// MapCatalog is a Catalog backed by an in-memory map, suitable for the
// single-process deployment mode and for tests.
type MapCatalog struct {
	entries map[string]Configuration
}

// NewMapCatalog creates an empty MapCatalog.
func NewMapCatalog() *MapCatalog {
	return &MapCatalog{entries: make(map[string]Configuration)}
}

// Register adds or replaces the configuration for ref.
func (c *MapCatalog) Register(ref string, cfg Configuration) {
	c.entries[ref] = cfg
}

// Resolve implements Catalog.
func (c *MapCatalog) Resolve(ref string) (Configuration, error) {
	cfg, ok := c.entries[ref]
	if !ok {
		return Configuration{}, &UnknownConfigurationError{Ref: ref}
	}
	return cfg, nil
}

var _ Catalog = (*MapCatalog)(nil)

// Builder implements scheduler.TaskBuilder: it renders a queued
// execution's configuration into the finite, ordered task list
// RunningJobExe carries from schedule time onward.
type Builder struct {
	catalog Catalog
}

// NewBuilder creates a Builder backed by catalog.
func NewBuilder(catalog Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// BuildTaskList resolves qe.ConfigurationRef and renders it into the
// pre-task/main-task/post-task sequence, in that order. Only the main
// task carries qe.RequiredResources; pre/post run as housekeeping on the
// node the main task already reserved.
func (b *Builder) BuildTaskList(qe *types.QueuedJobExe) ([]types.Task, error) {
	cfg, err := b.catalog.Resolve(qe.ConfigurationRef)
	if err != nil {
		return nil, err
	}

	volumeParams := make([]string, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		volumeParams = append(volumeParams, volume.ToDockerParam(m))
	}

	payload := func(cmd []string) types.TaskPayload {
		return types.TaskPayload{
			Image:        cfg.Image,
			Command:      cmd,
			Env:          cfg.Env,
			VolumeParams: volumeParams,
		}
	}

	var tasks []types.Task
	if len(cfg.PreCommand) > 0 {
		tasks = append(tasks, types.Task{
			TaskID:  uuid.New().String(),
			Payload: payload(cfg.PreCommand),
		})
	}

	tasks = append(tasks, types.Task{
		TaskID:    uuid.New().String(),
		Resources: cfg.MainResources,
		Payload:   payload(cfg.MainCommand),
	})

	if len(cfg.PostCommand) > 0 {
		tasks = append(tasks, types.Task{
			TaskID:  uuid.New().String(),
			Payload: payload(cfg.PostCommand),
		})
	}

	return tasks, nil
}
