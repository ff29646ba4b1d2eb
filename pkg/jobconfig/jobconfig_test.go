package jobconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/volume"
)

func TestBuildTaskListOrdersPrePostAroundMain(t *testing.T) {
	catalog := NewMapCatalog()
	catalog.Register("ingest-v1", Configuration{
		Image:       "corral/ingest:latest",
		PreCommand:  []string{"mkdir", "-p", "/workspace"},
		MainCommand: []string{"ingest", "run"},
		PostCommand: []string{"rm", "-rf", "/workspace/tmp"},
		Mounts: []volume.Mount{
			{ContainerPath: "/data", Mode: volume.ReadOnly, IsHost: true, HostPath: "/mnt/data"},
		},
		MainResources: types.Resources{CPUs: 2, MemMB: 1024, DiskMB: 2048},
	})

	builder := NewBuilder(catalog)
	tasks, err := builder.BuildTaskList(&types.QueuedJobExe{ConfigurationRef: "ingest-v1"})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, []string{"mkdir", "-p", "/workspace"}, tasks[0].Payload.Command)
	assert.Equal(t, types.Resources{}, tasks[0].Resources)

	assert.Equal(t, []string{"ingest", "run"}, tasks[1].Payload.Command)
	assert.Equal(t, types.Resources{CPUs: 2, MemMB: 1024, DiskMB: 2048}, tasks[1].Resources)
	assert.Equal(t, []string{"/mnt/data:/data:ro"}, tasks[1].Payload.VolumeParams)

	assert.Equal(t, []string{"rm", "-rf", "/workspace/tmp"}, tasks[2].Payload.Command)
}

func TestBuildTaskListOmitsAbsentPrePost(t *testing.T) {
	catalog := NewMapCatalog()
	catalog.Register("bare", Configuration{
		Image:       "corral/bare:latest",
		MainCommand: []string{"run"},
	})

	builder := NewBuilder(catalog)
	tasks, err := builder.BuildTaskList(&types.QueuedJobExe{ConfigurationRef: "bare"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"run"}, tasks[0].Payload.Command)
}

func TestBuildTaskListUnknownRef(t *testing.T) {
	builder := NewBuilder(NewMapCatalog())
	_, err := builder.BuildTaskList(&types.QueuedJobExe{ConfigurationRef: "missing"})
	require.Error(t, err)
	var unknown *UnknownConfigurationError
	require.ErrorAs(t, err, &unknown)
}
