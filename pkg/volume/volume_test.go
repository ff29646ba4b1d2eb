package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDockerParam(t *testing.T) {
	tests := []struct {
		name string
		m    Mount
		want string
	}{
		{
			name: "host mount read-write",
			m:    Mount{IsHost: true, HostPath: "/data/foo", ContainerPath: "/workdir", Mode: ReadWrite},
			want: "/data/foo:/workdir:rw",
		},
		{
			name: "host mount read-only",
			m:    Mount{IsHost: true, HostPath: "/data/foo", ContainerPath: "/workdir", Mode: ReadOnly},
			want: "/data/foo:/workdir:ro",
		},
		{
			name: "driver-less named volume",
			m:    Mount{IsHost: false, Name: "my-vol", ContainerPath: "/data", Mode: ReadWrite},
			want: "$(docker volume create --name my-vol):/data:rw",
		},
		{
			name: "named volume with driver and options preserves insertion order",
			m: Mount{
				IsHost: false,
				Name:   "my-vol",
				Driver: "nfs",
				DriverOpts: []DriverOpt{
					{Key: "path", Value: "/export"},
					{Key: "addr", Value: "10.0.0.1"},
				},
				ContainerPath: "/data",
				Mode:          ReadOnly,
			},
			want: "$(docker volume create --name my-vol --driver nfs --opt path=/export --opt addr=10.0.0.1):/data:ro",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToDockerParam(tc.m))
		})
	}
}
