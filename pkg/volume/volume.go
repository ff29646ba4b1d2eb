// Package volume builds the single "volume" container-mount parameter a
// task payload carries. It is a pure formatting function: the scheduler
// never constructs or inspects these parameters itself (see
// types.TaskPayload.VolumeParams).
package volume

import (
	"fmt"
	"strings"
)

// Mode is a container mount's access mode.
type Mode string

const (
	ReadOnly  Mode = "ro"
	ReadWrite Mode = "rw"
)

// DriverOpt is one "--opt key=value" flag. Options are carried as an
// ordered slice rather than a map because the rendered parameter must
// list them in insertion order.
type DriverOpt struct {
	Key   string
	Value string
}

// Mount describes one volume mount declaration a task builder resolved.
type Mount struct {
	ContainerPath string
	Mode          Mode

	IsHost bool
	// HostPath is set when IsHost is true.
	HostPath string

	// Name, Driver, DriverOpts apply when IsHost is false. DriverOpts
	// order is significant and preserved verbatim in the rendered
	// parameter.
	Name       string
	Driver     string
	DriverOpts []DriverOpt
}

// ToDockerParam renders m into the container builder's parameter
// format:
//
//   - host mount:                 "{host_path}:{container_path}:{mode}"
//   - driver-less named volume:   "$(docker volume create --name {name}):{container_path}:{mode}"
//   - named volume with driver:   "$(docker volume create --name {name} --driver {driver} --opt {k}={v} ...):{container_path}:{mode}"
//
// Driver options are appended in the order given in m.DriverOpts.
func ToDockerParam(m Mount) string {
	if m.IsHost {
		return fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, m.Mode)
	}

	var b strings.Builder
	b.WriteString("$(docker volume create --name ")
	b.WriteString(m.Name)
	if m.Driver != "" {
		b.WriteString(" --driver ")
		b.WriteString(m.Driver)
		for _, opt := range m.DriverOpts {
			fmt.Fprintf(&b, " --opt %s=%s", opt.Key, opt.Value)
		}
	}
	b.WriteString(")")

	return fmt.Sprintf("%s:%s:%s", b.String(), m.ContainerPath, m.Mode)
}
