// Package leader gates which scheduler process runs the scheduling
// loop when more than one replica is deployed for availability. It
// never replicates application state through raft — scheduling
// decisions live in the persistence store; raft only elects the single
// leader that is allowed to own pkg/scheduler's loop.
package leader

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Elector wraps a raft.Raft instance used purely for leader election.
type Elector struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *noopFSM
}

// Config configures a new Elector.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// New creates an Elector, but does not start participating in an
// election until Bootstrap or Join is called.
func New(cfg Config) (*Elector, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create leader election data dir: %w", err)
	}

	return &Elector{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      &noopFSM{},
	}, nil
}

// raftConfig tunes timeouts for LAN/edge deployments rather than
// raft's WAN-conservative defaults: target failover well under 10s.
func (e *Elector) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (e *Elector) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := e.raftConfig()

	addr, err := net.ResolveTCPAddr("tcp", e.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(e.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-node raft cluster with this node
// as the only voter.
func (e *Elector) Bootstrap() error {
	r, transport, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(e.nodeID), Address: transport.LocalAddr()},
		},
	}

	future := r.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap election cluster: %w", err)
	}

	logger := log.WithComponent("leader")
	logger.Info().Str("node_id", e.nodeID).Msg("bootstrapped leader election cluster")
	return nil
}

// Join starts raft so an existing leader can add this node as a voter.
// There is no join-token or certificate workflow; scheduler replicas
// are assumed to share a trusted network.
func (e *Elector) Join() error {
	r, _, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r
	return nil
}

// AddVoter adds nodeID/address as a voter. Only the current leader can
// do this.
func (e *Elector) AddVoter(nodeID, address string) error {
	if e.raft == nil {
		return fmt.Errorf("election raft not initialized")
	}
	if !e.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", e.LeaderAddr())
	}

	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this process currently holds leadership.
func (e *Elector) IsLeader() bool {
	if e.raft == nil {
		return false
	}
	return e.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, or "" if
// unknown.
func (e *Elector) LeaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// Stats reports a small snapshot of raft health for metrics/diagnostics.
type Stats struct {
	State         string
	LastLogIndex  uint64
	AppliedIndex  uint64
	Leader        string
	VoterCount    uint64
}

// Stats returns the elector's current raft statistics.
func (e *Elector) Stats() Stats {
	if e.raft == nil {
		return Stats{}
	}

	stats := Stats{
		State:        e.raft.State().String(),
		LastLogIndex: e.raft.LastIndex(),
		AppliedIndex: e.raft.AppliedIndex(),
		Leader:       string(e.raft.Leader()),
	}

	if cf := e.raft.GetConfiguration(); cf.Error() == nil {
		stats.VoterCount = uint64(len(cf.Configuration().Servers))
	}

	return stats
}

// Shutdown stops raft participation.
func (e *Elector) Shutdown() error {
	if e.raft == nil {
		return nil
	}
	return e.raft.Shutdown().Error()
}
