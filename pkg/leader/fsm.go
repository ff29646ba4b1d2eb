package leader

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM satisfies raft.FSM without replicating any application
// state: this package's raft group exists only to decide who leads,
// never to agree on scheduler data.
type noopFSM struct{}

func (f *noopFSM) Apply(_ *raft.Log) interface{} { return nil }

func (f *noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}

func (f *noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}
