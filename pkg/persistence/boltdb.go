package persistence

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/corral/pkg/ingest"
	"github.com/cuemby/corral/pkg/schederr"
	"github.com/cuemby/corral/pkg/types"
)

var (
	bucketQueue      = []byte("queue")
	bucketRunningExe = []byte("running_job_exes")
	bucketNodes      = []byte("nodes")
	bucketJobTypes   = []byte("job_types")
	bucketIngests    = []byte("ingests")
)

// BoltStore is the default Store implementation: one bucket per entity,
// JSON-encoded records.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB database under
// dataDir and ensures every bucket this package needs exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "corral.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketQueue, bucketRunningExe, bucketNodes, bucketJobTypes, bucketIngests} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetQueue implements Store. Results are ordered by descending Priority,
// then by ascending QueueID (insertion order for equal priority, since
// QueueIDs are assigned monotonically by the catalog layer), matching
// the "priority order" contract in persistence.Store.
func (s *BoltStore) GetQueue() ([]*types.QueuedJobExe, error) {
	var out []*types.QueuedJobExe
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		return b.ForEach(func(k, v []byte) error {
			var qje types.QueuedJobExe
			if err := json.Unmarshal(v, &qje); err != nil {
				return err
			}
			out = append(out, &qje)
			return nil
		})
	})
	if err != nil {
		return nil, schederr.NewTransientPersistence(fmt.Errorf("failed to read queue: %w", err))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].QueueID < out[j].QueueID
	})
	return out, nil
}

// QueueJobExecution implements Store.
func (s *BoltStore) QueueJobExecution(qe *types.QueuedJobExe) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(qe)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQueue).Put([]byte(qe.QueueID), data)
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to queue job execution %s: %w", qe.QueueID, err))
	}
	return nil
}

// ScheduleJobExecutions implements Store: it removes each pair's
// queued execution from the queue bucket and writes its running
// execution, all within one transaction so a crash never loses or
// duplicates work.
func (s *BoltStore) ScheduleJobExecutions(pairs []ScheduledPair) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		queueBucket := tx.Bucket(bucketQueue)
		runningBucket := tx.Bucket(bucketRunningExe)

		for _, pair := range pairs {
			if err := queueBucket.Delete([]byte(pair.Queued.QueueID)); err != nil {
				return err
			}

			data, err := json.Marshal(pair.Running)
			if err != nil {
				return err
			}
			if err := runningBucket.Put([]byte(pair.Running.ExeID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to schedule job executions: %w", err))
	}

	return nil
}

// SaveRunningJobExe implements Store.
func (s *BoltStore) SaveRunningJobExe(exe *types.RunningJobExe) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(exe)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRunningExe).Put([]byte(exe.ExeID), data)
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to save running job exe %s: %w", exe.ExeID, err))
	}
	return nil
}

// DeleteRunningJobExe implements Store.
func (s *BoltStore) DeleteRunningJobExe(exeID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRunningExe).Delete([]byte(exeID))
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to delete running job exe %s: %w", exeID, err))
	}
	return nil
}

// GetRunningJobExes implements Store.
func (s *BoltStore) GetRunningJobExes() ([]*types.RunningJobExe, error) {
	var out []*types.RunningJobExe
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRunningExe).ForEach(func(k, v []byte) error {
			var exe types.RunningJobExe
			if err := json.Unmarshal(v, &exe); err != nil {
				return err
			}
			out = append(out, &exe)
			return nil
		})
	})
	if err != nil {
		return nil, schederr.NewTransientPersistence(fmt.Errorf("failed to read running job exes: %w", err))
	}
	return out, nil
}

// SaveNode implements Store.
func (s *BoltStore) SaveNode(n types.Node) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(n.NodeID), data)
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to save node %s: %w", n.NodeID, err))
	}
	return nil
}

// ListNodes implements Store.
func (s *BoltStore) ListNodes() ([]types.Node, error) {
	var out []types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, n)
			return nil
		})
	})
	if err != nil {
		return nil, schederr.NewTransientPersistence(fmt.Errorf("failed to read nodes: %w", err))
	}
	return out, nil
}

// SaveJobType implements Store.
func (s *BoltStore) SaveJobType(jt types.JobType) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(jt)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobTypes).Put([]byte(jt.JobTypeID), data)
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to save job type %s: %w", jt.JobTypeID, err))
	}
	return nil
}

// ListJobTypes implements Store.
func (s *BoltStore) ListJobTypes() ([]types.JobType, error) {
	var out []types.JobType
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobTypes).ForEach(func(k, v []byte) error {
			var jt types.JobType
			if err := json.Unmarshal(v, &jt); err != nil {
				return err
			}
			out = append(out, jt)
			return nil
		})
	})
	if err != nil {
		return nil, schederr.NewTransientPersistence(fmt.Errorf("failed to read job types: %w", err))
	}
	return out, nil
}

func ingestKey(ing *ingest.Ingest) []byte {
	return []byte(fmt.Sprintf("%s/%s", ing.ScanID, ing.FileName))
}

// SaveIngest implements Store.
func (s *BoltStore) SaveIngest(ing *ingest.Ingest) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ing)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIngests).Put(ingestKey(ing), data)
	})
	if err != nil {
		return schederr.NewTransientPersistence(fmt.Errorf("failed to save ingest %s: %w", ing.FileName, err))
	}
	return nil
}

// GetIngestsByScan implements Store.
func (s *BoltStore) GetIngestsByScan(scanID string) ([]*ingest.Ingest, error) {
	var out []*ingest.Ingest
	prefix := []byte(scanID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIngests).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ing ingest.Ingest
			if err := json.Unmarshal(v, &ing); err != nil {
				return err
			}
			out = append(out, &ing)
		}
		return nil
	})
	if err != nil {
		return nil, schederr.NewTransientPersistence(fmt.Errorf("failed to read ingests for scan %s: %w", scanID, err))
	}
	return out, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

var _ Store = (*BoltStore)(nil)
