package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/scm-reconciler/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketContainers      = []byte("containers")
	bucketReplicas        = []byte("replicas")
	bucketPendingOps      = []byte("pending_ops")
	bucketDatanodes       = []byte("datanodes")
	bucketClassifications = []byte("classifications")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store rooted at dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "scm-reconciler.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketContainers,
			bucketReplicas,
			bucketPendingOps,
			bucketDatanodes,
			bucketClassifications,
		}
		for _, bucket := range buckets {
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

func containerKey(id types.ContainerID) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}

// Containers

func (s *BoltStore) PutContainer(container types.Container) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data, err := json.Marshal(container)
		if err != nil {
			return err
		}
		return b.Put(containerKey(container.ID), data)
	})
}

func (s *BoltStore) GetContainer(id types.ContainerID) (types.Container, error) {
	var container types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data := b.Get(containerKey(id))
		if data == nil {
			return fmt.Errorf("container not found: %d", id)
		}
		return json.Unmarshal(data, &container)
	})
	return container, err
}

func (s *BoltStore) ListContainers() ([]types.Container, error) {
	var containers []types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.ForEach(func(k, v []byte) error {
			var container types.Container
			if err := json.Unmarshal(v, &container); err != nil {
				return err
			}
			containers = append(containers, container)
			return nil
		})
	})
	return containers, err
}

func (s *BoltStore) DeleteContainer(id types.ContainerID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete(containerKey(id))
	})
}

// Replicas. Replicas for a container are stored under a single key as a
// JSON array, keyed by container id — PutReplica and DeleteReplica read
// the whole per-container array, change one entry, and write it back.

func (s *BoltStore) replicaKey(container types.ContainerID) []byte {
	return containerKey(container)
}

func (s *BoltStore) PutReplica(replica types.ContainerReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReplicas)
		existing, err := s.readReplicasLocked(b, replica.ContainerID)
		if err != nil {
			return err
		}
		replaced := false
		for i, r := range existing {
			if r.DatanodeID == replica.DatanodeID {
				existing[i] = replica
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, replica)
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		return b.Put(s.replicaKey(replica.ContainerID), data)
	})
}

func (s *BoltStore) readReplicasLocked(b *bolt.Bucket, container types.ContainerID) ([]types.ContainerReplica, error) {
	data := b.Get(s.replicaKey(container))
	if data == nil {
		return nil, nil
	}
	var replicas []types.ContainerReplica
	if err := json.Unmarshal(data, &replicas); err != nil {
		return nil, err
	}
	return replicas, nil
}

func (s *BoltStore) ListReplicas(container types.ContainerID) ([]types.ContainerReplica, error) {
	var replicas []types.ContainerReplica
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		replicas, err = s.readReplicasLocked(tx.Bucket(bucketReplicas), container)
		return err
	})
	return replicas, err
}

func (s *BoltStore) DeleteReplica(container types.ContainerID, datanode types.DatanodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReplicas)
		existing, err := s.readReplicasLocked(b, container)
		if err != nil {
			return err
		}
		filtered := existing[:0]
		for _, r := range existing {
			if r.DatanodeID != datanode {
				filtered = append(filtered, r)
			}
		}
		data, err := json.Marshal(filtered)
		if err != nil {
			return err
		}
		return b.Put(s.replicaKey(container), data)
	})
}

// Pending operations. Key format is "<container-id>/<op-id>" so a single
// container's pending ops can be range-scanned by prefix.

func pendingOpKey(container types.ContainerID, opID string) []byte {
	return []byte(fmt.Sprintf("%d/%s", container, opID))
}

func (s *BoltStore) PutPendingOp(container types.ContainerID, op types.PendingOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingOps)
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(pendingOpKey(container, op.ID), data)
	})
}

func (s *BoltStore) ListPendingOps(container types.ContainerID) ([]types.PendingOp, error) {
	var ops []types.PendingOp
	prefix := []byte(fmt.Sprintf("%d/", container))
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPendingOps).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var op types.PendingOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

func (s *BoltStore) ListAllPendingOps() ([]types.PendingOp, error) {
	var ops []types.PendingOp
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingOps).ForEach(func(k, v []byte) error {
			var op types.PendingOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
			return nil
		})
	})
	return ops, err
}

func (s *BoltStore) DeletePendingOp(container types.ContainerID, opID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingOps).Delete(pendingOpKey(container, opID))
	})
}

// Datanode records

func (s *BoltStore) PutDatanode(id types.DatanodeID, operational types.OperationalState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatanodes).Put([]byte(id), []byte(operational))
	})
}

func (s *BoltStore) ListDatanodes() ([]DatanodeRecord, error) {
	var records []DatanodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatanodes).ForEach(func(k, v []byte) error {
			records = append(records, DatanodeRecord{
				ID:          types.DatanodeID(k),
				Operational: types.OperationalState(v),
			})
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteDatanode(id types.DatanodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatanodes).Delete([]byte(id))
	})
}

// Classification results

func (s *BoltStore) PutClassification(result types.ClassificationResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketClassifications).Put(containerKey(result.Container.ID), data)
	})
}

func (s *BoltStore) ListClassifications() ([]types.ClassificationResult, error) {
	var results []types.ClassificationResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClassifications).ForEach(func(k, v []byte) error {
			var result types.ClassificationResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			results = append(results, result)
			return nil
		})
	})
	return results, err
}
