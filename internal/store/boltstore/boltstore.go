package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"

	"collabdraw/internal/snapshot"
)

var snapshotsBucket = []byte("snapshots")

// Store keeps board snapshots in a local bolt file, one key per board.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bolt dir: %w", err)
	}
	// a second process holding the file fails fast instead of blocking
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("[bolt]opened %s\n", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(snapshotsBucket) == nil {
			return fmt.Errorf("bolt: missing bucket %s", snapshotsBucket)
		}
		return nil
	})
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotsBucket).Get([]byte(boardID))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction, decode here
		snap = &snapshot.Snapshot{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", boardID, err)
	}
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, boardID string, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(boardID), data)
	})
}

// Boards lists every board with a stored snapshot.
func (s *Store) Boards() ([]string, error) {
	boardIDs := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(k, v []byte) error {
			boardIDs = append(boardIDs, string(k))
			return nil
		})
	})
	return boardIDs, err
}
