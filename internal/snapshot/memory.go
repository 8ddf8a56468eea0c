package snapshot

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps snapshots in process. Used when no durable store is
// configured and in tests.
type MemoryStore struct {
	mutex     sync.Mutex
	snapshots map[string]*Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[string]*Snapshot{},
	}
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, boardID string) (*Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	snap, ok := s.snapshots[boardID]
	if !ok {
		return nil, nil
	}
	return copySnapshot(snap), nil
}

func (s *MemoryStore) PutSnapshot(ctx context.Context, boardID string, snap *Snapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.snapshots[boardID] = copySnapshot(snap)
	return nil
}

func copySnapshot(snap *Snapshot) *Snapshot {
	c := *snap
	c.Elements = slices.Clone(snap.Elements)
	c.Raster = slices.Clone(snap.Raster)
	return &c
}
