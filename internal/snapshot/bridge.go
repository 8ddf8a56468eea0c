package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"

	"collabdraw/internal/drawing"
)

// Snapshot is the durable form of a board's document.
type Snapshot struct {
	Elements     []drawing.Element
	HistoryIndex int
	Version      uint64
	Raster       []byte
	SavedAt      time.Time
}

type snapshotJson struct {
	Elements     json.RawMessage `json:"elements"`
	HistoryIndex int             `json:"historyIndex"`
	Version      uint64          `json:"version"`
	Raster       []byte          `json:"raster,omitempty"`
	SavedAt      time.Time       `json:"savedAt"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	elements, err := drawing.MarshalElements(s.Elements)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJson{
		Elements:     elements,
		HistoryIndex: s.HistoryIndex,
		Version:      s.Version,
		Raster:       s.Raster,
		SavedAt:      s.SavedAt,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJson
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var elements []drawing.Element
	if 0 < len(in.Elements) {
		var err error
		elements, err = drawing.UnmarshalElements(in.Elements)
		if err != nil {
			return err
		}
	}
	s.Elements = elements
	s.HistoryIndex = max(0, min(in.HistoryIndex, len(elements)))
	s.Version = in.Version
	s.Raster = in.Raster
	s.SavedAt = in.SavedAt
	return nil
}

// Store is the durable snapshot collaborator. GetSnapshot returns (nil, nil)
// when the board has never been saved.
type Store interface {
	GetSnapshot(ctx context.Context, boardID string) (*Snapshot, error)
	PutSnapshot(ctx context.Context, boardID string, snapshot *Snapshot) error
}

type BridgeSettings struct {
	// commits within this window are coalesced into one save
	DebounceWindow time.Duration
	Timeout        time.Duration
}

func DefaultBridgeSettings() *BridgeSettings {
	return &BridgeSettings{
		DebounceWindow: 500 * time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

// Bridge moves room documents to and from durable storage. It never mutates
// a room; rooms hand it copies.
type Bridge struct {
	store    Store
	settings *BridgeSettings
}

func NewBridgeWithDefaults(store Store) *Bridge {
	return NewBridge(store, DefaultBridgeSettings())
}

func NewBridge(store Store, settings *BridgeSettings) *Bridge {
	return &Bridge{
		store:    store,
		settings: settings,
	}
}

func (b *Bridge) DebounceWindow() time.Duration {
	return b.settings.DebounceWindow
}

// Load returns (nil, nil) when there is no snapshot.
func (b *Bridge) Load(ctx context.Context, boardID string) (*Snapshot, error) {
	if b.store == nil {
		return nil, nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, b.settings.Timeout)
	defer cancel()
	snap, err := b.store.GetSnapshot(loadCtx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", boardID, err)
	}
	if snap != nil {
		glog.V(1).Infof("[snapshot]loaded %s elements=%d index=%d\n", boardID, len(snap.Elements), snap.HistoryIndex)
	}
	return snap, nil
}

func (b *Bridge) Save(ctx context.Context, boardID string, snap *Snapshot) error {
	if b.store == nil {
		return nil
	}
	saveCtx, cancel := context.WithTimeout(ctx, b.settings.Timeout)
	defer cancel()
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	if err := b.store.PutSnapshot(saveCtx, boardID, snap); err != nil {
		return fmt.Errorf("save snapshot %s: %w", boardID, err)
	}
	glog.V(1).Infof("[snapshot]saved %s elements=%d index=%d\n", boardID, len(snap.Elements), snap.HistoryIndex)
	return nil
}
