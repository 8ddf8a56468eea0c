package client

import (
	"slices"
	"sync"

	"collabdraw/internal/drawing"
	"collabdraw/internal/protocol"
	"collabdraw/internal/snapshot"
)

// Replica is a client's copy of a board, kept the way a drawing client keeps
// it: the element log, the history index, and the last room version seen.
type Replica struct {
	mutex        sync.Mutex
	doc          *drawing.Document
	historyIndex int
	version      uint64
	raster       []byte
}

func NewReplica() *Replica {
	return &Replica{
		doc: drawing.NewDocument(),
	}
}

// Seed loads a locally stored copy.
func (r *Replica) Seed(snap *snapshot.Snapshot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.doc.Replace(snap.Elements)
	r.historyIndex = max(0, min(snap.HistoryIndex, r.doc.Len()))
	r.version = snap.Version
	r.raster = slices.Clone(snap.Raster)
}

// Apply folds a room message into the replica and reports whether the board
// changed. A FullSync of an empty, never replaced room does not wipe a
// non-empty replica; pending reports that case so the caller can offer its
// copy to the room.
func (r *Replica) Apply(msg *protocol.Message) (changed bool, pending bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch msg.Type {
	case protocol.TypeFullSync:
		state := msg.Document
		if state == nil {
			return false, false
		}
		if state.Version == 0 && len(state.Elements) == 0 && 0 < r.doc.Len() {
			return false, true
		}
		r.doc.Replace(state.Elements)
		r.historyIndex = max(0, min(state.HistoryIndex, r.doc.Len()))
		r.version = state.Version
		if 0 < len(state.Raster) {
			r.raster = slices.Clone(state.Raster)
		}
		return true, false

	case protocol.TypeElementCommitted, protocol.TypeTextCommitted:
		if msg.Element == nil || msg.Element.Element == nil {
			return false, false
		}
		r.doc.Truncate(r.historyIndex)
		r.doc.Append(msg.Element.Element)
		r.historyIndex = r.doc.Len()
		return true, false

	case protocol.TypeHistoryMoved:
		if msg.HistoryIndex == nil {
			return false, false
		}
		r.historyIndex = max(0, min(*msg.HistoryIndex, r.doc.Len()))
		return true, false

	default:
		return false, false
	}
}

// Commit applies an element this client drew itself.
func (r *Replica) Commit(e drawing.Element) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.doc.Truncate(r.historyIndex)
	r.doc.Append(e)
	r.historyIndex = r.doc.Len()
}

func (r *Replica) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.doc.Len()
}

func (r *Replica) HistoryIndex() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.historyIndex
}

// Visible is what a client renders: the elements before the history index.
func (r *Replica) Visible() []drawing.Element {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.doc.Visible(r.historyIndex)
}

func (r *Replica) CanvasState() *protocol.CanvasState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return &protocol.CanvasState{
		Elements:     r.doc.Elements(),
		HistoryIndex: r.historyIndex,
		Version:      r.version,
		Raster:       slices.Clone(r.raster),
	}
}

func (r *Replica) Snapshot() *snapshot.Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return &snapshot.Snapshot{
		Elements:     r.doc.Elements(),
		HistoryIndex: r.historyIndex,
		Version:      r.version,
		Raster:       slices.Clone(r.raster),
	}
}
