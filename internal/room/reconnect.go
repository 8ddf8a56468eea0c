package room

import (
	"time"

	"github.com/golang/glog"

	"collabdraw/internal/drawing"
	"collabdraw/internal/protocol"
	"collabdraw/internal/snapshot"
)

// Bootstrap has two independent sources: the durable snapshot and the
// members' own copies. Whichever lands first wins. The room version moves on
// every wholesale replacement, so a load that started before a replacement
// can tell it is stale.

type canvasRequest struct {
	pending bool
	seq     uint64
	timer   *time.Timer
}

func (r *Room) load(previous <-chan struct{}) {
	if previous != nil {
		// the last room for this board may still be writing its final save
		select {
		case <-previous:
		case <-r.ctx.Done():
			r.post(&loadedEvent{err: r.ctx.Err()})
			return
		}
	}
	snap, err := r.bridge.Load(r.ctx, r.boardID)
	r.post(&loadedEvent{snap: snap, err: err})
}

func (r *Room) handleLoaded(snap *snapshot.Snapshot, err error) {
	r.loading = false
	if err != nil && r.ctx.Err() != nil {
		glog.Infof("[room]%s load abandoned = %s\n", r.boardID, err)
		r.loadAborted = true
		r.syncAwaiting()
		return
	}
	if err != nil {
		glog.Infof("[room]%s snapshot unavailable = %s\n", r.boardID, err)
		snap = nil
	}

	switch {
	case snap != nil && r.version == 0:
		r.applyLoaded(snap)
		r.broadcast(r.fullSyncMessage(), "")
		clear(r.awaiting)
	case snap != nil:
		glog.V(1).Infof("[room]%s ignore snapshot, state already replaced (version=%d)\n", r.boardID, r.version)
		r.syncAwaiting()
	default:
		r.syncAwaiting()
		if !r.populated {
			r.requestCanvasState(r.firstJoin)
		}
	}

	if r.persist.dirty {
		// saves held back while loading
		r.flush()
	}
}

// applyLoaded puts the loaded snapshot under whatever was committed while
// the load was running.
// awaitingLoad reports that the durable snapshot has neither arrived nor
// been replaced by a member's state.
func (r *Room) awaitingLoad() bool {
	return r.loading && r.version == 0
}

// unloaded reports that writing the document now would overwrite a durable
// snapshot the room never saw.
func (r *Room) unloaded() bool {
	return (r.loading || r.loadAborted) && r.version == 0
}

func (r *Room) applyLoaded(snap *snapshot.Snapshot) {
	loadedIndex := max(0, min(snap.HistoryIndex, len(snap.Elements)))
	elements := snap.Elements
	historyIndex := loadedIndex
	if 0 < r.doc.Len() {
		elements = append(append([]drawing.Element{}, snap.Elements[:loadedIndex]...), r.doc.Elements()...)
		historyIndex = loadedIndex + r.historyIndex
	}
	r.doc.Replace(elements)
	r.historyIndex = historyIndex
	if len(r.raster) == 0 {
		r.raster = snap.Raster
	}
	r.version = max(r.version, snap.Version) + 1
	r.populated = true
}

func (r *Room) syncAwaiting() {
	for _, m := range r.sortedMembers() {
		if r.awaiting[m.peer.ID()] {
			r.sendFullSync(m.peer)
		}
	}
	clear(r.awaiting)
}

// requestCanvasState asks every member other than the requester for its
// copy of the board.
func (r *Room) requestCanvasState(requester string) {
	if r.canvas.pending {
		return
	}
	others := 0
	for id := range r.members {
		if id != requester {
			others += 1
		}
	}
	if others == 0 {
		return
	}

	r.canvas.pending = true
	r.canvas.seq += 1
	seq := r.canvas.seq
	r.canvas.timer = time.AfterFunc(r.settings.PeerSyncTimeout, func() {
		r.post(&canvasTimeoutEvent{seq: seq})
	})
	glog.V(1).Infof("[room]%s request canvas state from %d members\n", r.boardID, others)
	r.broadcast(&protocol.Message{
		Type:    protocol.TypeRequestCanvasState,
		BoardID: r.boardID,
	}, requester)
}

func (r *Room) cancelCanvasRequest() {
	if r.canvas.timer != nil {
		r.canvas.timer.Stop()
		r.canvas.timer = nil
	}
	r.canvas.pending = false
}

func (r *Room) handleCanvasTimeout(seq uint64) {
	if !r.canvas.pending || seq != r.canvas.seq {
		return
	}
	glog.Infof("[room]%s no member answered the canvas state request\n", r.boardID)
	r.cancelCanvasRequest()
}

func (r *Room) handleCanvasStateRequest(m *member) {
	switch {
	case r.awaitingLoad():
		r.awaiting[m.peer.ID()] = true
	case r.populated:
		r.sendFullSync(m.peer)
	default:
		r.requestCanvasState(m.peer.ID())
	}
}

// handleCanvasState takes the first answer to an outstanding request as the
// board's state and sends it to the whole room.
func (r *Room) handleCanvasState(m *member, state *protocol.CanvasState) {
	if !r.canvas.pending {
		glog.V(2).Infof("[room]%s ignore unrequested canvas state from %s\n", r.boardID, m.peer.ID())
		return
	}
	if state == nil || !validElements(state.Elements) {
		glog.V(1).Infof("[room]%s drop invalid canvas state from %s\n", r.boardID, m.peer.ID())
		return
	}
	r.cancelCanvasRequest()
	r.applyState(state)
	r.broadcast(r.fullSyncMessage(), "")
	r.markDirty()
}
