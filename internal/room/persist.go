package room

import (
	"context"
	"slices"
	"time"

	"github.com/golang/glog"

	"collabdraw/internal/snapshot"
)

// Saves are debounced: the first mutation after a save arms a timer and every
// mutation inside the window rides along. A failed save is not retried on its
// own; the next mutation arms the timer again.

type persistState struct {
	dirty  bool
	saving bool
	// a flush came due while a save was in flight
	flushPending bool
	timer        *time.Timer
}

func (r *Room) markDirty() {
	r.persist.dirty = true
	if r.persist.timer != nil {
		return
	}
	r.persist.timer = time.AfterFunc(r.bridge.DebounceWindow(), func() {
		r.post(&flushEvent{})
	})
}

func (r *Room) snapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Elements:     r.doc.Elements(),
		HistoryIndex: r.historyIndex,
		Version:      r.version,
		Raster:       slices.Clone(r.raster),
	}
}

func (r *Room) flush() {
	if !r.persist.dirty {
		return
	}
	if r.unloaded() {
		// writing now would overwrite the snapshot still being loaded
		return
	}
	if r.persist.saving {
		r.persist.flushPending = true
		return
	}

	snap := r.snapshot()
	r.persist.dirty = false
	r.persist.saving = true
	go func() {
		err := r.bridge.Save(r.ctx, r.boardID, snap)
		r.post(&savedEvent{err: err})
	}()
}

func (r *Room) handleSaved(err error) {
	r.persist.saving = false
	if err != nil {
		glog.Infof("[room]%s save failed, retry on next change = %s\n", r.boardID, err)
		r.persist.dirty = true
	}
	if r.persist.flushPending {
		r.persist.flushPending = false
		r.flush()
	}
}

// finalSave runs after the loop has stopped, so it writes directly.
func (r *Room) finalSave() {
	if !r.persist.dirty {
		return
	}
	if r.unloaded() {
		glog.Infof("[room]%s closed before its snapshot loaded, final save skipped\n", r.boardID)
		return
	}
	// the room's own context may already be cancelled on shutdown
	ctx, cancel := context.WithTimeout(context.Background(), r.settings.FinalSaveTimeout)
	defer cancel()
	if err := r.bridge.Save(ctx, r.boardID, r.snapshot()); err != nil {
		glog.Infof("[room]%s final save failed = %s\n", r.boardID, err)
		return
	}
	r.persist.dirty = false
}
