package room

import (
	"github.com/golang/glog"

	"collabdraw/internal/protocol"
)

// History is one shared index over the room document, not a per-user stack.
// Two members undoing at the same time both move the same index, so each can
// step back past what they meant to undo. That race is part of the model.

func (r *Room) undo(m *member) {
	if r.historyIndex <= 0 {
		return
	}
	r.historyIndex -= 1
	r.historyMoved(m, protocol.Back)
}

func (r *Room) redo(m *member) {
	if r.doc.Len() <= r.historyIndex {
		return
	}
	r.historyIndex += 1
	r.historyMoved(m, protocol.Forward)
}

func (r *Room) historyMoved(m *member, direction protocol.Direction) {
	glog.V(1).Infof("[room]%s history %s by %s index=%d\n", r.boardID, direction, m.userID, r.historyIndex)
	// the sender re-renders from this too
	r.broadcast(&protocol.Message{
		Type:         protocol.TypeHistoryMoved,
		BoardID:      r.boardID,
		Direction:    direction,
		By:           m.userID,
		HistoryIndex: protocol.Int(r.historyIndex),
	}, "")
	r.markDirty()
}
