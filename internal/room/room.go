package room

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/golang/glog"

	"collabdraw/internal/drawing"
	"collabdraw/internal/protocol"
	"collabdraw/internal/snapshot"
)

// Peer is one live connection as seen by a room.
type Peer interface {
	ID() string
	// Send queues a frame without blocking. false means the frame was not
	// queued, either because the peer is closed or it is not keeping up.
	Send(frame []byte) bool
	Close()
}

type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// State is a copy of a room's state at one point in its event order.
type State struct {
	BoardID      string
	Elements     []drawing.Element
	HistoryIndex int
	Version      uint64
	Raster       []byte
	Members      []Member
	Cursors      map[string]drawing.Point
	Loading      bool
	Populated    bool
}

type Settings struct {
	InboxSize int
	// how long a RequestCanvasState waits for a peer to answer
	PeerSyncTimeout  time.Duration
	FinalSaveTimeout time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		InboxSize:        1024,
		PeerSyncTimeout:  3 * time.Second,
		FinalSaveTimeout: 5 * time.Second,
	}
}

type member struct {
	peer   Peer
	userID string
	seq    uint64
}

// events handled by the room loop

type joinEvent struct {
	peer   Peer
	userID string
	reply  chan bool
}

type leaveEvent struct {
	peer  Peer
	reply chan int
}

type publishEvent struct {
	peer Peer
	msg  *protocol.Message
}

type inspectEvent struct {
	reply chan State
}

type rasterEvent struct {
	raster []byte
}

type loadedEvent struct {
	snap *snapshot.Snapshot
	err  error
}

type flushEvent struct{}

type savedEvent struct {
	err error
}

type canvasTimeoutEvent struct {
	seq uint64
}

type closeEvent struct{}

// Room is the live session for one board. All of its state is owned by the
// goroutine in run; everything else talks to it through the inbox.
type Room struct {
	ctx      context.Context
	boardID  string
	bridge   *snapshot.Bridge
	settings *Settings

	inbox chan any
	// closed when run stops reading the inbox
	stopped chan struct{}
	// closed after the final save
	done chan struct{}

	members      map[string]*member
	memberSeq    uint64
	cursors      map[string]drawing.Point
	doc          *drawing.Document
	historyIndex int
	version      uint64
	raster       []byte

	loading   bool
	populated bool
	firstJoin string
	awaiting  map[string]bool
	canvas    canvasRequest
	persist   persistState
	closing   bool
	// the load was abandoned when the room's context ended
	loadAborted bool
	// guarded by the registry's mutex
	retired bool
}

func newRoom(ctx context.Context, boardID string, bridge *snapshot.Bridge, settings *Settings, previous <-chan struct{}) *Room {
	room := &Room{
		ctx:      ctx,
		boardID:  boardID,
		bridge:   bridge,
		settings: settings,
		inbox:    make(chan any, settings.InboxSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		members:  map[string]*member{},
		cursors:  map[string]drawing.Point{},
		doc:      drawing.NewDocument(),
		loading:  true,
		awaiting: map[string]bool{},
	}
	go room.run()
	go room.load(previous)
	return room
}

func (r *Room) BoardID() string {
	return r.boardID
}

// Done is closed once the room has stopped and its final save finished.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// post delivers an event unless the room has already stopped.
func (r *Room) post(event any) bool {
	select {
	case r.inbox <- event:
		return true
	case <-r.stopped:
		return false
	}
}

func (r *Room) join(peer Peer, userID string) bool {
	reply := make(chan bool, 1)
	if !r.post(&joinEvent{peer: peer, userID: userID, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-r.stopped:
		return false
	}
}

// leave returns how many members remain.
func (r *Room) leave(peer Peer) int {
	reply := make(chan int, 1)
	if !r.post(&leaveEvent{peer: peer, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-r.stopped:
		return 0
	}
}

func (r *Room) inspect() (State, bool) {
	reply := make(chan State, 1)
	if !r.post(&inspectEvent{reply: reply}) {
		return State{}, false
	}
	select {
	case state := <-reply:
		return state, true
	case <-r.stopped:
		return State{}, false
	}
}

func (r *Room) run() {
	defer close(r.done)

	for {
		event := <-r.inbox
		switch v := event.(type) {
		case *joinEvent:
			r.handleJoin(v)
		case *leaveEvent:
			r.handleLeave(v)
		case *publishEvent:
			r.handlePublish(v.peer, v.msg)
		case *inspectEvent:
			v.reply <- r.state()
		case *rasterEvent:
			r.raster = v.raster
			r.markDirty()
		case *loadedEvent:
			r.handleLoaded(v.snap, v.err)
		case *flushEvent:
			r.persist.timer = nil
			r.flush()
		case *savedEvent:
			r.handleSaved(v.err)
		case *canvasTimeoutEvent:
			r.handleCanvasTimeout(v.seq)
		case *closeEvent:
			for _, m := range r.members {
				m.peer.Close()
			}
			clear(r.members)
			r.closing = true
		}

		// an emptied room still waits for its load so the final save keeps
		// both the loaded document and what was committed meanwhile
		if r.closing && len(r.members) == 0 && !r.persist.saving && !r.awaitingLoad() {
			break
		}
	}

	close(r.stopped)
	r.stopTimers()
	r.finalSave()
}

func (r *Room) handleJoin(event *joinEvent) {
	if r.closing {
		// emptied rooms take no one back, the registry starts a new room
		event.reply <- false
		return
	}
	defer func() {
		event.reply <- true
	}()

	r.memberSeq += 1
	r.members[event.peer.ID()] = &member{
		peer:   event.peer,
		userID: event.userID,
		seq:    r.memberSeq,
	}
	if r.firstJoin == "" {
		r.firstJoin = event.peer.ID()
	}
	glog.V(1).Infof("[room]%s join %s user=%s members=%d\n", r.boardID, event.peer.ID(), event.userID, len(r.members))

	r.sendTo(event.peer, &protocol.Message{
		Type:    protocol.TypeJoinAccepted,
		BoardID: r.boardID,
		UserID:  event.userID,
	})
	r.broadcast(&protocol.Message{
		Type:    protocol.TypeMemberJoined,
		BoardID: r.boardID,
		UserID:  event.userID,
	}, event.peer.ID())

	if r.awaitingLoad() {
		// answered when the load completes
		r.awaiting[event.peer.ID()] = true
		return
	}
	r.sendFullSync(event.peer)
	if !r.populated {
		r.requestCanvasState(event.peer.ID())
	}
}

func (r *Room) handleLeave(event *leaveEvent) {
	defer func() {
		event.reply <- len(r.members)
	}()

	m, ok := r.members[event.peer.ID()]
	if !ok {
		// already removed, e.g. dropped for backpressure
		if len(r.members) == 0 {
			r.closing = true
		}
		return
	}
	r.removeMember(m)
	if len(r.members) == 0 {
		r.closing = true
	}
}

func (r *Room) removeMember(m *member) {
	delete(r.members, m.peer.ID())
	delete(r.awaiting, m.peer.ID())
	glog.V(1).Infof("[room]%s leave %s user=%s members=%d\n", r.boardID, m.peer.ID(), m.userID, len(r.members))

	stillPresent := false
	for _, other := range r.members {
		if other.userID == m.userID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		delete(r.cursors, m.userID)
	}
	r.broadcast(&protocol.Message{
		Type:    protocol.TypeMemberLeft,
		BoardID: r.boardID,
		UserID:  m.userID,
	}, "")
}

func (r *Room) handlePublish(peer Peer, msg *protocol.Message) {
	m, ok := r.members[peer.ID()]
	if !ok {
		glog.V(2).Infof("[room]%s drop %s from non-member %s\n", r.boardID, msg.Type, peer.ID())
		return
	}

	switch msg.Type {
	case protocol.TypeElementCommitted, protocol.TypeTextCommitted:
		r.commit(m, msg)
	case protocol.TypeStrokeSegment:
		if msg.From == nil || msg.To == nil {
			return
		}
		r.broadcast(&protocol.Message{
			Type:    msg.Type,
			BoardID: r.boardID,
			UserID:  m.userID,
			From:    msg.From,
			To:      msg.To,
		}, peer.ID())
	case protocol.TypeShapePreview:
		if msg.Origin == nil || msg.CurrentPosition == nil {
			return
		}
		r.broadcast(&protocol.Message{
			Type:            msg.Type,
			BoardID:         r.boardID,
			UserID:          m.userID,
			Tool:            msg.Tool,
			Origin:          msg.Origin,
			CurrentPosition: msg.CurrentPosition,
		}, peer.ID())
	case protocol.TypeCursorMoved:
		if msg.Position == nil {
			return
		}
		r.cursors[m.userID] = *msg.Position
		r.broadcast(&protocol.Message{
			Type:     msg.Type,
			BoardID:  r.boardID,
			UserID:   m.userID,
			Position: msg.Position,
		}, peer.ID())
	case protocol.TypeRequestUndo:
		r.undo(m)
	case protocol.TypeRequestRedo:
		r.redo(m)
	case protocol.TypeFullSync:
		r.replaceFromMember(m, msg.Document)
	case protocol.TypeRequestCanvasState:
		r.handleCanvasStateRequest(m)
	case protocol.TypeSendCanvasState:
		r.handleCanvasState(m, msg.State)
	default:
		glog.V(2).Infof("[room]%s drop unexpected %s from %s\n", r.boardID, msg.Type, peer.ID())
	}
}

func (r *Room) commit(m *member, msg *protocol.Message) {
	if msg.Element == nil || msg.Element.Element == nil {
		return
	}
	e := msg.Element.Element
	if err := e.Validate(); err != nil {
		glog.V(1).Infof("[room]%s drop commit from %s = %s\n", r.boardID, m.peer.ID(), err)
		return
	}
	if msg.Type == protocol.TypeTextCommitted && e.Kind() != drawing.KindText {
		glog.V(1).Infof("[room]%s drop text commit of kind %s from %s\n", r.boardID, e.Kind(), m.peer.ID())
		return
	}

	// a commit after undo discards the undone tail
	if r.historyIndex < r.doc.Len() {
		r.doc.Truncate(r.historyIndex)
	}
	r.doc.Append(e)
	r.historyIndex = r.doc.Len()
	r.populated = true

	r.broadcast(&protocol.Message{
		Type:    msg.Type,
		BoardID: r.boardID,
		UserID:  m.userID,
		Element: &drawing.Any{Element: e},
	}, m.peer.ID())
	r.markDirty()
}

func (r *Room) replaceFromMember(m *member, state *protocol.CanvasState) {
	if state == nil || !validElements(state.Elements) {
		glog.V(1).Infof("[room]%s drop invalid full sync from %s\n", r.boardID, m.peer.ID())
		return
	}
	r.applyState(state)
	r.cancelCanvasRequest()
	r.broadcast(r.fullSyncMessage(), m.peer.ID())
	r.markDirty()
}

// applyState replaces the document wholesale and bumps the version.
func (r *Room) applyState(state *protocol.CanvasState) {
	r.doc.Replace(state.Elements)
	r.historyIndex = max(0, min(state.HistoryIndex, r.doc.Len()))
	if 0 < len(state.Raster) {
		r.raster = slices.Clone(state.Raster)
	}
	r.version += 1
	r.populated = true
	// everyone waiting is about to receive this state
	clear(r.awaiting)
}

func validElements(elements []drawing.Element) bool {
	for _, e := range elements {
		if e == nil || e.Validate() != nil {
			return false
		}
	}
	return true
}

func (r *Room) fullSyncMessage() *protocol.Message {
	return &protocol.Message{
		Type:    protocol.TypeFullSync,
		BoardID: r.boardID,
		Document: &protocol.CanvasState{
			Elements:     r.doc.Elements(),
			HistoryIndex: r.historyIndex,
			Version:      r.version,
			Raster:       r.raster,
		},
	}
}

func (r *Room) sendFullSync(peer Peer) {
	delete(r.awaiting, peer.ID())
	r.sendTo(peer, r.fullSyncMessage())
}

func (r *Room) sendTo(peer Peer, msg *protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		glog.Errorf("[room]%s encode %s = %s\n", r.boardID, msg.Type, err)
		return
	}
	if m, ok := r.members[peer.ID()]; ok {
		r.deliver(m, frame)
	}
}

// broadcast sends to every member except the excluded connection id.
func (r *Room) broadcast(msg *protocol.Message, exclude string) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		glog.Errorf("[room]%s encode %s = %s\n", r.boardID, msg.Type, err)
		return
	}
	for _, m := range r.sortedMembers() {
		if m.peer.ID() == exclude {
			continue
		}
		r.deliver(m, frame)
	}
}

// deliver drops a member that cannot take the frame. It is disconnected
// rather than allowed to miss part of the room's order.
func (r *Room) deliver(m *member, frame []byte) {
	if _, ok := r.members[m.peer.ID()]; !ok {
		return
	}
	if m.peer.Send(frame) {
		return
	}
	glog.Infof("[room]%s drop slow member %s\n", r.boardID, m.peer.ID())
	m.peer.Close()
	r.removeMember(m)
}

func (r *Room) sortedMembers() []*member {
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].seq < members[j].seq
	})
	return members
}

func (r *Room) state() State {
	state := State{
		BoardID:      r.boardID,
		Elements:     r.doc.Elements(),
		HistoryIndex: r.historyIndex,
		Version:      r.version,
		Raster:       slices.Clone(r.raster),
		Cursors:      map[string]drawing.Point{},
		Loading:      r.loading,
		Populated:    r.populated,
	}
	for _, m := range r.sortedMembers() {
		state.Members = append(state.Members, Member{
			ConnectionID: m.peer.ID(),
			UserID:       m.userID,
		})
	}
	for userID, position := range r.cursors {
		state.Cursors[userID] = position
	}
	return state
}

func (r *Room) stopTimers() {
	if r.persist.timer != nil {
		r.persist.timer.Stop()
		r.persist.timer = nil
	}
	r.cancelCanvasRequest()
}
