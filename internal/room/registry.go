package room

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"collabdraw/internal/protocol"
	"collabdraw/internal/snapshot"
)

var ErrInvalidJoin = errors.New("board id and user id are required")

// Gate decides whether a user may join a board.
type Gate interface {
	Check(ctx context.Context, boardID string, userID string) error
}

type session struct {
	boardID string
	userID  string
	room    *Room
}

// Registry tracks the live room of every board and the room of every
// connection. Rooms are created on the first admitted join and dropped when
// their last member leaves.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc

	gate     Gate
	bridge   *snapshot.Bridge
	settings *Settings

	mutex    sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*session
	// rooms that are shutting down, until their final save is done
	closing map[string]*Room
}

func NewRegistryWithDefaults(ctx context.Context, gate Gate, bridge *snapshot.Bridge) *Registry {
	return NewRegistry(ctx, gate, bridge, DefaultSettings())
}

func NewRegistry(ctx context.Context, gate Gate, bridge *snapshot.Bridge, settings *Settings) *Registry {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:      cancelCtx,
		cancel:   cancel,
		gate:     gate,
		bridge:   bridge,
		settings: settings,
		rooms:    map[string]*Room{},
		sessions: map[string]*session{},
		closing:  map[string]*Room{},
	}
}

// Join admits the peer to the board's room. The gate is consulted exactly
// once and before any room state changes. On error the peer is in no room.
func (r *Registry) Join(ctx context.Context, peer Peer, boardID string, userID string) (*Room, error) {
	if boardID == "" || userID == "" {
		return nil, ErrInvalidJoin
	}
	if err := r.gate.Check(ctx, boardID, userID); err != nil {
		glog.V(1).Infof("[registry]deny %s user=%s board=%s = %s\n", peer.ID(), userID, boardID, err)
		return nil, err
	}

	// a connection lives in one room at a time
	r.Leave(peer)

	for {
		r.mutex.Lock()
		room := r.roomLocked(boardID)
		r.mutex.Unlock()

		// the round trip to the room runs unlocked so a busy room holds up
		// only its own board
		joined := room.join(peer, userID)

		r.mutex.Lock()
		if joined {
			r.sessions[peer.ID()] = &session{
				boardID: boardID,
				userID:  userID,
				room:    room,
			}
			r.mutex.Unlock()
			return room, nil
		}
		// the room emptied or stopped underneath us, start a fresh one
		r.retireLocked(room)
		r.mutex.Unlock()
	}
}

func (r *Registry) roomLocked(boardID string) *Room {
	if room, ok := r.rooms[boardID]; ok {
		return room
	}
	var previous <-chan struct{}
	if closing, ok := r.closing[boardID]; ok {
		previous = closing.Done()
	}
	room := newRoom(r.ctx, boardID, r.bridge, r.settings, previous)
	r.rooms[boardID] = room
	glog.V(1).Infof("[registry]open room %s\n", boardID)
	return room
}

func (r *Registry) retireLocked(room *Room) {
	if room.retired {
		return
	}
	room.retired = true
	boardID := room.BoardID()
	if r.rooms[boardID] == room {
		delete(r.rooms, boardID)
	}
	r.closing[boardID] = room
	go func() {
		<-room.Done()
		r.mutex.Lock()
		defer r.mutex.Unlock()
		if r.closing[boardID] == room {
			delete(r.closing, boardID)
		}
		glog.V(1).Infof("[registry]closed room %s\n", boardID)
	}()
}

// Leave removes the peer from its room. Leaving twice is a no-op.
func (r *Registry) Leave(peer Peer) {
	r.mutex.Lock()
	s, ok := r.sessions[peer.ID()]
	if ok {
		delete(r.sessions, peer.ID())
	}
	r.mutex.Unlock()

	if !ok {
		return
	}
	if remaining := s.room.leave(peer); remaining == 0 {
		r.mutex.Lock()
		r.retireLocked(s.room)
		r.mutex.Unlock()
	}
}

// Publish routes an op from the peer to its room. Ops from peers that are not
// joined, or that name a board other than the peer's, are dropped.
func (r *Registry) Publish(peer Peer, msg *protocol.Message) {
	r.mutex.Lock()
	s, ok := r.sessions[peer.ID()]
	r.mutex.Unlock()

	if !ok {
		glog.V(2).Infof("[registry]drop %s from unjoined %s\n", msg.Type, peer.ID())
		return
	}
	if msg.BoardID != s.boardID {
		glog.V(2).Infof("[registry]drop stale %s from %s for board %s (joined %s)\n", msg.Type, peer.ID(), msg.BoardID, s.boardID)
		return
	}
	s.room.post(&publishEvent{peer: peer, msg: msg})
}

func (r *Registry) RequestUndo(peer Peer, boardID string) {
	r.Publish(peer, &protocol.Message{Type: protocol.TypeRequestUndo, BoardID: boardID})
}

func (r *Registry) RequestRedo(peer Peer, boardID string) {
	r.Publish(peer, &protocol.Message{Type: protocol.TypeRequestRedo, BoardID: boardID})
}

// MembersOf lists the connections currently in the board's room, in join
// order. Members the room dropped are gone even before their transport
// leaves.
func (r *Registry) MembersOf(boardID string) []Member {
	state, ok := r.Inspect(boardID)
	if !ok || len(state.Members) == 0 {
		return []Member{}
	}
	return state.Members
}

// Inspect returns the state of the board's live room, or false when no room
// is active for the board.
func (r *Registry) Inspect(boardID string) (State, bool) {
	r.mutex.Lock()
	room, ok := r.rooms[boardID]
	r.mutex.Unlock()

	if !ok {
		return State{}, false
	}
	return room.inspect()
}

// SetRaster replaces the raster fallback of an active room. It returns false
// when no room is active for the board.
func (r *Registry) SetRaster(boardID string, raster []byte) bool {
	r.mutex.Lock()
	room, ok := r.rooms[boardID]
	r.mutex.Unlock()

	if !ok {
		return false
	}
	return room.post(&rasterEvent{raster: raster})
}

// Shutdown closes every room, disconnecting its members, and waits for the
// final saves.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mutex.Lock()
	rooms := []*Room{}
	for _, room := range r.rooms {
		rooms = append(rooms, room)
		r.retireLocked(room)
	}
	for _, room := range r.closing {
		if !contains(rooms, room) {
			rooms = append(rooms, room)
		}
	}
	clear(r.sessions)
	r.mutex.Unlock()

	for _, room := range rooms {
		room.post(&closeEvent{})
	}
	defer r.cancel()
	for _, room := range rooms {
		select {
		case <-room.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func contains(rooms []*Room, room *Room) bool {
	for _, r := range rooms {
		if r == room {
			return true
		}
	}
	return false
}
