package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabdraw/internal/authz"
	"collabdraw/internal/identity"
	"collabdraw/internal/protocol"
	"collabdraw/internal/room"
)

type Settings struct {
	// frames queued per connection before it counts as slow
	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	JoinTimeout     time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		SendBuffer:      256,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 4 * 1024 * 1024,
		JoinTimeout:     10 * time.Second,
	}
}

// Handler upgrades requests to websocket sessions attached to the registry.
type Handler struct {
	registry *room.Registry
	resolver identity.Resolver
	settings *Settings
	upgrader websocket.Upgrader
}

func NewHandlerWithDefaults(registry *room.Registry, resolver identity.Resolver) *Handler {
	return NewHandler(registry, resolver, DefaultSettings())
}

func NewHandler(registry *room.Registry, resolver identity.Resolver, settings *Settings) *Handler {
	return &Handler{
		registry: registry,
		resolver: resolver,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenUserID, err := h.resolver.Resolve(r.Context(), Token(r))
	if err != nil {
		glog.V(1).Infof("[transport]reject %s = %s\n", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the response
		glog.Infof("[transport]upgrade %s = %s\n", r.RemoteAddr, err)
		return
	}

	session := newSession(conn, h.registry, tokenUserID, h.settings)
	glog.V(1).Infof("[transport]open %s from %s\n", session.id, r.RemoteAddr)
	go session.writePump()
	session.readPump(r.Context())
}

// Token returns the bearer token from the query or the Authorization header.
func Token(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(auth)
	}
	return ""
}

// Session is one websocket connection. It is the room's Peer.
type Session struct {
	id       string
	conn     *websocket.Conn
	registry *room.Registry
	settings *Settings
	// set when the connection authenticated with a token
	tokenUserID string

	mutex  sync.Mutex
	closed bool
	send   chan []byte
	// closed when the write pump exits
	writeDone chan struct{}

	joinedBoardID string
}

func newSession(conn *websocket.Conn, registry *room.Registry, tokenUserID string, settings *Settings) *Session {
	return &Session{
		id:          uuid.NewString(),
		conn:        conn,
		registry:    registry,
		settings:    settings,
		tokenUserID: tokenUserID,
		send:        make(chan []byte, settings.SendBuffer),
		writeDone:   make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Send(frame []byte) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames. Frames already queued are still written,
// then the write pump closes the connection.
func (s *Session) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.registry.Leave(s)
		s.Close()
		// let the write pump flush a rejection before the connection goes
		select {
		case <-s.writeDone:
		case <-time.After(s.settings.WriteWait):
		}
		s.conn.Close()
		glog.V(1).Infof("[transport]close %s\n", s.id)
	}()

	s.conn.SetReadLimit(s.settings.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Infof("[transport]%s read = %s\n", s.id, err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			glog.V(1).Infof("[transport]%s drop frame = %s\n", s.id, err)
			continue
		}

		if msg.Type == protocol.TypeJoin {
			if !s.join(ctx, msg) {
				return
			}
			continue
		}
		if s.joinedBoardID == "" {
			glog.V(2).Infof("[transport]%s drop %s before join\n", s.id, msg.Type)
			continue
		}
		s.registry.Publish(s, msg)
	}
}

// join returns false when the connection must end.
func (s *Session) join(ctx context.Context, msg *protocol.Message) bool {
	userID := msg.UserID
	if s.tokenUserID != "" {
		if userID != "" && userID != s.tokenUserID {
			s.reject(msg.BoardID, "user does not match token")
			return false
		}
		userID = s.tokenUserID
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.settings.JoinTimeout)
	defer cancel()
	if _, err := s.registry.Join(joinCtx, s, msg.BoardID, userID); err != nil {
		s.reject(msg.BoardID, rejectReason(err))
		return false
	}
	s.joinedBoardID = msg.BoardID
	return true
}

func (s *Session) reject(boardID string, reason string) {
	glog.Infof("[transport]%s join %s rejected = %s\n", s.id, boardID, reason)
	frame, err := protocol.Encode(&protocol.Message{
		Type:    protocol.TypeJoinRejected,
		BoardID: boardID,
		Reason:  reason,
	})
	if err == nil {
		s.Send(frame)
	}
	s.Close()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidJoin):
		return "boardId and userId are required"
	case errors.Is(err, authz.ErrBoardNotFound):
		return "board not found"
	case errors.Is(err, authz.ErrUnauthorized):
		return "unauthorized"
	default:
		return "join failed"
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.settings.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.writeDone)
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				glog.V(1).Infof("[transport]%s write = %s\n", s.id, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
