package transport

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"collabdraw/internal/authz"
	"collabdraw/internal/drawing"
	"collabdraw/internal/identity"
	"collabdraw/internal/protocol"
	"collabdraw/internal/room"
	"collabdraw/internal/snapshot"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("v", "0")
}

type boards map[string]authz.Board

func (b boards) Board(ctx context.Context, boardID string) (authz.Board, error) {
	board, ok := b[boardID]
	if !ok {
		return authz.Board{}, authz.ErrBoardNotFound
	}
	return board, nil
}

func (b boards) IsOrgMember(ctx context.Context, organizationID string, userID string) (bool, error) {
	return organizationID == "o1" && userID == "bob", nil
}

func newTestServer(t *testing.T, resolver identity.Resolver) (*httptest.Server, *room.Registry) {
	gate := authz.NewGate(boards{
		"b1": {ID: "b1", CreatorID: "alice", OrganizationID: "o1"},
	})
	bridge := snapshot.NewBridgeWithDefaults(snapshot.NewMemoryStore())
	registry := room.NewRegistryWithDefaults(context.Background(), gate, bridge)
	server := httptest.NewServer(NewHandlerWithDefaults(registry, resolver))
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	assert.Equal(t, err, nil)
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	frame, err := protocol.Encode(msg)
	assert.Equal(t, err, nil)
	err = conn.WriteMessage(websocket.TextMessage, frame)
	assert.Equal(t, err, nil)
}

func receive(t *testing.T, conn *websocket.Conn, messageType protocol.Type) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.Equal(t, err, nil)
	msg, err := protocol.Decode(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, msg.Type, messageType)
	return msg
}

func TestSessionsRelayCommits(t *testing.T) {
	server, registry := newTestServer(t, identity.Anonymous{})

	a := dial(t, server, nil)
	// dropped, not joined yet
	send(t, a, &protocol.Message{Type: protocol.TypeRequestUndo, BoardID: "b1"})
	send(t, a, &protocol.Message{Type: protocol.TypeJoin, BoardID: "b1", UserID: "alice"})
	receive(t, a, protocol.TypeJoinAccepted)
	receive(t, a, protocol.TypeFullSync)

	p := drawing.Path{Points: []drawing.Point{{X: 1, Y: 2}}, Color: "#000000", StrokeWidth: 1}
	send(t, a, &protocol.Message{
		Type:    protocol.TypeElementCommitted,
		BoardID: "b1",
		Element: &drawing.Any{Element: p},
	})
	deadline := time.Now().Add(2 * time.Second)
	for {
		state, _ := registry.Inspect("b1")
		if len(state.Elements) == 1 {
			break
		}
		if deadline.Before(time.Now()) {
			t.Fatalf("commit not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b := dial(t, server, nil)
	send(t, b, &protocol.Message{Type: protocol.TypeJoin, BoardID: "b1", UserID: "bob"})
	receive(t, b, protocol.TypeJoinAccepted)
	full := receive(t, b, protocol.TypeFullSync)
	assert.Equal(t, full.Document.Elements, []drawing.Element{p})

	joined := receive(t, a, protocol.TypeMemberJoined)
	assert.Equal(t, joined.UserID, "bob")

	send(t, b, &protocol.Message{Type: protocol.TypeRequestUndo, BoardID: "b1"})
	for _, conn := range []*websocket.Conn{a, b} {
		moved := receive(t, conn, protocol.TypeHistoryMoved)
		assert.Equal(t, *moved.HistoryIndex, 0)
	}

	b.Close()
	left := receive(t, a, protocol.TypeMemberLeft)
	assert.Equal(t, left.UserID, "bob")
}

func TestSessionRejectedJoinCloses(t *testing.T) {
	server, _ := newTestServer(t, identity.Anonymous{})

	m := dial(t, server, nil)
	send(t, m, &protocol.Message{Type: protocol.TypeJoin, BoardID: "b1", UserID: "mallory"})
	rejected := receive(t, m, protocol.TypeJoinRejected)
	assert.Equal(t, rejected.Reason, "unauthorized")

	m.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := m.ReadMessage()
	assert.Equal(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), true)

	n := dial(t, server, nil)
	send(t, n, &protocol.Message{Type: protocol.TypeJoin, BoardID: "nope", UserID: "alice"})
	rejected = receive(t, n, protocol.TypeJoinRejected)
	assert.Equal(t, rejected.Reason, "board not found")
}

func TestSessionTokenIdentity(t *testing.T) {
	secret := []byte("k")
	server, _ := newTestServer(t, identity.NewJWTResolver(secret, nil))

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	assert.Equal(t, err, nil)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	a := dial(t, server, header)
	// the token decides the user
	send(t, a, &protocol.Message{Type: protocol.TypeJoin, BoardID: "b1"})
	accepted := receive(t, a, protocol.TypeJoinAccepted)
	assert.Equal(t, accepted.UserID, "alice")

	b := dial(t, server, header)
	send(t, b, &protocol.Message{Type: protocol.TypeJoin, BoardID: "b1", UserID: "bob"})
	rejected := receive(t, b, protocol.TypeJoinRejected)
	assert.Equal(t, rejected.Reason, "user does not match token")
}

func TestToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, Token(r), "abc")

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, Token(r), "xyz")

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, Token(r), "")
}
