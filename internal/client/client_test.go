package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"collabdraw/internal/authz"
	"collabdraw/internal/drawing"
	"collabdraw/internal/identity"
	"collabdraw/internal/protocol"
	"collabdraw/internal/room"
	"collabdraw/internal/snapshot"
	"collabdraw/internal/transport"
)

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

func newTestServer(t *testing.T) (string, *room.Registry) {
	gate := authz.NewGate(boards{
		"b1": {ID: "b1", CreatorID: "agent", OrganizationID: "o1"},
	})
	bridge := snapshot.NewBridgeWithDefaults(snapshot.NewMemoryStore())
	registry := room.NewRegistryWithDefaults(context.Background(), gate, bridge)
	server := httptest.NewServer(transport.NewHandlerWithDefaults(registry, identity.Anonymous{}))
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})
	return "ws" + strings.TrimPrefix(server.URL, "http"), registry
}

func eventually(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if deadline.Before(time.Now()) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func run(c *Client) chan error {
	result := make(chan error, 1)
	go func() {
		result <- c.Run()
	}()
	return result
}

func TestClientRestoresEmptyRoomAndFollowsCommits(t *testing.T) {
	url, registry := newTestServer(t)
	ctx := context.Background()

	mirror := snapshot.NewMemoryStore()
	mirror.PutSnapshot(ctx, "b1", &snapshot.Snapshot{
		Elements:     []drawing.Element{path(1), path(2)},
		HistoryIndex: 2,
	})

	c := NewClientWithDefaults(ctx, url, "b1", "agent", "", mirror)
	result := run(c)
	defer func() {
		c.Close()
		assert.Equal(t, <-result, nil)
	}()

	select {
	case <-c.Joined():
	case <-time.After(2 * time.Second):
		t.Fatalf("not joined")
	}
	eventually(t, func() bool {
		state, _ := registry.Inspect("b1")
		return len(state.Elements) == 2
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Equal(t, err, nil)
	defer conn.Close()

	write := func(msg *protocol.Message) {
		frame, err := protocol.Encode(msg)
		assert.Equal(t, err, nil)
		assert.Equal(t, conn.WriteMessage(websocket.TextMessage, frame), nil)
	}
	read := func(messageType protocol.Type) *protocol.Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		assert.Equal(t, err, nil)
		msg, err := protocol.Decode(data)
		assert.Equal(t, err, nil)
		assert.Equal(t, msg.Type, messageType)
		return msg
	}

	write(&protocol.Message{Type: protocol.TypeJoin, BoardID: "b1", UserID: "bob"})
	read(protocol.TypeJoinAccepted)
	full := read(protocol.TypeFullSync)
	assert.Equal(t, full.Document.Elements, []drawing.Element{path(1), path(2)})

	write(committed(path(3)))
	eventually(t, func() bool {
		return c.Replica().Len() == 3
	})
	eventually(t, func() bool {
		snap, _ := mirror.GetSnapshot(ctx, "b1")
		return snap != nil && len(snap.Elements) == 3
	})
}

func TestClientStopsWhenRejected(t *testing.T) {
	url, _ := newTestServer(t)

	c := NewClientWithDefaults(context.Background(), url, "b1", "mallory", "", nil)
	defer c.Close()
	select {
	case err := <-run(c):
		assert.Equal(t, errors.Is(err, ErrRejected), true)
	case <-time.After(2 * time.Second):
		t.Fatalf("client kept running")
	}
}

func TestClientRetriesUntilClosed(t *testing.T) {
	settings := DefaultSettings()
	settings.ReconnectMaxInterval = 20 * time.Millisecond
	// nothing listens here
	c := NewClient(context.Background(), "ws://127.0.0.1:1/ws", "b1", "agent", "", nil, settings)
	result := run(c)

	select {
	case err := <-result:
		t.Fatalf("stopped early = %s", err)
	case <-time.After(100 * time.Millisecond):
	}
	c.Close()
	select {
	case err := <-result:
		assert.Equal(t, err, nil)
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop")
	}
}
