package api

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"collabdraw/internal/authz"
	"collabdraw/internal/drawing"
	"collabdraw/internal/identity"
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
	return false, nil
}

type pinger struct {
	err error
}

func (p pinger) Ping(ctx context.Context) error {
	return p.err
}

type peer struct {
	id string
}

func (p peer) ID() string             { return p.id }
func (p peer) Send(frame []byte) bool { return true }
func (p peer) Close()                 {}

type fixture struct {
	store    *snapshot.MemoryStore
	registry *room.Registry
	router   http.Handler
}

func newFixture(t *testing.T, pingers ...Pinger) *fixture {
	store := snapshot.NewMemoryStore()
	bridge := snapshot.NewBridgeWithDefaults(store)
	gate := authz.NewGate(boards{
		"b1": {ID: "b1", CreatorID: "alice"},
	})
	registry := room.NewRegistryWithDefaults(context.Background(), gate, bridge)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})
	server := NewServer(registry, bridge, gate, identity.Anonymous{}, pingers...)
	return &fixture{
		store:    store,
		registry: registry,
		router:   server.Router(nil),
	}
}

func (f *fixture) do(method string, path string, userID string, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		r.Header.Set(UserHeader, userID)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, pinger{})
	assert.Equal(t, f.do(http.MethodGet, "/health/live", "", "").Code, http.StatusOK)
	assert.Equal(t, f.do(http.MethodGet, "/health/ready", "", "").Code, http.StatusOK)

	f = newFixture(t, pinger{}, pinger{err: errors.New("down")})
	assert.Equal(t, f.do(http.MethodGet, "/health/ready", "", "").Code, http.StatusServiceUnavailable)
}

func TestBoardRoutesPassTheGate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.do(http.MethodGet, "/boards/b1/snapshot", "", "").Code, http.StatusForbidden)
	assert.Equal(t, f.do(http.MethodGet, "/boards/b1/snapshot", "mallory", "").Code, http.StatusForbidden)
	assert.Equal(t, f.do(http.MethodGet, "/boards/b9/snapshot", "alice", "").Code, http.StatusNotFound)
	assert.Equal(t, f.do(http.MethodGet, "/boards/b1/snapshot", "alice", "").Code, http.StatusOK)
}

func TestSnapshotFromStore(t *testing.T) {
	f := newFixture(t)
	text := drawing.Text{Content: "hello", Position: drawing.Point{X: 3, Y: 4}}
	f.store.PutSnapshot(context.Background(), "b1", &snapshot.Snapshot{
		Elements:     []drawing.Element{text},
		HistoryIndex: 1,
	})

	w := f.do(http.MethodGet, "/boards/b1/snapshot", "alice", "")
	assert.Equal(t, w.Code, http.StatusOK)
	snap := &snapshot.Snapshot{}
	err := json.Unmarshal(w.Body.Bytes(), snap)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Elements, []drawing.Element{text})
	assert.Equal(t, snap.HistoryIndex, 1)

	w = f.do(http.MethodGet, "/boards/b1/export.svg", "alice", "")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "image/svg+xml")
	assert.Equal(t, strings.Contains(w.Body.String(), ">hello</text>"), true)

	w = f.do(http.MethodGet, "/boards/b1/export.pdf", "alice", "")
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, strings.HasPrefix(w.Body.String(), "%PDF-"), true)
}

func TestRasterWithoutRoomWritesThrough(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPut, "/boards/b1/raster", "alice", "data:image/png;base64,AAAA")
	assert.Equal(t, w.Code, http.StatusNoContent)

	snap, err := f.store.GetSnapshot(context.Background(), "b1")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(snap.Raster), "data:image/png;base64,AAAA")

	w = f.do(http.MethodGet, "/boards/b1/raster", "alice", "")
	assert.Equal(t, w.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, strings.Contains(w.Body.String(), "method not allowed"), true)

	w = f.do(http.MethodPost, "/boards/b1/snapshot", "alice", "")
	assert.Equal(t, w.Code, http.StatusMethodNotAllowed)
}

func TestLiveRoomMembersAndRaster(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Join(context.Background(), peer{id: "c1"}, "b1", "alice")
	assert.Equal(t, err, nil)

	w := f.do(http.MethodGet, "/boards/b1/members", "alice", "")
	assert.Equal(t, w.Code, http.StatusOK)
	var body struct {
		BoardID string        `json:"boardId"`
		Members []room.Member `json:"members"`
	}
	err = json.Unmarshal(w.Body.Bytes(), &body)
	assert.Equal(t, err, nil)
	assert.Equal(t, body.Members, []room.Member{{ConnectionID: "c1", UserID: "alice"}})

	w = f.do(http.MethodPut, "/boards/b1/raster", "alice", "png")
	assert.Equal(t, w.Code, http.StatusNoContent)
	state, ok := f.registry.Inspect("b1")
	assert.Equal(t, ok, true)
	assert.Equal(t, string(state.Raster), "png")
}
