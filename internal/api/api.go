package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"collabdraw/internal/authz"
	"collabdraw/internal/drawing"
	"collabdraw/internal/export"
	"collabdraw/internal/identity"
	"collabdraw/internal/room"
	"collabdraw/internal/snapshot"
	"collabdraw/internal/transport"
)

// UserHeader names the caller when no identity resolver authenticates
// requests. It is trusted the same way a join's userId is.
const UserHeader = "X-User-Id"

const maxRasterBytes = 16 * 1024 * 1024

// Pinger is a dependency that /health/ready checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	registry *room.Registry
	bridge   *snapshot.Bridge
	gate     room.Gate
	resolver identity.Resolver
	pingers  []Pinger
}

func NewServer(registry *room.Registry, bridge *snapshot.Bridge, gate room.Gate, resolver identity.Resolver, pingers ...Pinger) *Server {
	return &Server{
		registry: registry,
		bridge:   bridge,
		gate:     gate,
		resolver: resolver,
		pingers:  pingers,
	}
}

// Router serves the board routes and health checks. The websocket handler is
// mounted at /ws when given.
func (s *Server) Router(ws http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health/live", s.live).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", s.ready).Methods(http.MethodGet)
	if ws != nil {
		router.Handle("/ws", ws)
	}

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	board := func(path string, method string, handler http.HandlerFunc) {
		router.Handle("/boards/{id}"+path, s.authorize(handler)).Methods(method)
	}
	board("/snapshot", http.MethodGet, s.getSnapshot)
	board("/raster", http.MethodPut, s.putRaster)
	board("/members", http.MethodGet, s.getMembers)
	board("/export.svg", http.MethodGet, s.exportSVG)
	board("/export.pdf", http.MethodGet, s.exportPDF)
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(1).Infof("[api]write = %s\n", err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, pinger := range s.pingers {
		if err := pinger.Ping(ctx); err != nil {
			glog.Infof("[api]not ready = %s\n", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// authorize resolves the caller and passes the board through the same gate
// as a join.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.resolver.Resolve(r.Context(), transport.Token(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if userID == "" {
			userID = r.Header.Get(UserHeader)
		}
		boardID := mux.Vars(r)["id"]
		if err := s.gate.Check(r.Context(), boardID, userID); err != nil {
			switch {
			case errors.Is(err, authz.ErrBoardNotFound):
				writeError(w, http.StatusNotFound, "board not found")
			default:
				writeError(w, http.StatusForbidden, "unauthorized")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// current is the live room's document when the room is active and loaded,
// otherwise the durable snapshot. A board never saved is empty.
func (s *Server) current(ctx context.Context, boardID string) (*snapshot.Snapshot, error) {
	if state, ok := s.registry.Inspect(boardID); ok && !(state.Loading && state.Version == 0) {
		return &snapshot.Snapshot{
			Elements:     state.Elements,
			HistoryIndex: state.HistoryIndex,
			Version:      state.Version,
			Raster:       state.Raster,
		}, nil
	}
	snap, err := s.bridge.Load(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = &snapshot.Snapshot{}
	}
	return snap, nil
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	snap, err := s.current(r.Context(), boardID)
	if err != nil {
		glog.Infof("[api]snapshot %s = %s\n", boardID, err)
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) putRaster(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	raster, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRasterBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "raster too large")
		return
	}
	raster = bytes.TrimSpace(raster)

	if s.registry.SetRaster(boardID, raster) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// no live room, write through to the store
	snap, err := s.bridge.Load(r.Context(), boardID)
	if err == nil {
		if snap == nil {
			snap = &snapshot.Snapshot{}
		}
		snap.Raster = raster
		snap.SavedAt = time.Time{}
		err = s.bridge.Save(r.Context(), boardID, snap)
	}
	if err != nil {
		glog.Infof("[api]raster %s = %s\n", boardID, err)
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getMembers(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]any{
		"boardId": boardID,
		"members": s.registry.MembersOf(boardID),
	})
}

func (s *Server) visible(w http.ResponseWriter, r *http.Request) (*drawing.Document, int, bool) {
	boardID := mux.Vars(r)["id"]
	snap, err := s.current(r.Context(), boardID)
	if err != nil {
		glog.Infof("[api]export %s = %s\n", boardID, err)
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable")
		return nil, 0, false
	}
	return drawing.NewDocument(snap.Elements...), snap.HistoryIndex, true
}

func (s *Server) exportSVG(w http.ResponseWriter, r *http.Request) {
	doc, upTo, ok := s.visible(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	io.WriteString(w, export.SVG(doc, upTo))
}

func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	doc, upTo, ok := s.visible(w, r)
	if !ok {
		return
	}
	var out bytes.Buffer
	if err := export.PDF(&out, doc, upTo); err != nil {
		glog.Errorf("[api]pdf %s = %s\n", mux.Vars(r)["id"], err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(out.Bytes())
}
