package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"collabdraw/internal/client"
	"collabdraw/internal/discovery"
	"collabdraw/internal/drawing"
	"collabdraw/internal/export"
	"collabdraw/internal/store/boltstore"
)

const AgentVersion = "0.1.0"

func main() {
	usage := `Collaborative drawing agent.

Keeps a local copy of a board and gives it back to the relay when the relay
comes up without one. The relay is found over mDNS when no url is given.

Usage:
    agent --board=<board_id> --user=<user_id> [--url=<url>] [--token=<token>]
        [--mirror=<path>] [--http=<addr>] [--discover_timeout=<duration>] [-v=<level>]
    agent -h | --help
    agent --version

Options:
    -h --help                       Show this screen.
    --version                       Show version.
    --board=<board_id>              Board to follow.
    --user=<user_id>                User to join as.
    --url=<url>                     Relay websocket url, e.g. ws://host:8081/ws.
    --token=<token>                 Bearer token for relays that require one.
    --mirror=<path>                 Bolt file for the local copy [default: collabdraw-agent.db].
    --http=<addr>                   Serve the local copy as svg on this address.
    --discover_timeout=<duration>   How long to browse for a relay [default: 15s].
    -v=<level>                      Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], AgentVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if v, err := opts.String("-v"); err == nil {
		flag.Set("v", v)
	}
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Errorf("[agent]%s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	boardID, _ := opts.String("--board")
	userID, _ := opts.String("--user")
	url, _ := opts.String("--url")
	token, _ := opts.String("--token")
	mirrorPath, _ := opts.String("--mirror")
	httpAddr, _ := opts.String("--http")
	discoverTimeoutStr, _ := opts.String("--discover_timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		glog.Infof("[agent]shutting down\n")
		cancel()
	}()

	if url == "" {
		discoverTimeout, err := time.ParseDuration(discoverTimeoutStr)
		if err != nil {
			return err
		}
		discoverCtx, discoverCancel := context.WithTimeout(ctx, discoverTimeout)
		url, err = discovery.Find(discoverCtx)
		discoverCancel()
		if err != nil {
			return err
		}
	}

	mirror, err := boltstore.Open(mirrorPath)
	if err != nil {
		return err
	}
	defer mirror.Close()

	agent := client.NewClientWithDefaults(ctx, url, boardID, userID, token, mirror)
	defer agent.Close()

	if httpAddr != "" {
		httpServer := &http.Server{
			Addr:              httpAddr,
			Handler:           router(agent.Replica()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			glog.Infof("[agent]serving local copy on %s\n", httpAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("[agent]http = %s\n", err)
			}
		}()
		defer httpServer.Close()
	}

	glog.Infof("[agent]following %s at %s\n", boardID, url)
	return agent.Run()
}

func router(replica *client.Replica) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/export.svg", func(w http.ResponseWriter, r *http.Request) {
		state := replica.CanvasState()
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(export.SVG(drawing.NewDocument(state.Elements...), state.HistoryIndex)))
	}).Methods(http.MethodGet)
	return r
}
