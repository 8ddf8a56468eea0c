package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"collabdraw/internal/api"
	"collabdraw/internal/authz"
	"collabdraw/internal/config"
	"collabdraw/internal/discovery"
	"collabdraw/internal/identity"
	"collabdraw/internal/room"
	"collabdraw/internal/snapshot"
	"collabdraw/internal/store/boltstore"
	"collabdraw/internal/store/postgres"
	"collabdraw/internal/store/redisstore"
	"collabdraw/internal/store/sqlite"
	"collabdraw/internal/transport"
)

const ServerVersion = "0.1.0"

// boardDB is the database that owns boards, organizations and users.
type boardDB interface {
	authz.BoardStore
	identity.UserStore
	snapshot.Store
	api.Pinger
	CreateOrganization(ctx context.Context, organizationID string, name string) error
	AddOrgMember(ctx context.Context, organizationID string, userID string) error
	CreateBoard(ctx context.Context, board authz.Board) error
}

func main() {
	usage := `Collaborative drawing relay.

Settings are read from the environment (ADDR, DATABASE_URL, SQLITE_PATH,
REDIS_ADDR, BOLT_PATH, JWT_SECRET, MDNS, ...). Options override them.

Usage:
    server [--addr=<addr>] [--database_url=<url>] [--sqlite=<path>]
        [--redis=<addr>] [--bolt=<path>] [--jwt_secret=<secret>]
        [--mdns] [-v=<level>]
    server create-board --board=<board_id> --creator=<subject> [--org=<org_id>]
        [--database_url=<url>] [--sqlite=<path>] [-v=<level>]
    server add-member --org=<org_id> --user=<subject>
        [--database_url=<url>] [--sqlite=<path>] [-v=<level>]
    server -h | --help
    server --version

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --addr=<addr>              Listen address, e.g. :8081.
    --database_url=<url>       Postgres url for boards, users and snapshots.
    --sqlite=<path>            Sqlite file used when no postgres url is set.
    --redis=<addr>             Keep snapshots in redis.
    --bolt=<path>              Keep snapshots in a bolt file.
    --jwt_secret=<secret>      Require HS256 tokens signed with this secret.
    --mdns                     Advertise the relay on the local network.
    --board=<board_id>
    --creator=<subject>        Token subject of the board's creator.
    --org=<org_id>
    --user=<subject>           Token subject of the new member.
    -v=<level>                 Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ServerVersion)
	if err != nil {
		panic(err)
	}

	initGlog(opts)
	defer glog.Flush()

	cfg := config.Load()
	applyOpts(cfg, opts)

	if createBoard_, _ := opts.Bool("create-board"); createBoard_ {
		err = createBoard(cfg, opts)
	} else if addMember_, _ := opts.Bool("add-member"); addMember_ {
		err = addMember(cfg, opts)
	} else {
		err = serve(cfg)
	}
	if err != nil {
		glog.Errorf("[server]%s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	if v, err := opts.String("-v"); err == nil {
		flag.Set("v", v)
	}
}

func applyOpts(cfg *config.Config, opts docopt.Opts) {
	if v, err := opts.String("--addr"); err == nil && v != "" {
		cfg.Addr = v
	}
	if v, err := opts.String("--database_url"); err == nil && v != "" {
		cfg.DatabaseURL = v
	}
	if v, err := opts.String("--sqlite"); err == nil && v != "" {
		cfg.SQLitePath = v
	}
	if v, err := opts.String("--redis"); err == nil && v != "" {
		cfg.RedisAddr = v
	}
	if v, err := opts.String("--bolt"); err == nil && v != "" {
		cfg.BoltPath = v
	}
	if v, err := opts.String("--jwt_secret"); err == nil && v != "" {
		cfg.JWTSecret = v
	}
	if v, _ := opts.Bool("--mdns"); v {
		cfg.MDNS = true
	}
}

func openBoardDB(ctx context.Context, cfg *config.Config) (boardDB, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		glog.Infof("[server]boards in postgres\n")
		return db, db.Close, nil
	}
	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	glog.Infof("[server]boards in sqlite %s\n", cfg.SQLitePath)
	return db, func() { db.Close() }, nil
}

// openSnapshots picks where room snapshots are kept. pingers are the extra
// dependencies readiness checks.
func openSnapshots(ctx context.Context, cfg *config.Config, db boardDB) (snapshot.Store, []api.Pinger, func(), error) {
	switch {
	case cfg.RedisAddr != "":
		s, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		glog.Infof("[server]snapshots in redis %s\n", cfg.RedisAddr)
		return s, []api.Pinger{s}, func() { s.Close() }, nil
	case cfg.BoltPath != "":
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		glog.Infof("[server]snapshots in bolt %s\n", cfg.BoltPath)
		return s, []api.Pinger{s}, func() { s.Close() }, nil
	default:
		return db, nil, func() {}, nil
	}
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, closeDB, err := openBoardDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	snapshots, pingers, closeSnapshots, err := openSnapshots(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	resolver := identity.NewResolver(cfg.JWTSecret, db)
	gate := authz.NewGate(db)
	bridge := snapshot.NewBridge(snapshots, &snapshot.BridgeSettings{
		DebounceWindow: cfg.SnapshotDebounce,
		Timeout:        cfg.SnapshotTimeout,
	})
	roomSettings := room.DefaultSettings()
	roomSettings.PeerSyncTimeout = cfg.PeerSyncTimeout
	registry := room.NewRegistry(ctx, gate, bridge, roomSettings)

	ws := transport.NewHandler(registry, resolver, &transport.Settings{
		SendBuffer:      cfg.SendBuffer,
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
		MaxMessageBytes: int64(cfg.MaxMessageBytes),
		JoinTimeout:     transport.DefaultSettings().JoinTimeout,
	})
	router := api.NewServer(registry, bridge, gate, resolver, append([]api.Pinger{db}, pingers...)...).Router(ws)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MDNS {
		advertisement, err := discovery.Advertise(cfg.Port())
		if err != nil {
			glog.Infof("[server]mdns unavailable = %s\n", err)
		} else {
			defer advertisement.Shutdown()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		glog.Infof("[server]listening on %s\n", cfg.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-c:
		glog.Infof("[server]%s, shutting down\n", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	// rooms close first so members see the connection end after the final save
	if err := registry.Shutdown(shutdownCtx); err != nil {
		glog.Infof("[server]rooms did not close = %s\n", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func createBoard(cfg *config.Config, opts docopt.Opts) error {
	ctx := context.Background()
	db, closeDB, err := openBoardDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	boardID, _ := opts.String("--board")
	subject, _ := opts.String("--creator")
	organizationID, _ := opts.String("--org")
	creatorID, err := db.UserIDForExternal(ctx, subject)
	if err != nil {
		return err
	}
	if organizationID != "" {
		if err := db.CreateOrganization(ctx, organizationID, organizationID); err != nil {
			return err
		}
	}
	err = db.CreateBoard(ctx, authz.Board{
		ID:             boardID,
		CreatorID:      creatorID,
		OrganizationID: organizationID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created board %s for user %s.\n", boardID, creatorID)
	return nil
}

func addMember(cfg *config.Config, opts docopt.Opts) error {
	ctx := context.Background()
	db, closeDB, err := openBoardDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	organizationID, _ := opts.String("--org")
	subject, _ := opts.String("--user")
	userID, err := db.UserIDForExternal(ctx, subject)
	if err != nil {
		return err
	}
	if err := db.CreateOrganization(ctx, organizationID, organizationID); err != nil {
		return err
	}
	if err := db.AddOrgMember(ctx, organizationID, userID); err != nil {
		return err
	}
	fmt.Printf("Added %s to %s.\n", userID, organizationID)
	return nil
}
