package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"collabdraw/internal/authz"
	"collabdraw/internal/snapshot"
)

//go:embed schema.sql
var schema string

// Store is the single-node counterpart of the postgres store.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	glog.Infof("[sqlite]opened %s\n", dbPath)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Board(ctx context.Context, boardID string) (authz.Board, error) {
	var board authz.Board
	var organizationID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, organization_id
		FROM boards
		WHERE id = ?
	`, boardID).Scan(&board.ID, &board.CreatorID, &organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Board{}, fmt.Errorf("board %s: %w", boardID, authz.ErrBoardNotFound)
	}
	if err != nil {
		return authz.Board{}, err
	}
	board.OrganizationID = organizationID.String
	return board, nil
}

func (s *Store) IsOrgMember(ctx context.Context, organizationID string, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE organization_id = ? AND user_id = ?
		)
	`, organizationID, userID).Scan(&member)
	return member, err
}

// UserIDForExternal returns the user for an external identity, creating it
// on first sight.
func (s *Store) UserIDForExternal(ctx context.Context, externalID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id)
		VALUES (?, ?)
		ON CONFLICT (external_id) DO UPDATE SET external_id = excluded.external_id
		RETURNING id
	`, uuid.NewString(), externalID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("ensure user %s: %w", externalID, err)
	}
	return userID, nil
}

func (s *Store) CreateOrganization(ctx context.Context, organizationID string, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING
	`, organizationID, name)
	return err
}

func (s *Store) AddOrgMember(ctx context.Context, organizationID string, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, organizationID, userID)
	return err
}

func (s *Store) CreateBoard(ctx context.Context, board authz.Board) error {
	organizationID := sql.NullString{String: board.OrganizationID, Valid: board.OrganizationID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, creator_id, organization_id) VALUES (?, ?, ?)
	`, board.ID, board.CreatorID, organizationID)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string) (*snapshot.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM board_snapshots WHERE board_id = ?
	`, boardID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &snapshot.Snapshot{}
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", boardID, err)
	}
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, boardID string, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO board_snapshots (board_id, snapshot, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT (board_id) DO UPDATE SET snapshot = excluded.snapshot, saved_at = excluded.saved_at
	`, boardID, string(data), snap.SavedAt.UnixMilli())
	return err
}
