package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabdraw/internal/authz"
	"collabdraw/internal/snapshot"
	"collabdraw/internal/store"
)

//go:embed schema.sql
var schema string

// Store keeps boards, organizations, users and board snapshots in postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects with backoff and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	var pool *pgxpool.Pool
	err := store.Retry(ctx, "postgres", func() error {
		var err error
		pool, err = pgxpool.New(ctx, databaseURL)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	glog.Infof("[postgres]connected\n")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Board(ctx context.Context, boardID string) (authz.Board, error) {
	var board authz.Board
	var organizationID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, creator_id, organization_id
		FROM boards
		WHERE id = $1
	`, boardID).Scan(&board.ID, &board.CreatorID, &organizationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Board{}, fmt.Errorf("board %s: %w", boardID, authz.ErrBoardNotFound)
	}
	if err != nil {
		return authz.Board{}, err
	}
	if organizationID != nil {
		board.OrganizationID = *organizationID
	}
	return board, nil
}

func (s *Store) IsOrgMember(ctx context.Context, organizationID string, userID string) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE organization_id = $1 AND user_id = $2
		)
	`, organizationID, userID).Scan(&member)
	return member, err
}

// UserIDForExternal returns the user for an external identity, creating it
// on first sight.
func (s *Store) UserIDForExternal(ctx context.Context, externalID string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, external_id)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id
	`, uuid.NewString(), externalID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("ensure user %s: %w", externalID, err)
	}
	return userID, nil
}

func (s *Store) CreateOrganization(ctx context.Context, organizationID string, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, organizationID, name)
	return err
}

func (s *Store) AddOrgMember(ctx context.Context, organizationID string, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, organizationID, userID)
	return err
}

func (s *Store) CreateBoard(ctx context.Context, board authz.Board) error {
	var organizationID *string
	if board.OrganizationID != "" {
		organizationID = &board.OrganizationID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO boards (id, creator_id, organization_id) VALUES ($1, $2, $3)
	`, board.ID, board.CreatorID, organizationID)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string) (*snapshot.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot FROM board_snapshots WHERE board_id = $1
	`, boardID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &snapshot.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", boardID, err)
	}
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, boardID string, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO board_snapshots (board_id, snapshot, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (board_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at
	`, boardID, data, snap.SavedAt)
	return err
}
