package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBoardNotFound = errors.New("board not found")
)

// Board is the part of a board record the gate needs.
type Board struct {
	ID        string
	CreatorID string
	// empty when the board has no owning organization
	OrganizationID string
}

// BoardStore is the board/organization collaborator. Board must return an
// error wrapping ErrBoardNotFound when the board does not exist.
type BoardStore interface {
	Board(ctx context.Context, boardID string) (Board, error)
	IsOrgMember(ctx context.Context, organizationID string, userID string) (bool, error)
}

// Gate admits a user to a board when the user created the board or belongs
// to the board's organization. Every lookup failure denies.
type Gate struct {
	store BoardStore
}

func NewGate(store BoardStore) *Gate {
	return &Gate{
		store: store,
	}
}

func (g *Gate) CanJoin(ctx context.Context, boardID string, userID string) bool {
	return g.Check(ctx, boardID, userID) == nil
}

// Check returns nil when the user may join, ErrBoardNotFound when the board
// does not exist, and ErrUnauthorized for every other outcome.
func (g *Gate) Check(ctx context.Context, boardID string, userID string) error {
	if boardID == "" || userID == "" {
		return ErrUnauthorized
	}
	board, err := g.store.Board(ctx, boardID)
	if err != nil {
		if errors.Is(err, ErrBoardNotFound) {
			return ErrBoardNotFound
		}
		glog.Infof("[authz]board %s lookup error = %s\n", boardID, err)
		return fmt.Errorf("%w: board lookup failed", ErrUnauthorized)
	}
	if board.CreatorID == userID {
		return nil
	}
	if board.OrganizationID == "" {
		return ErrUnauthorized
	}
	member, err := g.store.IsOrgMember(ctx, board.OrganizationID, userID)
	if err != nil {
		glog.Infof("[authz]org %s lookup error = %s\n", board.OrganizationID, err)
		return fmt.Errorf("%w: organization lookup failed", ErrUnauthorized)
	}
	if !member {
		return ErrUnauthorized
	}
	return nil
}
