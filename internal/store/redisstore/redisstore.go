package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"collabdraw/internal/snapshot"
	"collabdraw/internal/store"
)

const keyPrefix = "collabdraw:snapshot:"

func Key(boardID string) string {
	return keyPrefix + boardID
}

// Store keeps board snapshots as JSON values. A zero ttl keeps them forever.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// Open connects to addr with backoff.
func Open(ctx context.Context, addr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	err := store.Retry(ctx, "redis", func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	glog.Infof("[redis]connected %s\n", addr)
	return New(client, ttl), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string) (*snapshot.Snapshot, error) {
	data, err := s.client.Get(ctx, Key(boardID)).Bytes()
	if errors.Is(err, redis.Nil) {
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
	return s.client.Set(ctx, Key(boardID), data, s.ttl).Err()
}
