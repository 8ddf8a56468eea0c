package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"collabdraw/internal/protocol"
	"collabdraw/internal/snapshot"
)

var ErrRejected = errors.New("join rejected")

type Settings struct {
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	ReconnectMaxInterval time.Duration
	MirrorTimeout        time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectMaxInterval: 30 * time.Second,
		MirrorTimeout:        5 * time.Second,
	}
}

// Client is a headless member of one board. It keeps a replica of the board,
// mirrors it to a local store, answers the room's requests for its copy, and
// reconnects until its context ends or the room rejects it.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	boardID  string
	userID   string
	token    string
	replica  *Replica
	mirror   snapshot.Store
	settings *Settings

	joined chan struct{}
}

func NewClientWithDefaults(ctx context.Context, url string, boardID string, userID string, token string, mirror snapshot.Store) *Client {
	return NewClient(ctx, url, boardID, userID, token, mirror, DefaultSettings())
}

// mirror may be nil.
func NewClient(ctx context.Context, url string, boardID string, userID string, token string, mirror snapshot.Store, settings *Settings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		boardID:  boardID,
		userID:   userID,
		token:    token,
		replica:  NewReplica(),
		mirror:   mirror,
		settings: settings,
		joined:   make(chan struct{}),
	}
}

func (c *Client) Replica() *Replica {
	return c.replica
}

// Joined is closed the first time the room accepts the client.
func (c *Client) Joined() <-chan struct{} {
	return c.joined
}

func (c *Client) Close() {
	c.cancel()
}

// Run seeds the replica from the mirror and stays connected until the
// context ends or the room rejects the join.
func (c *Client) Run() error {
	c.seed()

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.settings.ReconnectMaxInterval
	policy.MaxElapsedTime = 0

	for {
		joined, err := c.connect()
		if errors.Is(err, ErrRejected) {
			return err
		}
		if c.ctx.Err() != nil {
			return nil
		}
		if joined {
			policy.Reset()
		}
		wait := policy.NextBackOff()
		glog.Infof("[client]%s disconnected, retry in %s = %s\n", c.boardID, wait, err)
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) seed() {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.settings.MirrorTimeout)
	defer cancel()
	snap, err := c.mirror.GetSnapshot(ctx, c.boardID)
	if err != nil {
		glog.Infof("[client]%s mirror read = %s\n", c.boardID, err)
		return
	}
	if snap != nil {
		c.replica.Seed(snap)
		glog.Infof("[client]%s seeded %d elements from mirror\n", c.boardID, len(snap.Elements))
	}
}

func (c *Client) save() {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.settings.MirrorTimeout)
	defer cancel()
	snap := c.replica.Snapshot()
	snap.SavedAt = time.Now()
	if err := c.mirror.PutSnapshot(ctx, c.boardID, snap); err != nil {
		glog.Infof("[client]%s mirror write = %s\n", c.boardID, err)
	}
}

// connect runs one connection. joined reports whether the room accepted it.
func (c *Client) connect() (joined bool, err error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: c.settings.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(c.ctx, c.url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	send := func(msg *protocol.Message) error {
		frame, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	if err := send(&protocol.Message{Type: protocol.TypeJoin, BoardID: c.boardID, UserID: c.userID}); err != nil {
		return false, err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return joined, err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			glog.V(1).Infof("[client]%s drop frame = %s\n", c.boardID, err)
			continue
		}

		switch msg.Type {
		case protocol.TypeJoinAccepted:
			if !joined {
				joined = true
				select {
				case <-c.joined:
				default:
					close(c.joined)
				}
			}
			glog.Infof("[client]%s joined as %s\n", c.boardID, msg.UserID)
		case protocol.TypeJoinRejected:
			return false, fmt.Errorf("%w: %s", ErrRejected, msg.Reason)
		case protocol.TypeRequestCanvasState:
			err = send(&protocol.Message{
				Type:    protocol.TypeSendCanvasState,
				BoardID: c.boardID,
				State:   c.replica.CanvasState(),
			})
		default:
			changed, pending := c.replica.Apply(msg)
			if changed {
				c.save()
			}
			if pending {
				// the room came up empty, offer the local copy
				glog.Infof("[client]%s restore %d elements to the room\n", c.boardID, c.replica.Len())
				err = send(&protocol.Message{
					Type:     protocol.TypeFullSync,
					BoardID:  c.boardID,
					Document: c.replica.CanvasState(),
				})
			}
		}
		if err != nil {
			return joined, err
		}
	}
}
