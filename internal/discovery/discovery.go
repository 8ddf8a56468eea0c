package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

const Service = "_collabdraw._tcp"
const Domain = "local."

var ErrNotFound = errors.New("no server found")

// Advertisement is a registered mDNS service. Shutdown withdraws it.
type Advertisement struct {
	server *zeroconf.Server
}

func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// Advertise announces a relay listening on port.
func Advertise(port int) (*Advertisement, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("collabdraw-%s", host),
		Service,
		Domain,
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns: %w", err)
	}
	glog.Infof("[discovery]advertising %s on port %d\n", Service, port)
	return &Advertisement{server: server}, nil
}

// Find browses for a relay until ctx is done and returns the websocket url
// of the first one that answers.
func Find(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if url, ok := EntryURL(entry); ok {
				glog.Infof("[discovery]found %s at %s\n", entry.Instance, url)
				return url, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// EntryURL builds the websocket url an entry advertises.
func EntryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if len(entry.AddrIPv4) == 0 {
		return "", false
	}
	path := "/ws"
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "path="); ok {
			path = v
		}
	}
	return fmt.Sprintf("ws://%s:%d%s", entry.AddrIPv4[0], entry.Port, path), true
}
