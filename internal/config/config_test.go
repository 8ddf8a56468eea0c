package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestDefaults(t *testing.T) {
	for _, key := range []string{"ADDR", "PORT", "DATABASE_URL", "SQLITE_PATH", "SNAPSHOT_DEBOUNCE", "SNAPSHOT_TIMEOUT", "PEER_SYNC_TIMEOUT", "MDNS"} {
		t.Setenv(key, "")
	}
	c := Load()
	assert.Equal(t, c.Addr, ":8081")
	assert.Equal(t, c.Port(), 8081)
	assert.Equal(t, c.DatabaseURL, "")
	assert.Equal(t, c.SQLitePath, "data/collabdraw.db")
	assert.Equal(t, c.SnapshotDebounce, 500*time.Millisecond)
	assert.Equal(t, c.SnapshotTimeout, 5*time.Second)
	assert.Equal(t, c.PeerSyncTimeout, 3*time.Second)
	assert.Equal(t, c.SendBuffer, 256)
	assert.Equal(t, c.MDNS, false)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ADDR", "")
	t.Setenv("SNAPSHOT_DEBOUNCE", "2s")
	t.Setenv("PEER_SYNC_TIMEOUT", "250")
	t.Setenv("SEND_BUFFER", "not a number")
	t.Setenv("MDNS", "true")
	t.Setenv("JWT_SECRET", "secret")

	c := Load()
	assert.Equal(t, c.Addr, ":9000")
	assert.Equal(t, c.SnapshotDebounce, 2*time.Second)
	assert.Equal(t, c.PeerSyncTimeout, 250*time.Millisecond)
	assert.Equal(t, c.SendBuffer, 256)
	assert.Equal(t, c.MDNS, true)
	assert.Equal(t, c.JWTSecret, "secret")

	c.Addr = "localhost"
	assert.Equal(t, c.Port(), 0)
}
