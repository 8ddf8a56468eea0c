package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the server's configuration, read from the environment. Command
// line options override it in main.
type Config struct {
	Addr string

	// boards and users live in postgres when DatabaseURL is set, else sqlite
	DatabaseURL string
	SQLitePath  string
	// snapshots go to redis, then bolt, then the board database
	RedisAddr string
	RedisTTL  time.Duration
	BoltPath  string

	// empty means anonymous mode
	JWTSecret string

	SnapshotDebounce time.Duration
	SnapshotTimeout  time.Duration
	PeerSyncTimeout  time.Duration

	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int

	MDNS bool
}

func Load() *Config {
	return &Config{
		Addr:             getEnv("ADDR", ":"+getEnv("PORT", "8081")),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "data/collabdraw.db"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisTTL:         getEnvAsDuration("REDIS_TTL", 0),
		BoltPath:         getEnv("BOLT_PATH", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		SnapshotDebounce: getEnvAsDuration("SNAPSHOT_DEBOUNCE", 500*time.Millisecond),
		SnapshotTimeout:  getEnvAsDuration("SNAPSHOT_TIMEOUT", 5*time.Second),
		PeerSyncTimeout:  getEnvAsDuration("PEER_SYNC_TIMEOUT", 3*time.Second),
		SendBuffer:       getEnvAsInt("SEND_BUFFER", 256),
		PingInterval:     getEnvAsDuration("PING_INTERVAL", 30*time.Second),
		PongWait:         getEnvAsDuration("PONG_WAIT", 60*time.Second),
		WriteWait:        getEnvAsDuration("WRITE_WAIT", 10*time.Second),
		MaxMessageBytes:  getEnvAsInt("MAX_MESSAGE_BYTES", 4*1024*1024),
		MDNS:             getEnvAsBool("MDNS", false),
	}
}

// Port is the numeric port of Addr, or 0.
func (c *Config) Port() int {
	i := strings.LastIndex(c.Addr, ":")
	if i < 0 {
		return 0
	}
	port, err := strconv.Atoi(c.Addr[i+1:])
	if err != nil {
		return 0
	}
	return port
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// durations are Go duration strings, or whole milliseconds
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}
