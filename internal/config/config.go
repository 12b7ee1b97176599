package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logs "github.com/lilith645/Maat-Network/internal/logging"
)

// Engine selects how client connections are driven.
type Engine string

const (
	// EngineWorker runs a reader and a writer goroutine per connection.
	EngineWorker Engine = "worker"
	// EngineReactor runs every connection on one epoll loop (Linux only).
	EngineReactor Engine = "reactor"
)

const (
	DefaultListenAddr     = "0.0.0.0:6767"
	DefaultWSPath         = "/ws"
	DefaultNodeID         = "maat"
	DefaultReadChunkLimit = 64 * 1024
	DefaultPollTimeout    = 500 * time.Millisecond
	DefaultLogLevel       = "info"
)

var (
	ErrMissingListenAddr = errors.New("config: listen_addr is required")
	ErrInvalidAddr       = errors.New("config: invalid address")
	ErrInvalidEngine     = errors.New("config: engine must be worker or reactor")
	ErrInvalidWSPath     = errors.New("config: ws_path must start with /")
	ErrInvalidLimit      = errors.New("config: limit must not be negative")
	ErrInvalidLogLevel   = errors.New("config: unknown log_level")
	ErrUnknownFormat     = errors.New("config: unknown file format")
)

// Relay is the runtime configuration of one relay node.
type Relay struct {
	NodeID          string
	ListenAddr      string
	Engine          Engine
	WSListenAddr    string
	WSPath          string
	AdminListenAddr string
	CORSOrigins     []string
	MaxConnections  int
	ReadChunkLimit  int
	// PollTimeout bounds one reactor wait. Zero busy-polls; a negative value
	// waits until a socket is ready or the loop is woken.
	PollTimeout time.Duration
	LogLevel    string
}

func Default() Relay {
	return Relay{
		NodeID:         DefaultNodeID,
		ListenAddr:     DefaultListenAddr,
		Engine:         EngineWorker,
		WSPath:         DefaultWSPath,
		ReadChunkLimit: DefaultReadChunkLimit,
		PollTimeout:    DefaultPollTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// Validate checks cross-field rules. Optional listeners may be empty.
func (c Relay) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrMissingListenAddr
	}
	for key, addr := range map[string]string{
		"listen_addr":       c.ListenAddr,
		"ws_listen_addr":    c.WSListenAddr,
		"admin_listen_addr": c.AdminListenAddr,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidAddr, key, addr, err)
		}
	}
	switch c.Engine {
	case EngineWorker, EngineReactor:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEngine, c.Engine)
	}
	if c.WSListenAddr != "" && !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidWSPath, c.WSPath)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections=%d", ErrInvalidLimit, c.MaxConnections)
	}
	if c.ReadChunkLimit < 0 {
		return fmt.Errorf("%w: read_chunk_limit=%d", ErrInvalidLimit, c.ReadChunkLimit)
	}
	if _, ok := logs.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// ParseEngine normalises an engine name.
func ParseEngine(raw string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(raw))); e {
	case EngineWorker, EngineReactor:
		return e, nil
	case "":
		return EngineWorker, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEngine, raw)
	}
}
