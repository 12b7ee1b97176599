package client

import (
	"math"
	"math/rand"
	"time"

	"github.com/lilith645/Maat-Network/internal/protocol"
)

// BackoffConfig defines dial retry behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config describes how a client reaches a relay. Addr is either host:port for
// raw TCP or a ws:// or wss:// URL.
type Config struct {
	Addr           string
	Encoding       protocol.Encoding
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	DialAttempts   int
	Backoff        BackoffConfig
	InboxSize      int
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:6767",
		Encoding:       protocol.EncodingTLV,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   15 * time.Second,
		DialAttempts:   5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		InboxSize: 64,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 1
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
