package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk key mapping shared by the TOML and YAML loaders.
type fileConfig struct {
	NodeID          string   `toml:"node_id" yaml:"node_id"`
	ListenAddr      string   `toml:"listen_addr" yaml:"listen_addr"`
	Engine          string   `toml:"engine" yaml:"engine"`
	WSListenAddr    string   `toml:"ws_listen_addr" yaml:"ws_listen_addr"`
	WSPath          string   `toml:"ws_path" yaml:"ws_path"`
	AdminListenAddr string   `toml:"admin_listen_addr" yaml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	MaxConnections  int      `toml:"max_connections" yaml:"max_connections"`
	ReadChunkLimit  int      `toml:"read_chunk_limit" yaml:"read_chunk_limit"`
	PollTimeout     string   `toml:"poll_timeout" yaml:"poll_timeout"`
	LogLevel        string   `toml:"log_level" yaml:"log_level"`
}

// Load reads path over the defaults. The format follows the extension:
// .toml, or .yaml/.yml.
func Load(path string) (Relay, error) {
	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Relay{}, fmt.Errorf("load relay config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Relay{}, fmt.Errorf("load relay config: %w", err)
		}
		keys := map[string]any{}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Relay{}, fmt.Errorf("load relay config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Relay{}, fmt.Errorf("load relay config: %w", err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return Relay{}, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}

	cfg, err := overlay(Default(), raw, defined)
	if err != nil {
		return Relay{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Relay{}, fmt.Errorf("load relay config: %w", err)
	}
	return cfg, nil
}

func overlay(cfg Relay, raw fileConfig, defined func(string) bool) (Relay, error) {
	if defined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if defined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if defined("engine") {
		engine, err := ParseEngine(raw.Engine)
		if err != nil {
			return Relay{}, fmt.Errorf("load relay config: %w", err)
		}
		cfg.Engine = engine
	}
	if defined("ws_listen_addr") {
		cfg.WSListenAddr = strings.TrimSpace(raw.WSListenAddr)
	}
	if defined("ws_path") {
		cfg.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if defined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if defined("cors_origins") {
		cfg.CORSOrigins = trimAll(raw.CORSOrigins)
	}
	if defined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if defined("read_chunk_limit") {
		cfg.ReadChunkLimit = raw.ReadChunkLimit
	}
	if defined("poll_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollTimeout))
		if err != nil {
			return Relay{}, fmt.Errorf("load relay config: poll_timeout: %w", err)
		}
		cfg.PollTimeout = d
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
