package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/lilith645/Maat-Network/internal/config"
	flag "github.com/spf13/pflag"
)

const defaultConfigPath = "cmd/maatd/config.toml"

// maatd flags. Any flag set on the command line wins over the config file.
type cliFlags struct {
	configPath     string
	listen         string
	engine         string
	wsListen       string
	wsPath         string
	adminListen    string
	nodeID         string
	corsOrigins    []string
	maxConnections int
	pollTimeout    time.Duration
	logLevel       string
}

func newFlagSet(f *cliFlags) *flag.FlagSet {
	set := flag.NewFlagSet("maatd", flag.ContinueOnError)
	set.StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to a toml or yaml config file")
	set.StringVarP(&f.listen, "listen", "l", "", "relay listen address")
	set.StringVarP(&f.engine, "engine", "e", "", "connection engine: worker|reactor")
	set.StringVar(&f.wsListen, "ws-listen", "", "websocket listen address (empty disables)")
	set.StringVar(&f.wsPath, "ws-path", "", "websocket upgrade path")
	set.StringVar(&f.adminListen, "admin-listen", "", "admin http listen address (empty disables)")
	set.StringVar(&f.nodeID, "node-id", "", "node id used in logs and metrics")
	set.StringSliceVar(&f.corsOrigins, "cors-origin", nil, "allowed browser origin (repeatable)")
	set.IntVar(&f.maxConnections, "max-connections", 0, "client connection limit (0 is unbounded)")
	set.DurationVar(&f.pollTimeout, "poll-timeout", 0, "reactor poll timeout (0 busy-polls, negative waits for a wake)")
	set.StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
	return set
}

// buildConfig loads the config file, if present, and applies flag overrides.
// A missing file is only an error when --config was given explicitly.
func buildConfig(args []string) (config.Relay, error) {
	var f cliFlags
	set := newFlagSet(&f)
	if err := set.Parse(args); err != nil {
		return config.Relay{}, err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || set.Changed("config") {
			return config.Relay{}, err
		}
		cfg = config.Default()
	}

	if set.Changed("listen") {
		cfg.ListenAddr = strings.TrimSpace(f.listen)
	}
	if set.Changed("engine") {
		engine, err := config.ParseEngine(f.engine)
		if err != nil {
			return config.Relay{}, err
		}
		cfg.Engine = engine
	}
	if set.Changed("ws-listen") {
		cfg.WSListenAddr = strings.TrimSpace(f.wsListen)
	}
	if set.Changed("ws-path") {
		cfg.WSPath = strings.TrimSpace(f.wsPath)
	}
	if set.Changed("admin-listen") {
		cfg.AdminListenAddr = strings.TrimSpace(f.adminListen)
	}
	if set.Changed("node-id") {
		cfg.NodeID = strings.TrimSpace(f.nodeID)
	}
	if set.Changed("cors-origin") {
		cfg.CORSOrigins = f.corsOrigins
	}
	if set.Changed("max-connections") {
		cfg.MaxConnections = f.maxConnections
	}
	if set.Changed("poll-timeout") {
		cfg.PollTimeout = f.pollTimeout
	}
	if set.Changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(f.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Relay{}, fmt.Errorf("maatd config: %w", err)
	}
	return cfg, nil
}
