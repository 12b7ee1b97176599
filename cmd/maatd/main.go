package main

import (
	"errors"
	"fmt"
	"os"

	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/node"
	"github.com/lilith645/Maat-Network/internal/server"
	flag "github.com/spf13/pflag"
)

func main() {
	logs.ConfigureRuntime()

	cfg, err := buildConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "maatd: %v\n", err)
		os.Exit(2)
	}
	logs.SetLevel(cfg.LogLevel)

	svc := server.NewService(cfg)
	logs.Infof("maatd starting node=%s engine=%s listen=%q", node.Describe(svc), cfg.Engine, cfg.ListenAddr)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "maatd: %v\n", err)
		os.Exit(1)
	}
}
