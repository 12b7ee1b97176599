package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lilith645/Maat-Network/internal/config"
	logs "github.com/lilith645/Maat-Network/internal/logging"
	flag "github.com/spf13/pflag"
)

const defaultTarget = "cmd/maatd/config.toml"

func main() {
	logs.ConfigureRuntime()

	format := flag.String("format", "", "template format: toml|yaml (defaults to the output extension)")
	output := flag.StringP("output", "o", defaultTarget, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.StringP("input", "i", defaultTarget, "config path for validation")
	force := flag.BoolP("force", "f", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			logs.Errf("configgen.validate path=%q err=%v", *input, err)
			os.Exit(1)
		}
		logs.Infof("configgen.validate ok path=%q listen_addr=%q engine=%s", *input, cfg.ListenAddr, cfg.Engine)
		return
	}

	kind := *format
	if kind == "" {
		kind = strings.TrimPrefix(filepath.Ext(*output), ".")
	}
	if err := config.WriteTemplate(*output, kind, *force); err != nil {
		logs.Errf("configgen.write path=%q err=%v", *output, err)
		os.Exit(1)
	}
	logs.Infof("configgen.write format=%s path=%q", kind, *output)
}
