// Package main is the entry point for creditd, the credit ledger and
// settlement service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/torresproject/creditd/bootstrap"
	"github.com/torresproject/creditd/config"
	"github.com/torresproject/creditd/web"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "creditd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	hotReload := flag.Bool("hot-reload", true, "Enable hot reload of configuration")
	flag.Parse()

	if *showVersion {
		fmt.Printf("creditd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Database: %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
		fmt.Printf("  Gateway mode: %s\n", cfg.Gateway.Mode)
		fmt.Printf("  Packs: %d\n", len(cfg.Packs))
		fmt.Printf("  Operators: %d\n", len(cfg.Settlement.OperatorEmails))
		os.Exit(0)
	}

	web.Version = version

	var a *bootstrap.App
	var err error

	if *hotReload {
		a, err = bootstrap.NewWithHotReload(*configPath)
	} else {
		cfg, loadErr := config.LoadWithFallback(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", loadErr)
			os.Exit(1)
		}
		a, err = bootstrap.New(cfg)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
