package main

import (
	"flag"
	"fmt"
	"os"

	"Genesis/internal/di"
	"Genesis/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	validateOnly := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	if err := run(*configPath, *validateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "genesis: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, validateOnly bool) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if validateOnly {
		fmt.Printf("config ok: env=%s storage=%s market_data=%s broker=%s\n",
			cfg.Environment, cfg.Storage.Backend, cfg.MarketData.Source, cfg.Broker.Transport)
		return nil
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()
	return app.Run()
}
