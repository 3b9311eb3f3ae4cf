package main

import (
	"flag"
	"log"
	"os"

	"CascadeAdvisor/internal/di"
	"CascadeAdvisor/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s storage=%s audit=%s redis=%t prices=%t",
		cfg.Environment, cfg.Storage.Backend, cfg.Audit.Backend, cfg.Redis.Enabled, cfg.Prices.Enabled)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM.
	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
