package main

import (
	"log"
	"os"

	"runforge/internal/api"
	"runforge/internal/config"
	"runforge/internal/engine"
	"runforge/internal/provider"
	"runforge/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("runforge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"provider_url", cfg.ProviderURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	compute := provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderKey, logger,
		provider.WithCallTimeout(cfg.ProviderTimeout),
	)

	eng := engine.NewEngine(db, db, compute, logger)
	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
