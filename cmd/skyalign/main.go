package main

import (
	"fmt"
	"os"

	"skyalign/internal/cli"
	"skyalign/internal/config"
	"skyalign/internal/logging"
	"skyalign/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	var store *storage.Store
	if cfg.Paths.DatabasePath != "" {
		store, err = storage.New(cfg.Paths.DatabasePath)
		if err != nil {
			log.Warn("job history disabled", "path", cfg.Paths.DatabasePath, "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	if err := cli.NewRootCmd(cfg, log, store).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
