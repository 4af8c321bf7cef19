// Command ferrite runs the media server: library scanning, metadata
// enrichment and adaptive streaming behind one HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/modules/enrichmentmodule"
	"github.com/ferrite-media/ferrite/internal/modules/playbackmodule"
	"github.com/ferrite-media/ferrite/internal/modules/scannermodule"
	"github.com/ferrite-media/ferrite/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ferrite:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "ferrite.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	for _, dir := range []string{
		cfg.Database.DataDir,
		cfg.HLSDir(),
		cfg.ImageCacheDir(),
		cfg.SubtitleCacheDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	enricher := enrichmentmodule.NewEnricher(db, cfg)
	scannerMgr := scannermodule.NewManager(db, cfg, bus, enricher.EnrichLibrary)
	playbackMgr := playbackmodule.NewManager(db, cfg, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scannerMgr.Start(ctx); err != nil {
		return err
	}
	playbackMgr.Start()

	srv := server.New(cfg, db, bus, scannerMgr, playbackMgr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	playbackMgr.Shutdown()
	scannerMgr.Stop()
	cancel()
	logger.Info("goodbye")
	return nil
}
