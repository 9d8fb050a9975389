// Command scanner wires together the detection pipeline, the
// asynchronous scan fabric, the reputation client, and the enforcement
// policy into the running core service, grounded on
// go-backend/cmd/server/main.go's construction order and graceful
// shutdown pattern from the teacher.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veil-scan/warden/internal/anomaly"
	"github.com/veil-scan/warden/internal/api"
	"github.com/veil-scan/warden/internal/config"
	"github.com/veil-scan/warden/internal/db"
	"github.com/veil-scan/warden/internal/eventbus"
	"github.com/veil-scan/warden/internal/fastevent"
	"github.com/veil-scan/warden/internal/nlp"
	"github.com/veil-scan/warden/internal/pipeline"
	"github.com/veil-scan/warden/internal/policy"
	"github.com/veil-scan/warden/internal/reputation"
	"github.com/veil-scan/warden/internal/server"
	"github.com/veil-scan/warden/internal/signature"
	"github.com/veil-scan/warden/internal/watcher"
	"github.com/veil-scan/warden/internal/worker"
)

func main() {
	cfg := config.Load()

	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Open(cfg.StorageDBPath)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	sigs := signature.Load(cfg.SignaturesDir)
	logger.Info("loaded signature rule sets", "version", sigs.Version)

	artifact, err := anomaly.Load(cfg.AnomalyModelPath, cfg.AnomalyModelURL, cfg.AnomalyModelSHA256)
	if err != nil {
		logger.Warn("anomaly artifact load failed, detector disabled", "err", err)
	}
	scorer := anomaly.NewScorer(artifact)

	nlpAnalyzer := nlp.NewAnalyzer(nlp.LoadDefault())

	repClient := reputation.NewClient(reputation.Config{
		BaseURL:      cfg.RepBaseURL,
		APIKey:       cfg.RepAPIKey,
		MaxRPM:       cfg.RepMaxRequestsPerMinute,
		PollInterval: time.Duration(cfg.RepPollIntervalS) * time.Second,
	}, store, logger)

	bus := eventbus.New(store, logger)

	pipe := pipeline.New(sigs, scorer, nlpAnalyzer, repClient, store, bus, logger)

	policyEngine := policy.NewEngine(policy.Mode(cfg.PolicyMode), cfg.PolicyMinSeverity, cfg.QuarantineDir)

	queue := watcher.NewQueue(cfg.QueueCapacity, logger)
	pool := worker.NewPool(cfg.MaxWorkers, queue, pipe, policyEngine, store, bus, logger)

	ingestor := fastevent.New(cfg.AgentToken, store, store, bus, queue, logger)

	handler := api.New(ingestor, bus, store, logger)
	router := api.NewRouter(handler)

	var fsWatcher *watcher.Watcher
	if len(cfg.WatchDirs) > 0 {
		fsWatcher, err = watcher.New(queue, bus, cfg.DebounceWindow, cfg.WatchRecursive, logger)
		if err != nil {
			logger.Error("failed to start filesystem watcher", "err", err)
			os.Exit(1)
		}
		for _, dir := range cfg.WatchDirs {
			if err := fsWatcher.AddRoot(dir); err != nil {
				logger.Error("failed to watch directory", "dir", dir, "err", err)
				continue
			}
			if err := watcher.Walk(queue, dir); err != nil {
				logger.Warn("initial directory walk failed", "dir", dir, "err", err)
			}
		}
	}

	go server.RunWithRecovery(ctx, logger, "event-bus", bus.Run)
	go pool.Run(ctx)
	if fsWatcher != nil {
		go server.RunWithRecovery(ctx, logger, "fs-watcher", fsWatcher.Run)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE needs unbounded write time
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("scanner starting", "addr", cfg.HTTPAddr, "policy_mode", cfg.PolicyMode, "workers", cfg.MaxWorkers)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("scanner stopped")
}
