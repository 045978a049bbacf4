package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build booking core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	queue, jobs := bootstrap.BuildTurnQueue(cfg, awsCfg, logger)
	worker := setupInlineWorker(ctx, core, queue, jobs, logger)
	startBackground(ctx, core, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      core.NewRouter(queue, jobs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupInlineWorker runs the chat turn consumer in-process when the turn
// queue lives in memory. It returns nil otherwise.
func setupInlineWorker(ctx context.Context, core *bootstrap.Core, queue conversation.Queue, jobs bootstrap.JobStore, logger *logging.Logger) *conversation.Worker {
	if !bootstrap.UsesMemoryQueue(queue) {
		return nil
	}
	worker := core.NewWorker(queue, jobs)
	worker.Start(ctx)
	logger.Info("inline conversation worker started", "workers", core.Config.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *conversation.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline conversation worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("inline conversation worker did not stop in time")
	}
}

// startBackground launches the session sweeper and, when configured, the
// reminder dispatcher and outbox deliverer.
func startBackground(ctx context.Context, core *bootstrap.Core, logger *logging.Logger) {
	go core.NewSweeper().Run(ctx)

	if !core.Config.InlineSchedulers {
		return
	}
	core.NewReminderDispatcher().Start(ctx)
	go core.NewOutboxDeliverer().Start(ctx)
	logger.Info("inline reminder and outbox schedulers started")
}
