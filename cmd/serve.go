package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/api"
	"github.com/sips-and-steals/crawler/internal/app"
	"github.com/sips-and-steals/crawler/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the scheduler loop",
		Long: `Starts the HTTP API for scheduling and status, then keeps the
scheduler loop running: new work arrives via POST /v1/schedule and a
fresh run starts whenever the queue has tasks.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           api.NewServer(a.Scheduler, a.Store, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	go runSchedulerLoop(ctx, a, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-errCh:
		return fmt.Errorf("http server: %w", serveErr)
	}

	a.Scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// runSchedulerLoop starts a scheduler run whenever the queue has work.
// Runs drain the queue and exit; the loop starts another when new tasks
// arrive through the API.
func runSchedulerLoop(ctx context.Context, a *app.App, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status := a.Scheduler.Status()
		if status.IsRunning || status.QueueSize == 0 {
			continue
		}
		report, err := a.Scheduler.Run(ctx)
		if err != nil {
			if !errors.Is(err, scheduler.ErrAlreadyRunning) {
				logger.Warn("scheduler run failed", zap.Error(err))
			}
			continue
		}
		logger.Info("scheduler run drained",
			zap.String("run_id", report.RunID),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("abandoned", report.Abandoned))
	}
}
