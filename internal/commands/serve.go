package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/metrics"
	"github.com/JonMunkholm/finimport/internal/schema"
	"github.com/JonMunkholm/finimport/internal/store/postgres"
	"github.com/JonMunkholm/finimport/internal/web"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the import HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before serving")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg.String())

	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("connected to database", "max_conns", cfg.Database.MaxConns)

	store := postgres.New(pool)
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		slog.Info("database schema applied")
	}

	registry, err := schema.Load(cfg.Import.SchemaFile)
	if err != nil {
		return err
	}
	slog.Info("schemas registered", "entities", registry.Entities())

	recorder := metrics.New()
	service := core.NewService(store, store, registry, serviceOptions(cfg, recorder))
	server := web.NewServer(service, cfg, recorder.Handler())

	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	if err := service.StartRunSweeper(jobCtx, cfg.Import.SweepSchedule); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-sigCtx.Done():
	}

	slog.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if status := service.Guard().Status(); status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
		if err := service.Guard().WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
