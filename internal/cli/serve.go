package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/source"
	"github.com/JonMunkholm/kbimport/internal/storage"
	"github.com/JonMunkholm/kbimport/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		Long: `Serves the import API on SERVER_HOST:SERVER_PORT. Imports started through
POST /api/imports run in the background, at most IMPORT_MAX_CONCURRENT at once.
On SIGINT or SIGTERM running imports are cancelled and the server drains.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	attrs := []any{"driver", store.Driver()}
	if cfg.Database.Driver == config.DriverPostgres {
		attrs = append(attrs, "name", storage.DatabaseName(cfg.Database.URL))
	}
	slog.Info("connected to database", attrs...)

	service := core.NewService(store, core.ServiceConfig{
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
	})
	resolver := source.NewResolver(cfg.Source)
	server := web.NewServer(service, store, resolver.Opener, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if status := service.LimiterStatus(); status.Active > 0 {
		slog.Info("cancelling running imports", "active", status.Active)
		service.CancelAll()
		if err := service.WaitForImports(shutdownCtx); err != nil {
			slog.Warn("imports did not stop in time", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
