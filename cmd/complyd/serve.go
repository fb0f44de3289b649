package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"complyd/internal/platform/httpserver"
	"complyd/internal/policy/catalogfile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation HTTP API",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if err := a.validation.StartRetention(ctx, cfg.Validation.RetentionSchedule); err != nil {
		return err
	}
	if path := cfg.Policy.CatalogPath; path != "" && cfg.Policy.WatchCatalog {
		go func() {
			err := catalogfile.Watch(ctx, path, log, func(c catalogfile.Catalog) {
				a.reloadCatalog(ctx, c)
			})
			if err != nil {
				log.Error("policy catalog watch stopped", "path", path, "error", err)
			}
		}()
	}

	srv := httpserver.New(cfg.Server.Addr, newRouter(a))
	runErr := httpserver.Run(ctx, srv, log, cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.validation.Shutdown(shutdownCtx); err != nil {
		log.Warn("validation runs still in flight at shutdown", "error", err)
	}
	return runErr
}
