package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newthinker/switchboard/internal/api"
	"github.com/newthinker/switchboard/internal/app"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost  string
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switchboard HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload providers when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	a, err := app.New(cfg, log.Named("app"))
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting app: %w", err)
	}

	if serveWatch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, func(next *config.Config) {
			if err := a.Reload(next); err != nil {
				log.Error("config reload failed", zap.Error(err))
			}
		}, log.Named("config"))
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server, err := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: metricsPath,
	}, api.Dependencies{
		Dispatcher: a.Dispatcher(),
		Checker:    a.Checker(),
		Poller:     a.Poller(),
		Catalog:    a.Catalog(),
		Tracker:    a.Tracker(),
		History:    a.History(),
		Jobs:       a.Jobs(),
		Metrics:    a.Metrics(),
	}, log.Named("api"))
	if err != nil {
		a.Stop()
		return fmt.Errorf("creating server: %w", err)
	}

	log.Info("starting switchboard server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("providers", len(a.Dispatcher().Providers())),
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	log.Info("shutting down switchboard server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := a.Stop(); err != nil {
		log.Error("app shutdown incomplete", zap.Error(err))
	}
	return runErr
}
