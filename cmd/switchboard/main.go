package main

import (
	"fmt"
	"os"

	"github.com/newthinker/switchboard/internal/app"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/logger"
	"github.com/newthinker/switchboard/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard - LLM provider dispatch with priority failover",
	Long: `Switchboard sends chat requests to a prioritised list of LLM providers
(OpenAI, Claude, Gemini, Ollama and OpenAI-compatible servers), failing over
to the next provider on any error and tracking token usage and cost.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or falls back to defaults, and validates.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
		log.Warn("no config file specified, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// cliLogger is quiet unless --debug is set, so table output stays readable.
func cliLogger() *zap.Logger {
	if debug {
		return logger.Must(true)
	}
	return logger.Quiet()
}

// withApp builds the application for a one-shot command and stops it
// afterwards.
func withApp(cmd *cobra.Command, fn func(a *app.App, out *render.Renderer) error) error {
	format, err := render.ParseFormat(output)
	if err != nil {
		return err
	}

	log := cliLogger()
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	// Stop flushes usage, so restore the stored snapshot first.
	if err := a.Tracker().Load(cmd.Context()); err != nil {
		a.Stop()
		return err
	}

	runErr := fn(a, render.New(cmd.OutOrStdout(), format))
	if err := a.Stop(); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}
