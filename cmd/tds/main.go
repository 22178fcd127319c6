// Package main is the entry point for the tds CLI. tds matches questions
// against the assignment corpus and resolves the input file each handler
// needs, from uploads, links, known folders or loose names.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/algsoch/data-science-tool/internal/config"
	"github.com/algsoch/data-science-tool/internal/engine"
	"github.com/algsoch/data-science-tool/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	jsonOut bool
	cfg     *config.Config
	log     = logging.Nop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tds",
		Short: "tds - question matching and input-file resolution",
		Long: `tds routes a free-text question to the handler that answers it and
finds the file that handler needs:
  • Exact, override, pattern, keyword and similarity matching
  • Uploads, links (Drive, Dropbox, GitHub, S3, SharePoint), recent files
  • Known files, loose names and category folders
  • ZIP extraction into tracked temp directories

Answer a question:   tds answer "Download and unzip q-extract-csv-zip.zip ..."
Resolve a file:      tds resolve GA1/q-extract-csv-zip.zip
Configuration:       tds config show`,
		PersistentPreRunE: initLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Close()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.tds/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tds v%s\n", version)
		},
	})

	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(corpusCmd())
	rootCmd.AddCommand(uploadsCmd())
	rootCmd.AddCommand(signatureCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(metricsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogging loads the configuration and sets up the logger before any
// command runs.
func initLogging(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	l, err := logging.New(logging.Config{Level: level, File: cfg.Logging.File})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log = l
	log.Debug().Str("config", getConfigPath()).Str("command", cmd.CommandPath()).Msg("starting")
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

// openEngine builds an engine from the loaded configuration. The returned
// cleanup closes it.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(ctx, cfg, engine.WithLogger(log.Logger))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			log.Warn().Err(err).Msg("engine cleanup failed")
		}
	}
	return eng, cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func logger() zerolog.Logger {
	return log.Logger
}
