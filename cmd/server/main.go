package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VinMeld/go-dm/internal/config"
	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/logging"
	"github.com/VinMeld/go-dm/internal/server"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dm-server",
	Short: "Ephemeral direct messaging server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket fanout and expiry janitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, logger, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := srv.Start(ctx); err != nil {
			logger.Error("Server failed", "error", err)
			return err
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		srv, logger, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		// Workers deliver the expiry events, through Redis when configured.
		srv.RunWorkers(ctx)
		report, err := srv.Janitor.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("Sweep finished", "messages", report.Messages, "blobs", report.Blobs, "read_statuses", report.ReadStatuses)
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d messages, %d files and %d read statuses\n", report.Messages, report.Blobs, report.ReadStatuses)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new base64 message key for crypto.messageKey",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

func setup(ctx context.Context) (*server.Server, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, flush, err := logging.Setup(logging.Options{
		Development: cfg.Logger.Development,
		Level:       cfg.Logger.Level,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		flush()
		return nil, nil, nil, fmt.Errorf("failed to init server: %w", err)
	}
	return srv, logger, func() {
		if err := srv.Close(); err != nil {
			logger.Warn("Close failed", "error", err)
		}
		flush()
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (DM_* environment variables override it)")
	rootCmd.AddCommand(serveCmd, sweepCmd, keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
