package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"formsmith/internal/config"
	"formsmith/internal/logging"
	"formsmith/internal/server"
	"formsmith/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "formsmith",
	Short: "Self-hosted form builder with a schema-driven admin, public forms, and a JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	// Edits to the config file adjust the log level without a restart.
	if err := logger.WatchConfig(configPath); err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
	}

	storage, err := store.Open(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.JSONPath)
	if err != nil {
		return err
	}
	defer storage.Close()

	srv, err := server.New(cfg, storage, logger.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("addr", cfg.Addr()),
		zap.String("backend", cfg.Storage.Backend))
	return srv.Run(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "formsmith.yaml", "path to the config file")
	rootCmd.AddCommand(serveCmd, initCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
