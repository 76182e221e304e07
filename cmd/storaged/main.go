// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copperd/copper/internal/admin"
	"github.com/copperd/copper/internal/config"
	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/obs"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{Use: "storaged", Short: "item-database and job-queue storage daemon"}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version and exit",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	})
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(runCmd(&configPath))
	root.AddCommand(sweepStuckCmd(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	return db, nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the jobqueue and item-database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := admin.Bootstrap(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "serve health and metrics for the storage tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := obs.NewLogger(cfg.Observability.LogLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := obs.StartHTTPServer(cfg, func(c context.Context) error { return db.PingContext(c) })
			defer func() { _ = srv.Shutdown(context.Background()) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
			return nil
		},
	}
}

func sweepStuckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-stuck",
		Short: "run the stuck-job reaper once and print the ids it marked Failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			ids, err := admin.SweepStuck(cmd.Context(), jobqueue.New(db), cfg.Queue.HeartbeatTimeout)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
