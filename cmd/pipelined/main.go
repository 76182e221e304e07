// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copperd/copper/internal/admin"
	"github.com/copperd/copper/internal/blobstore"
	"github.com/copperd/copper/internal/breaker"
	"github.com/copperd/copper/internal/config"
	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/nodes/audio"
	"github.com/copperd/copper/internal/nodes/storage"
	"github.com/copperd/copper/internal/nodes/util"
	"github.com/copperd/copper/internal/obs"
	"github.com/copperd/copper/internal/pipeline"
	"github.com/copperd/copper/internal/plan"
	"github.com/copperd/copper/internal/redisclient"
	"github.com/copperd/copper/internal/runtime"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{Use: "pipelined", Short: "pipeline runner daemon"}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version and exit",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	})
	root.AddCommand(runCmd(&configPath))
	root.AddCommand(statsCmd(&configPath))
	root.AddCommand(peekCmd(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRegistry() (*dispatch.Registry, error) {
	r := dispatch.NewRegistry()
	if err := util.Register(r); err != nil {
		return nil, fmt.Errorf("registering util nodes: %w", err)
	}
	if err := storage.Register(r); err != nil {
		return nil, fmt.Errorf("registering storage nodes: %w", err)
	}
	if err := audio.Register(r); err != nil {
		return nil, fmt.Errorf("registering audio nodes: %w", err)
	}
	return r, nil
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

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "claim and run jobs until terminated",
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

			tp, err := obs.MaybeInitTracing(cfg)
			if err != nil {
				logger.Warn("tracing init failed", obs.Err(err))
			}
			if tp != nil {
				defer func() { _ = tp.Shutdown(context.Background()) }()
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			q := jobqueue.New(db)

			registry, err := buildRegistry()
			if err != nil {
				return err
			}

			cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod,
				cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
			rdb := redisclient.New(cfg)
			defer rdb.Close()
			limiter := redisclient.NewRateLimiter(rdb, cfg.RateLimit.KeyPrefix, cfg.RateLimit.UploadPartPerSecond)
			store, err := blobstore.New(blobstore.Config{
				Bucket: cfg.S3.Bucket, Region: cfg.S3.Region,
				AccessKeyID: cfg.S3.AccessKeyID, SecretAccessKey: cfg.S3.SecretAccessKey,
				Endpoint: cfg.S3.Endpoint, KeyPrefix: cfg.S3.KeyPrefix,
				PartSizeLimit: cfg.S3.PartSizeLimit, PendingExpiry: cfg.S3.PendingExpiry,
				CompletedExpiry: cfg.S3.CompletedExpiry,
			}, logger, cb, limiter)
			if err != nil {
				return fmt.Errorf("initializing blobstore: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
				cancel()
				select {
				case sig2 := <-sigCh:
					logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
					os.Exit(1)
				case <-time.After(5 * time.Second):
				}
			}()

			httpSrv := obs.StartHTTPServer(cfg, func(c context.Context) error { return db.PingContext(c) })
			defer func() { _ = httpSrv.Shutdown(context.Background()) }()

			reaper := &jobqueue.Reaper{Queue: q, Interval: cfg.Queue.ReaperInterval, Timeout: cfg.Queue.HeartbeatTimeout, Logger: logger}
			go reaper.Run(ctx)

			runWorkerLoop(ctx, cfg, q, db, registry, store, logger)
			return nil
		},
	}
}

// runWorkerLoop claims and runs jobs one at a time until ctx is cancelled,
// polling with a short backoff when the queue is empty. Grounded on the
// teacher's internal/worker poll loop, generalized from a Redis BRPOPLPUSH
// wait to a ClaimNext poll against Postgres.
func runWorkerLoop(ctx context.Context, cfg *config.Config, q *jobqueue.Queue, db *sql.DB, registry *dispatch.Registry, store *blobstore.Store, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.ClaimNext(ctx)
		if err != nil {
			logger.Error("claiming next job failed", obs.Err(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		spanCtx, span := obs.ContextWithJobSpan(ctx, job)
		runJob(spanCtx, cfg, q, db, registry, store, job, logger)
		span.End()
	}
}

func runJob(ctx context.Context, cfg *config.Config, q *jobqueue.Queue, db *sql.DB, registry *dispatch.Registry, store *blobstore.Store, job *jobqueue.QueuedJob, logger *zap.Logger) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		ticker := time.NewTicker(cfg.Queue.HeartbeatTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				_ = q.Heartbeat(hbCtx, job.ID)
			}
		}
	}()

	doc, err := pipeline.ParsePipeline(job.PipelineDoc)
	if err != nil {
		finishBuildError(ctx, q, job, err, logger)
		return
	}
	graph, err := pipeline.Validate(doc, registry)
	if err != nil {
		finishBuildError(ctx, q, job, err, logger)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("beginning job transaction failed", obs.String("job_id", job.ID), obs.Err(err))
		_ = q.Finish(ctx, job.ID, jobqueue.Outcome{State: jobqueue.Failed, Message: err.Error()})
		return
	}

	rc := &dispatch.RunContext{
		JobID: job.ID, OwnerID: job.Owner,
		Tx: tx, TxMu: &sync.Mutex{}, ObjectRead: store,
	}
	p, err := plan.Build(graph, registry, job.Input, rc, cfg.Scheduler.EdgeBufferSize)
	if err != nil {
		_ = tx.Rollback()
		finishBuildError(ctx, q, job, err, logger)
		return
	}

	outcome, err := runtime.Run(ctx, p, rc, cfg.Scheduler.GraceWindow)
	if err != nil {
		logger.Error("runtime.Run returned an unexpected error", obs.String("job_id", job.ID), obs.Err(err))
	}

	result := jobqueue.Outcome{State: jobqueue.Success}
	if outcome.State != runtime.Success {
		result = jobqueue.Outcome{State: jobqueue.Failed, Message: outcome.Err.Error()}
		obs.RecordError(ctx, outcome.Err)
	} else {
		obs.SetSpanSuccess(ctx)
	}
	if err := q.Finish(ctx, job.ID, result); err != nil {
		logger.Error("finishing job failed", obs.String("job_id", job.ID), obs.Err(err))
	}
}

func finishBuildError(ctx context.Context, q *jobqueue.Queue, job *jobqueue.QueuedJob, buildErr error, logger *zap.Logger) {
	obs.RecordError(ctx, buildErr)
	if err := q.Finish(ctx, job.ID, jobqueue.Outcome{State: jobqueue.BuildError, Message: buildErr.Error()}); err != nil {
		logger.Error("finishing build-errored job failed", obs.String("job_id", job.ID), obs.Err(err))
	}
}

func statsCmd(configPath *string) *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "print job counts for an owner",
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
			res, err := admin.Stats(cmd.Context(), jobqueue.New(db), owner)
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id")
	return cmd
}

func peekCmd(configPath *string) *cobra.Command {
	var owner int64
	var skip, count int
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "list an owner's recent jobs",
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
			res, err := admin.Peek(cmd.Context(), jobqueue.New(db), owner, skip, count)
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id")
	cmd.Flags().IntVar(&skip, "skip", 0, "jobs to skip")
	cmd.Flags().IntVar(&count, "count", 10, "jobs to return")
	return cmd
}
