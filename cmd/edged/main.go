// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/copperd/copper/internal/blobstore"
	"github.com/copperd/copper/internal/breaker"
	"github.com/copperd/copper/internal/config"
	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/obs"
	"github.com/copperd/copper/internal/redisclient"
	"github.com/copperd/copper/internal/wire"
)

var version = "dev"

// edgeAPI wires the thin HTTP shim described by SPEC_FULL.md: it decodes
// wire types, calls straight into jobqueue/blobstore, and maps the result
// through wire.MapError. It performs no auth of its own — whatever sits in
// front of this process (spec.md §7) is expected to have authenticated the
// caller and attached an owner id header by the time a request reaches here.
type edgeAPI struct {
	queue *jobqueue.Queue
	store *blobstore.Store
	log   *zap.Logger
}

const ownerHeader = "X-Copper-Owner"

func ownerFromRequest(r *http.Request) (int64, error) {
	v := r.Header.Get(ownerHeader)
	if v == "" {
		return 0, fmt.Errorf("missing %s header", ownerHeader)
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status, body := wire.MapError(err)
	writeJSON(w, status, body)
}

func (a *edgeAPI) submitJob(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "missing_owner", Message: err.Error()})
		return
	}
	var req wire.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "malformed_body", Message: err.Error()})
		return
	}

	ctx, span := obs.StartEnqueueSpan(r.Context(), owner)
	defer span.End()
	traceID, spanID := obs.GetTraceAndSpanID(ctx)

	id, err := a.queue.Enqueue(ctx, owner, req.Pipeline, req.Input, traceID, spanID)
	if err != nil {
		obs.RecordError(ctx, err)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, wire.SubmitJobResponse{JobID: id})
}

func (a *edgeAPI) jobState(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "missing_owner", Message: err.Error()})
		return
	}
	id := r.PathValue("id")
	job, err := a.queue.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if job.Owner != owner {
		writeErr(w, jobqueue.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wire.JobState(job))
}

func (a *edgeAPI) startUpload(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "missing_owner", Message: err.Error()})
		return
	}
	var req wire.StartUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "malformed_body", Message: err.Error()})
		return
	}
	id, limit, err := a.store.NewJob(r.Context(), owner, req.Mime)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.StartUploadResponse{JobID: id, RequestBodyLimit: limit})
}

func (a *edgeAPI) uploadPart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "missing_owner", Message: err.Error()})
		return
	}
	id := r.PathValue("id")
	partNumber, err := strconv.ParseInt(r.PathValue("part"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "bad_part_number", Message: err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "malformed_body", Message: err.Error()})
		return
	}
	etag, err := a.store.UploadPart(r.Context(), owner, id, partNumber, data)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.UploadPartResponse{ETag: etag})
}

func (a *edgeAPI) finishUpload(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorResponse{Code: "missing_owner", Message: err.Error()})
		return
	}
	id := r.PathValue("id")
	if err := a.store.FinishJob(r.Context(), owner, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *edgeAPI) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", a.submitJob)
	mux.HandleFunc("GET /jobs/{id}", a.jobState)
	mux.HandleFunc("POST /uploads", a.startUpload)
	mux.HandleFunc("PUT /uploads/{id}/parts/{part}", a.uploadPart)
	mux.HandleFunc("POST /uploads/{id}/finish", a.finishUpload)
	return mux
}

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("opening postgres connection failed", obs.Err(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	queue := jobqueue.New(db)

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
		logger.Fatal("initializing blobstore failed", obs.Err(err))
	}

	sweepCron, err := store.StartExpirySweep(context.Background(), cfg.S3.SweepSchedule)
	if err != nil {
		logger.Warn("starting upload expiry sweep failed", obs.Err(err))
	} else {
		defer sweepCron.Stop()
	}

	api := &edgeAPI{queue: queue, store: store, log: logger}
	apiSrv := &http.Server{Addr: cfg.Edged.Addr, Handler: api.routes()}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("edge API server failed", obs.Err(err))
		}
	}()

	metricsSrv := obs.StartHTTPServer(cfg, func(c context.Context) error { return db.PingContext(c) })

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
