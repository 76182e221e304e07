// Package admin implements the operator surface behind the pipelined and
// storaged subcommands: stats, peek-by-owner, schema bootstrap, and a manual
// stuck-job sweep against the durable job queue and item database. It plays the role the teacher's internal/admin package played
// over a Redis-backed queue (Stats/Peek/Purge), regrounded here on
// jobqueue's Postgres-backed state machine.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/copperd/copper/internal/itemdb"
	"github.com/copperd/copper/internal/jobqueue"
)

// StatsResult summarizes one owner's job counts.
type StatsResult struct {
	Owner  int64           `json:"owner"`
	Counts jobqueue.Counts `json:"counts"`
}

// Stats reports job counts for owner.
func Stats(ctx context.Context, q *jobqueue.Queue, owner int64) (StatsResult, error) {
	counts, err := q.Counts(ctx, owner)
	if err != nil {
		return StatsResult{}, fmt.Errorf("admin: stats: %w", err)
	}
	return StatsResult{Owner: owner, Counts: counts}, nil
}

// PeekResult lists a page of an owner's jobs alongside their current counts.
type PeekResult struct {
	Jobs   []jobqueue.QueuedJob `json:"jobs"`
	Counts jobqueue.Counts      `json:"counts"`
}

// Peek lists up to count of owner's jobs, skipping the first skip.
func Peek(ctx context.Context, q *jobqueue.Queue, owner int64, skip, count int) (PeekResult, error) {
	jobs, counts, err := q.List(ctx, owner, skip, count)
	if err != nil {
		return PeekResult{}, fmt.Errorf("admin: peek: %w", err)
	}
	return PeekResult{Jobs: jobs, Counts: counts}, nil
}

// Bootstrap applies the jobqueue and itemdb schema DDL idempotently, the
// storaged equivalent of the teacher's admin-triggered migration bootstrap.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, jobqueue.Schema); err != nil {
		return fmt.Errorf("admin: applying jobqueue schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, itemdb.Schema); err != nil {
		return fmt.Errorf("admin: applying itemdb schema: %w", err)
	}
	return nil
}

// SweepStuck runs the stuck-job reaper once, outside its normal ticker loop,
// for an operator-triggered manual sweep. It returns the IDs of jobs that
// were marked Failed.
func SweepStuck(ctx context.Context, q *jobqueue.Queue, timeout time.Duration) ([]string, error) {
	return q.SweepStuck(ctx, timeout)
}
