// Package jobqueue implements the durable FIFO job queue (spec C8):
// QueuedJob and its Enqueue/ClaimNext/Finish/List/Counts operations, backed
// by Postgres with SELECT ... FOR UPDATE SKIP LOCKED claims. Grounded on the
// teacher's internal/queue.Job (struct shape, TraceID/SpanID propagation)
// generalized from a Redis list entry to a durable Postgres row, and the
// original copperd/lib/jobqueue/src/postgres claim semantics.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/pipeline"
)

// State is one of a job's five lifecycle states (spec §3, §4.6).
type State string

const (
	Queued     State = "Queued"
	Running    State = "Running"
	Success    State = "Success"
	Failed     State = "Failed"
	BuildError State = "BuildError"
)

// ErrNotRunning is returned by Finish when the job is not currently Running.
var ErrNotRunning = errors.New("jobqueue: job is not in the Running state")

// ErrNotFound is returned when a job id does not name a row.
var ErrNotFound = errors.New("jobqueue: job not found")

// Outcome is what Finish writes as a job's terminal state.
type Outcome struct {
	State   State // one of Success, Failed, BuildError
	Message string
}

// QueuedJob is one row of the durable queue, exactly per spec.md §4.6.
type QueuedJob struct {
	ID          string
	Owner       int64
	State       State
	Message     string // set for Failed/BuildError outcomes
	PipelineDoc json.RawMessage
	Input       map[string]pipedata.PipeData
	TraceID     string
	SpanID      string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Counts aggregates how many of an owner's jobs are in each state.
type Counts struct {
	Total      int64
	Queued     int64
	Running    int64
	Success    int64
	Failed     int64
	BuildError int64
}

// Queue drives the durable job table.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue { return &Queue{db: db} }

// Schema is the DDL Queue expects; callers run it once at startup (mirroring
// itemdb.Schema's pattern) rather than baking in a migration runner.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	state TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	pipeline_doc JSONB NOT NULL,
	input JSONB NOT NULL,
	trace_id TEXT NOT NULL DEFAULT '',
	span_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	heartbeat_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_owner_created_idx ON jobs (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (created_at) WHERE state = 'Queued';
`

// Enqueue validates pipelineDoc's shape (structurally, via
// pipeline.ParsePipeline — not a full node-registry build, which only
// happens when a worker claims the job) and persists a new Queued row.
func (q *Queue) Enqueue(ctx context.Context, owner int64, pipelineDoc json.RawMessage, input map[string]pipedata.PipeData, traceID, spanID string) (id string, err error) {
	if _, err := pipeline.ParsePipeline(pipelineDoc); err != nil {
		return "", fmt.Errorf("jobqueue: invalid pipeline document: %w", err)
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("jobqueue: encoding input: %w", err)
	}

	id = uuid.NewString()
	const insert = `
		INSERT INTO jobs (id, owner_id, state, pipeline_doc, input, trace_id, span_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.db.ExecContext(ctx, insert, id, owner, Queued, []byte(pipelineDoc), inputJSON, traceID, spanID); err != nil {
		return "", fmt.Errorf("jobqueue: enqueuing job: %w", err)
	}
	return id, nil
}

// ClaimNext atomically selects the oldest Queued job, flips it to Running,
// and returns it. Safe under concurrent workers via SELECT ... FOR UPDATE
// SKIP LOCKED: a worker that loses the race simply sees no eligible row.
func (q *Queue) ClaimNext(ctx context.Context) (*QueuedJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	const selectNext = `
		SELECT id, owner_id, pipeline_doc, input, trace_id, span_id, created_at
		FROM jobs
		WHERE state = 'Queued'
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	row := tx.QueryRowContext(ctx, selectNext)

	var j QueuedJob
	var pipelineDoc, inputJSON []byte
	if err := row.Scan(&j.ID, &j.Owner, &pipelineDoc, &inputJSON, &j.TraceID, &j.SpanID, &j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobqueue: selecting next job: %w", err)
	}
	j.PipelineDoc = pipelineDoc
	if err := json.Unmarshal(inputJSON, &j.Input); err != nil {
		return nil, fmt.Errorf("jobqueue: decoding job input: %w", err)
	}

	now := time.Now()
	const markRunning = `UPDATE jobs SET state = 'Running', started_at = $2, heartbeat_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, markRunning, j.ID, now); err != nil {
		return nil, fmt.Errorf("jobqueue: claiming job %s: %w", j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobqueue: committing claim: %w", err)
	}

	j.State = Running
	j.StartedAt = &now
	return &j, nil
}

// Heartbeat records that a worker is still actively running id, resetting
// the window SweepStuck measures staleness against.
func (q *Queue) Heartbeat(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND state = 'Running'`, id)
	if err != nil {
		return fmt.Errorf("jobqueue: recording heartbeat for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobqueue: checking heartbeat update for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotRunning
	}
	return nil
}

// Finish writes id's terminal state and finished_at. It fails with
// ErrNotRunning if the job is not currently Running — terminal states are
// immutable (spec §3).
func (q *Queue) Finish(ctx context.Context, id string, outcome Outcome) error {
	switch outcome.State {
	case Success, Failed, BuildError:
	default:
		return fmt.Errorf("jobqueue: %q is not a terminal state", outcome.State)
	}

	const finish = `
		UPDATE jobs SET state = $2, message = $3, finished_at = now()
		WHERE id = $1 AND state = 'Running'`
	res, err := q.db.ExecContext(ctx, finish, id, outcome.State, outcome.Message)
	if err != nil {
		return fmt.Errorf("jobqueue: finishing job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobqueue: checking finish update for %s: %w", id, err)
	}
	if n == 0 {
		if _, err := q.getState(ctx, id); err != nil {
			return err
		}
		return ErrNotRunning
	}
	return nil
}

func (q *Queue) getState(ctx context.Context, id string) (State, error) {
	var s State
	err := q.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("jobqueue: looking up job %s: %w", id, err)
	}
	return s, nil
}

// Get returns the single job named by id, regardless of owner. Callers that
// must enforce ownership (e.g. an edged job-state endpoint) compare
// QueuedJob.Owner themselves.
func (q *Queue) Get(ctx context.Context, id string) (*QueuedJob, error) {
	const selectOne = `
		SELECT id, owner_id, state, message, pipeline_doc, input, trace_id, span_id,
		       created_at, started_at, finished_at
		FROM jobs
		WHERE id = $1`
	var j QueuedJob
	var pipelineDoc, inputJSON []byte
	err := q.db.QueryRowContext(ctx, selectOne, id).Scan(&j.ID, &j.Owner, &j.State, &j.Message,
		&pipelineDoc, &inputJSON, &j.TraceID, &j.SpanID, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: looking up job %s: %w", id, err)
	}
	j.PipelineDoc = pipelineDoc
	if err := json.Unmarshal(inputJSON, &j.Input); err != nil {
		return nil, fmt.Errorf("jobqueue: decoding job input: %w", err)
	}
	return &j, nil
}

// List returns owner's jobs ordered by created_at descending, paginated by
// skip/count, plus the owner's aggregate Counts.
func (q *Queue) List(ctx context.Context, owner int64, skip, count int) ([]QueuedJob, Counts, error) {
	const selectPage = `
		SELECT id, owner_id, state, message, pipeline_doc, input, trace_id, span_id,
		       created_at, started_at, finished_at
		FROM jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`
	rows, err := q.db.QueryContext(ctx, selectPage, owner, skip, count)
	if err != nil {
		return nil, Counts{}, fmt.Errorf("jobqueue: listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []QueuedJob
	for rows.Next() {
		var j QueuedJob
		var pipelineDoc, inputJSON []byte
		if err := rows.Scan(&j.ID, &j.Owner, &j.State, &j.Message, &pipelineDoc, &inputJSON,
			&j.TraceID, &j.SpanID, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, Counts{}, fmt.Errorf("jobqueue: scanning job row: %w", err)
		}
		j.PipelineDoc = pipelineDoc
		if err := json.Unmarshal(inputJSON, &j.Input); err != nil {
			return nil, Counts{}, fmt.Errorf("jobqueue: decoding job input: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, Counts{}, fmt.Errorf("jobqueue: iterating job rows: %w", err)
	}

	counts, err := q.Counts(ctx, owner)
	if err != nil {
		return nil, Counts{}, err
	}
	return jobs, counts, nil
}

// Counts aggregates owner's jobs by state.
func (q *Queue) Counts(ctx context.Context, owner int64) (Counts, error) {
	const countQuery = `SELECT state, count(*) FROM jobs WHERE owner_id = $1 GROUP BY state`
	rows, err := q.db.QueryContext(ctx, countQuery, owner)
	if err != nil {
		return Counts{}, fmt.Errorf("jobqueue: counting jobs: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var state State
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, fmt.Errorf("jobqueue: scanning count row: %w", err)
		}
		switch state {
		case Queued:
			c.Queued = n
		case Running:
			c.Running = n
		case Success:
			c.Success = n
		case Failed:
			c.Failed = n
		case BuildError:
			c.BuildError = n
		}
		c.Total += n
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("jobqueue: iterating count rows: %w", err)
	}
	return c, nil
}
