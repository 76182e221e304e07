package jobqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeatTimeout is how long a Running job may go without a
// Heartbeat call before SweepStuck considers its worker dead.
const DefaultHeartbeatTimeout = 30 * time.Second

// SweepStuck marks every Running job whose heartbeat is older than timeout
// (DefaultHeartbeatTimeout if <= 0) Failed with a StuckTask message, and
// returns their ids. This is the queue-level half of spec §5's StuckTask
// handling: the runtime's own grace window catches a task that hangs inside
// a live worker process, but a worker that crashes outright leaves its
// Running rows with no one left to finish them — generalized from the
// teacher's internal/reaper, which requeues a crashed worker's in-flight
// Redis list entries the same way once its heartbeat key expires.
func (q *Queue) SweepStuck(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}

	const sweep = `
		UPDATE jobs
		SET state = 'Failed', message = 'StuckTask: worker heartbeat expired', finished_at = now()
		WHERE state = 'Running' AND heartbeat_at < $1
		RETURNING id`
	rows, err := q.db.QueryContext(ctx, sweep, time.Now().Add(-timeout))
	if err != nil {
		return nil, fmt.Errorf("jobqueue: sweeping stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("jobqueue: scanning stuck job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reaper runs SweepStuck on a fixed interval until its context is
// cancelled, mirroring the teacher's internal/reaper.Reaper.Run ticker loop.
type Reaper struct {
	Queue    *Queue
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := r.Queue.SweepStuck(ctx, r.Timeout)
			if err != nil {
				logger.Warn("jobqueue: stuck-job sweep failed", zap.Error(err))
				continue
			}
			for _, id := range ids {
				logger.Warn("jobqueue: marked stuck job Failed", zap.String("id", id))
			}
		}
	}
}
