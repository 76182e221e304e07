// Copyright 2025 James Ross
package obs

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/copperd/copper/internal/config"
	"github.com/copperd/copper/internal/jobqueue"
)

// StartJobDepthUpdater samples QueueDepth per owner on a fixed interval, the
// same sample-and-set ticker loop the teacher used to poll Redis list
// lengths, generalized here to poll jobqueue.Counts for a fixed set of
// owners instead of LLen against a fixed set of list keys.
func StartJobDepthUpdater(ctx context.Context, cfg *config.Config, q *jobqueue.Queue, owners []int64, log *zap.Logger) {
	interval := cfg.Observability.QueueSampleInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, owner := range owners {
					counts, err := q.Counts(ctx, owner)
					if err != nil {
						log.Debug("job depth poll error", Int("owner", int(owner)), Err(err))
						continue
					}
					ownerLabel := strconv.FormatInt(owner, 10)
					QueueDepth.WithLabelValues(ownerLabel, "Queued").Set(float64(counts.Queued))
					QueueDepth.WithLabelValues(ownerLabel, "Running").Set(float64(counts.Running))
				}
			}
		}
	}()
}
