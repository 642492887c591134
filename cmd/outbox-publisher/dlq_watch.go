package main

import (
	"context"
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

const dlqRefreshInterval = time.Minute

type dlqCounter interface {
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

// watchDLQ publishes the dead-letter backlog as a gauge until ctx ends. A
// non-empty backlog is logged once at startup and again whenever it grows.
func watchDLQ(ctx context.Context, logg *logger.Logger, repo dlqCounter, m *metrics.OutboxMetrics, every time.Duration) {
	var lastTotal int64
	refresh := func() {
		counts, err := repo.CountByReason(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "could not read outbox dlq backlog")
			}
			return
		}
		byReason := make(map[string]int64, len(counts))
		var total int64
		for reason, n := range counts {
			byReason[string(reason)] = n
			total += n
		}
		m.SetDLQBacklog(byReason)
		if total > lastTotal {
			logg.Warn(logg.WithField(ctx, "dlq_by_reason", byReason), "outbox dlq holds parked events")
		}
		lastTotal = total
	}

	refresh()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
