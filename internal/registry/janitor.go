package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// terminal states as persisted by the flow manager
var terminalStates = map[string]bool{
	"done":   true,
	"failed": true,
}

// RunJanitor periodically deletes terminal flow records older than the
// retention window.
func RunJanitor(ctx context.Context, rdb *redis.Client, interval, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("flow janitor started",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("flow janitor stopped")
			return
		case <-ticker.C:
			sweep(ctx, rdb, retention, log)
		}
	}
}

func sweep(ctx context.Context, rdb *redis.Client, retention time.Duration, log *zap.Logger) {
	records, err := ScanAll(ctx, rdb)
	if err != nil {
		log.Error("janitor: scan flows", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-retention).Unix()
	for _, r := range records {
		if !terminalStates[r.State] || r.UpdatedAt > cutoff {
			continue
		}
		if err := DeleteRecord(ctx, rdb, r.ID); err != nil {
			log.Error("janitor: delete flow", zap.String("flow", r.ID), zap.Error(err))
			continue
		}
		log.Debug("expired flow record removed",
			zap.String("flow", r.ID),
			zap.String("state", r.State),
		)
	}
}
