package guard

import (
	"context"
	"encoding/json"
	"time"

	"querygate/internal/cache"
	"querygate/internal/metrics"
	"querygate/pkg/logging/logging"

	"go.uber.org/zap"
)

// RecordTTL keeps progress records around much longer than any response
// window, so the monotonicity check survives normal entry churn.
const RecordTTL = time.Hour

// ProgressSource reports how far the upstream's data has advanced.
type ProgressSource interface {
	Progress(ctx context.Context) (uint64, error)
}

// progressRecord is what we persist under meta:<key>: the counter
// observed the last time this key was written through forced-fresh.
type progressRecord struct {
	Counter uint64 `json:"counter"`
}

func recordAddress(key string) string {
	return "meta:" + key
}

// Guard gates forced-fresh cache writes on upstream progress. The race
// it closes: a client mutates, immediately re-reads forced-fresh, and
// the upstream's replicated read path has not caught up yet. Writing
// that read through would poison the shared cache with pre-mutation
// data for everyone until the entry expires.
type Guard struct {
	probe ProgressSource
	store cache.Store
}

func New(probe ProgressSource, store cache.Store) *Guard {
	return &Guard{probe: probe, store: store}
}

// ShouldWriteThrough reports whether a forced-fresh result for key may
// land in the shared cache, and on true advances the recorded counter.
// It fails closed: no positive evidence of non-regression, no write.
//
// Two processes can both pass the check and both write; both carry
// non-regressed data, so the race is rare and non-corrupting.
func (g *Guard) ShouldWriteThrough(ctx context.Context, key string) bool {
	logger := logging.L(ctx)

	observed, err := g.probe.Progress(ctx)
	if err != nil {
		metrics.WriteRefusalsTotal.WithLabelValues("probe_failed").Inc()
		logger.Warn("write-through refused, progress probe failed",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return false
	}

	addr := recordAddress(key)

	// A record we cannot read or parse counts as absent: first write.
	raw, found, err := g.store.Get(ctx, addr)
	if err != nil {
		logger.Warn("progress record unreadable, treating as first write",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		found = false
	}
	if found {
		var prior progressRecord
		if err := json.Unmarshal(raw, &prior); err != nil {
			logger.Warn("progress record corrupt, treating as first write",
				zap.String("cache_key", key),
				zap.Error(err),
			)
		} else if observed < prior.Counter {
			metrics.WriteRefusalsTotal.WithLabelValues("regressed").Inc()
			logger.Info("write-through refused, upstream progress regressed",
				zap.String("cache_key", key),
				zap.Uint64("observed", observed),
				zap.Uint64("recorded", prior.Counter),
			)
			return false
		}
	}

	newRaw, err := json.Marshal(progressRecord{Counter: observed})
	if err != nil {
		// Marshalling this struct cannot realistically fail; keep the
		// fail-closed shape anyway.
		metrics.WriteRefusalsTotal.WithLabelValues("record_write_failed").Inc()
		return false
	}
	if err := g.store.Set(ctx, addr, newRaw, RecordTTL); err != nil {
		metrics.WriteRefusalsTotal.WithLabelValues("record_write_failed").Inc()
		logger.Warn("write-through refused, progress record write failed",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return false
	}

	return true
}
