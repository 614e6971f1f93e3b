package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/storage"
)

const maintenanceInterval = 5 * time.Minute

// pruneBatchSize caps how many stale compressor-cache rows are deleted per
// sweep (spec §4.6: "pruned lazily (≤ 50 per sweep)").
const pruneBatchSize = 50

// MaintenanceWorker runs the pool's self-heal sweep and the compressor's
// L3 cache eviction on the shared 5-minute cadence both subsystems specify
// (spec §4.1, §4.6).
type MaintenanceWorker struct {
	pool  *credpool.Pool
	store storage.CompressorCacheStore
	ttl   time.Duration
}

// NewMaintenanceWorker creates a MaintenanceWorker. ttl is the compressor
// cache entry lifetime used to compute the prune cutoff.
func NewMaintenanceWorker(pool *credpool.Pool, store storage.CompressorCacheStore, ttl time.Duration) *MaintenanceWorker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MaintenanceWorker{pool: pool, store: store, ttl: ttl}
}

// Name returns the worker identifier.
func (w *MaintenanceWorker) Name() string { return "maintenance" }

// Run fires the self-heal sweep and L3 prune every maintenanceInterval
// until ctx is cancelled.
func (w *MaintenanceWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *MaintenanceWorker) sweep(ctx context.Context) {
	if w.pool != nil {
		w.pool.SelfHeal()
	}
	if w.store == nil {
		return
	}
	cutoff := time.Now().Add(-w.ttl)
	n, err := w.store.PruneSummaries(ctx, cutoff, pruneBatchSize)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "compressor cache prune failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "compressor cache pruned",
			slog.Int("count", n),
		)
	}
}
