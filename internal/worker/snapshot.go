package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/storage"
)

const snapshotInterval = 60 * time.Second

// SnapshotWorker periodically persists the credential pool's in-memory
// state back to durable storage (spec §6 "a 60-second background task and
// SIGINT/SIGTERM trigger snapshots").
type SnapshotWorker struct {
	pool  *credpool.Pool
	store storage.CredentialStore
}

// NewSnapshotWorker creates a SnapshotWorker for pool and store.
func NewSnapshotWorker(pool *credpool.Pool, store storage.CredentialStore) *SnapshotWorker {
	return &SnapshotWorker{pool: pool, store: store}
}

// Name returns the worker identifier.
func (w *SnapshotWorker) Name() string { return "snapshot" }

// Run persists the pool every snapshotInterval until ctx is cancelled,
// then performs one final snapshot so a graceful shutdown never loses the
// interval's worth of state (spec §6 exit code 0 "snapshot persisted").
func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.snapshot(context.Background())
			return nil
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

func (w *SnapshotWorker) snapshot(ctx context.Context) {
	if err := w.Flush(ctx); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "credential snapshot failed",
			slog.String("error", err.Error()),
		)
	}
}

// Flush persists every pooled credential's current state in one
// transaction. Exported so the caller can invoke it directly on
// SIGINT/SIGTERM without waiting for the next ticker tick.
func (w *SnapshotWorker) Flush(ctx context.Context) error {
	snaps := w.pool.Diagnostics()
	creds := make([]*gateway.Credential, 0, len(snaps))
	for _, sn := range snaps {
		c, ok := w.pool.Get(sn.ID)
		if !ok {
			continue
		}
		creds = append(creds, &c)
	}
	return w.store.SnapshotCredentials(ctx, creds)
}
