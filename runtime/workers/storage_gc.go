package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StorageGCWorker periodically runs badger's value-log garbage collection.
// The message log is append-only, but block removals and compactions still
// leave reclaimable space behind.
type StorageGCWorker struct {
	db       *badger.DB
	interval time.Duration
	log      *slog.Logger
}

func NewStorageGCWorker(db *badger.DB, interval time.Duration, log *slog.Logger) *StorageGCWorker {
	return &StorageGCWorker{db: db, interval: interval, log: log}
}

func (w *StorageGCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to reclaim.
			if err := w.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
				w.log.Warn("value log GC failed", "error", err)
			}
		}
	}
}
