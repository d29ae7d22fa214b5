package workers

import (
	"context"
	"log/slog"
	"time"
)

// Gauges is the minimal registry surface the telemetry worker reads.
type Gauges interface {
	Stats() (connections, identities, rooms int)
}

// TelemetryWorker logs registry gauges at a fixed interval. Observability
// only; it never touches the delivery path.
type TelemetryWorker struct {
	gauges   Gauges
	interval time.Duration
	log      *slog.Logger
}

func NewTelemetryWorker(gauges Gauges, interval time.Duration, log *slog.Logger) *TelemetryWorker {
	return &TelemetryWorker{gauges: gauges, interval: interval, log: log}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case <-ticker.C:
			connections, identities, rooms := w.gauges.Stats()
			w.log.Info("registry gauges",
				"connections", connections,
				"identities", identities,
				"rooms", rooms)
		}
	}
}
