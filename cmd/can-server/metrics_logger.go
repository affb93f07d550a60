package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/server"
)

// startMetricsLogger periodically logs the metrics mirrors and the server
// counters for setups without a Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup, stats func() server.Stats) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap(), stats())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot, st server.Stats) {
	l.Info("metrics_snapshot", "metrics", snap, "server", st)
}
