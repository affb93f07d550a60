package main

import (
	"log/slog"

	"github.com/kstaniek/go-socketcan/internal/hub"
)

// initHub builds the broadcast hub from the validated config.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	h.Policy = cfg.policy
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize, "client_filters", len(cfg.clientFilterSet))
	return h
}
