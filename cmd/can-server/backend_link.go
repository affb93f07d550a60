package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-socketcan/canlink"
	"github.com/kstaniek/go-socketcan/internal/linkprofile"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// linkController is a hook for tests.
var linkController linkprofile.Link = canlink.Default

// setupLink applies the configured link profile. Without one the interface
// is left as the system configured it and only its state is recorded.
func setupLink(cfg *appConfig, l *slog.Logger) error {
	if !cfg.linkSetupEnabled {
		recordLinkState(cfg.canIf, l)
		return nil
	}
	lc, err := linkprofile.Apply(linkController, cfg.canIf, cfg.link)
	if err != nil {
		metrics.IncError(metrics.ErrLinkSetup)
		return fmt.Errorf("link setup %s: %w", cfg.canIf, err)
	}
	logLinkConfig(l, lc)
	metrics.SetLinkState(uint32(lc.State))
	return nil
}

func recordLinkState(iface string, l *slog.Logger) {
	idx, err := linkController.Resolve(iface)
	if err == nil {
		var lc *canlink.Config
		if lc, err = linkController.Get(idx); err == nil {
			logLinkConfig(l, lc)
			metrics.SetLinkState(uint32(lc.State))
			return
		}
	}
	l.Debug("link_query_failed", "if", iface, "error", err)
}

func logLinkConfig(l *slog.Logger, lc *canlink.Config) {
	attrs := []any{"if", lc.Name, "kind", lc.Kind, "link", lc.LinkState().String(), "state", lc.State.String(),
		"ctrlmode", lc.CtrlMode.Enabled.String(), "restart_ms", lc.RestartMs}
	if bt := lc.BitTiming; bt != nil {
		attrs = append(attrs, "bitrate", bt.Bitrate, "sample_point", bt.SamplePoint)
	}
	if bt := lc.DataBitTiming; bt != nil && bt.Bitrate > 0 {
		attrs = append(attrs, "dbitrate", bt.Bitrate)
	}
	l.Info("link_config", attrs...)
}
