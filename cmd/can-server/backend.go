package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
)

// initBackend configures the link when asked to, opens the CAN socket,
// starts its RX loop and returns a frame sender and cleanup. It returns an
// error instead of exiting the process to allow graceful handling by the
// caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	if err := setupLink(cfg, l); err != nil {
		return nil, func() {}, err
	}
	return initSocketCANBackend(ctx, cfg, h, l, wg)
}
