package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/server"
	"github.com/kstaniek/go-socketcan/internal/txqueue"
	"github.com/kstaniek/go-socketcan/socketcan"
)

// socketDev is the part of *socketcan.Socket the backend uses.
type socketDev interface {
	Send(can.Frame) error
	Receive() (can.Frame, error)
	Close() error
}

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, opts ...socketcan.Option) (socketDev, error) {
	s, err := socketcan.Open(iface, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RX retry bounds after a failed read.
const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn is a hook for tests.
var sleepFn = time.Sleep

func socketOptions(cfg *appConfig) []socketcan.Option {
	opts := []socketcan.Option{
		socketcan.WithErrorMask(cfg.errMaskVal),
		socketcan.WithReadTimeout(cfg.canReadTO),
	}
	if cfg.canFD {
		opts = append(opts, socketcan.WithFDFrames())
	}
	return opts
}

// initSocketCANBackend opens the socket and launches the RX loop. The
// returned cleanup waits for the loop to stop before closing the socket.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf, socketOptions(cfg)...)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf, "fd", cfg.canFD, "err_mask", cfg.errMaskVal.String())

	ctx, stop := context.WithCancel(ctx)
	q := txqueue.New(ctx, dev.Send, txqueue.Options{
		Size:     cfg.txQueue,
		Priority: cfg.txPriority,
		Hooks: txqueue.Hooks{
			OnError: func(fr can.Frame, err error) {
				metrics.IncError(metrics.ErrSocketCANWrite)
				l.Warn("socketcan_write_error", "error", err, "frame", fr.String())
			},
			OnAfter: func(fr can.Frame) { metrics.IncSocketCANTx(fr.Kind()) },
			OnDrop: func(can.Frame) error {
				metrics.IncError(metrics.ErrSocketCANOver)
				return fmt.Errorf("%w: %s", server.ErrBackendOverflow, cfg.canIf)
			},
		},
	})

	rxDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(rxDone)
		defer l.Info("socketcan_rx_end")
		rxLoop(ctx, dev, h, l)
	}()

	send := func(fr can.Frame) error {
		if fr.Kind() == can.KindFD && !cfg.canFD {
			metrics.IncError(metrics.ErrSocketCANFD)
			return socketcan.ErrFDDisabled
		}
		return q.Send(fr)
	}
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			stop()
			q.Close()
			<-rxDone
			_ = dev.Close()
		})
	}
	return send, cleanup, nil
}

// rxLoop reads frames until ctx is done. Receive timeouts are idle ticks;
// other read failures back off exponentially.
func rxLoop(ctx context.Context, dev socketDev, h *hub.Hub, l *slog.Logger) {
	backoff := rxBackoffMin
	for ctx.Err() == nil {
		fr, err := dev.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch {
			case socketcan.IsTimeout(err):
			case errors.Is(err, can.ErrDecode):
				metrics.IncError(metrics.ErrSocketCANDecode)
				l.Warn("socketcan_decode_error", "error", err)
			default:
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = min(backoff*2, rxBackoffMax)
			}
			continue
		}
		backoff = rxBackoffMin
		metrics.IncSocketCANRx(fr.Kind())
		if ef, ok := fr.(can.ErrorFrame); ok {
			d := ef.Diagnostic()
			metrics.ObserveErrorFrame(d)
			l.Warn("can_error_frame", "diag", d.String())
		}
		h.Broadcast(fr)
	}
}
