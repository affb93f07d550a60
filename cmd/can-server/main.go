// Command can-server bridges a SocketCAN interface to cannelloni TCP
// clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/internal/metrics"
	"github.com/kstaniek/go-socketcan/internal/server"
)

const shutdownTimeout = 3 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	switch {
	case showVersion:
		fmt.Printf("can-server %s (commit %s, built %s)\n", version, commit, date)
		return
	case cfg == nil:
		os.Exit(2)
	}
	l := logging.Setup("can-server", cfg.logFormat, cfg.logLevel)
	if err := run(cfg, l); err != nil {
		l.Error("exit", "error", err)
		os.Exit(1)
	}
}

// run owns the process lifetime: backend, TCP server, optional mDNS and
// metrics endpoints. It returns after SIGINT/SIGTERM or a fatal server
// error, once everything it started has stopped.
func run(cfg *appConfig, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h := initHub(cfg, l)
	var wg sync.WaitGroup
	send, cleanup, err := initBackend(ctx, cfg, h, l, &wg)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer cleanup()

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithHub(h),
		server.WithSend(send),
		server.WithTxFilters(cfg.txFilterSet),
		server.WithClientFilters(cfg.clientFilterSet),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg, srv.Stats)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			cancel(err)
		}
	}()
	if cfg.mdnsEnable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			advertise(ctx, cfg, srv, l)
		}()
	}

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
			return ctx.Err() == nil
		default:
			return false
		}
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	<-ctx.Done()
	l.Info("shutdown", "cause", context.Cause(ctx))

	sdCtx, sdCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		l.Warn("shutdown_incomplete", "error", err)
	}
	cancel(nil)
	wg.Wait()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
