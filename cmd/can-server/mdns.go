package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_can-server._tcp"

// listener is the part of *server.Server the advertiser waits on.
type listener interface {
	Ready() <-chan struct{}
	Addr() string
}

// advertise registers the bridge over mDNS once ln is bound and withdraws
// it when ctx ends. It blocks until then.
func advertise(ctx context.Context, cfg *appConfig, ln listener, l *slog.Logger) {
	select {
	case <-ln.Ready():
	case <-ctx.Done():
		return
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = "can-server-" + host
	}
	port := listenPort(ln.Addr())
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", instance, "port", port)
	<-ctx.Done()
	svc.Shutdown()
}

// mdnsMeta builds the TXT records advertised with the service.
func mdnsMeta(cfg *appConfig) []string {
	fd := "0"
	if cfg.canFD {
		fd = "1"
	}
	meta := []string{
		"if=" + cfg.canIf,
		"proto=cannelloni",
		"version=" + version,
		"commit=" + commit,
		"fd=" + fd,
	}
	if cfg.link.Bitrate > 0 {
		meta = append(meta, fmt.Sprintf("bitrate=%d", cfg.link.Bitrate))
	}
	return meta
}

// listenPort extracts the port from a bound address (host:port or :port).
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
