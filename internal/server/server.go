package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/cnl"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// SendFunc transmits a CAN frame to the bus. It returns an error wrapping
// ErrBackendOverflow when the frame was dropped because the transmit queue
// is full.
type SendFunc func(can.Frame) error

// Accept retry bounds for temporary listener errors.
const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Server bridges cannelloni TCP clients to a CAN backend: frames from the
// hub are streamed to every client, frames from clients go to Send.
type Server struct {
	mu   sync.RWMutex
	addr string
	Hub  *hub.Hub
	Send SendFunc

	codec     Codec
	handshake HandshakeFunc

	frameFilter   func(can.Frame) bool
	clientFilters can.Filters

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener

	sessionsMu sync.Mutex
	sessions   map[*hub.Client]*session
	nextConnID atomic.Uint64
	wg         sync.WaitGroup
	logger     *slog.Logger
	stats      counters
}

// counters back Stats.
type counters struct {
	accepted          atomic.Uint64
	handshakeFail     atomic.Uint64
	rejected          atomic.Uint64
	connected         atomic.Uint64
	disconnected      atomic.Uint64
	backendOverflow   atomic.Uint64
	backendErrors     atomic.Uint64
	framesFromClients atomic.Uint64
	framesFilteredOut atomic.Uint64
}

// Stats is a snapshot of connection and backend counters since start.
type Stats struct {
	Accepted        uint64
	HandshakeFailed uint64
	Rejected        uint64
	Connected       uint64
	Disconnected    uint64
	Active          int
	FramesIn        uint64 // frames handed to Send
	FramesFiltered  uint64 // frames withheld by the transmit filter
	BackendOverflow uint64
	BackendErrors   uint64
}

// LogValue renders the snapshot as a log group.
func (st Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("accepted", st.Accepted),
		slog.Uint64("handshake_fail", st.HandshakeFailed),
		slog.Uint64("rejected", st.Rejected),
		slog.Uint64("connected", st.Connected),
		slog.Uint64("disconnected", st.Disconnected),
		slog.Int("active", st.Active),
		slog.Uint64("frames_in", st.FramesIn),
		slog.Uint64("frames_filtered", st.FramesFiltered),
		slog.Uint64("backend_overflow", st.BackendOverflow),
		slog.Uint64("backend_errors", st.BackendErrors),
	)
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		codec:            &cnl.Codec{},
		handshake:        cnl.Handshake,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		sessions:         make(map[*hub.Client]*session),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors delivers the most recent failures; older ones are dropped when
// nobody reads.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// fail records a classified error and its metric.
func (s *Server) fail(kind error, err error) error {
	wrap := fmt.Errorf("%w: %w", kind, err)
	metrics.IncError(metricLabel(kind))
	s.setError(wrap)
	return wrap
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	s.sessionsMu.Lock()
	active := len(s.sessions)
	s.sessionsMu.Unlock()
	c := &s.stats
	return Stats{
		Accepted:        c.accepted.Load(),
		HandshakeFailed: c.handshakeFail.Load(),
		Rejected:        c.rejected.Load(),
		Connected:       c.connected.Load(),
		Disconnected:    c.disconnected.Load(),
		Active:          active,
		FramesIn:        c.framesFromClients.Load(),
		FramesFiltered:  c.framesFilteredOut.Load(),
		BackendOverflow: c.backendOverflow.Load(),
		BackendErrors:   c.backendErrors.Load(),
	}
}

// Serve listens and accepts clients until ctx is done or the listener is
// closed by Shutdown. Temporary accept errors are retried with backoff.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return s.fail(ErrListen, err)
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, acceptBackoffMin), acceptBackoffMax)
				s.logger.Warn("accept_retry", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return s.fail(ErrAccept, err)
		}
		backoff = 0
		s.admit(ctx, conn)
	}
}

// admit performs the handshake, enforces the client limit, registers the
// client with the hub and starts its reader and writer.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	s.stats.accepted.Add(1)
	id := s.nextConnID.Add(1)
	log := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := s.handshake(ctx, conn, s.handshakeTimeout); err != nil {
		s.stats.handshakeFail.Add(1)
		log.Warn("handshake_failed", "error", s.fail(ErrHandshake, err))
		_ = conn.Close()
		return
	}
	if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
		s.stats.rejected.Add(1)
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	ss := s.newSession(id, conn, log)
	s.stats.connected.Add(1)
	log.Info("client_connected", "filters", len(s.clientFilters))
	s.startWriter(ctx.Done(), ss)
	s.startReader(ctx.Done(), ss)
}

// newSession allocates a hub client sized from the hub configuration.
func (s *Server) newSession(id uint64, conn net.Conn, log *slog.Logger) *session {
	bufSize := defaultClientBuffer
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	ss := &session{
		id:     id,
		conn:   conn,
		client: hub.NewClient(bufSize, s.clientFilters),
		log:    log,
		since:  time.Now(),
	}
	s.sessionsMu.Lock()
	s.sessions[ss.client] = ss
	s.sessionsMu.Unlock()
	if s.Hub != nil {
		s.Hub.Add(ss.client)
	}
	return ss
}

// endSession unregisters a client. It runs once per session, from the
// writer.
func (s *Server) endSession(ss *session) {
	_ = ss.conn.Close()
	if s.Hub != nil {
		s.Hub.Remove(ss.client)
	}
	s.sessionsMu.Lock()
	delete(s.sessions, ss.client)
	s.sessionsMu.Unlock()
	s.stats.disconnected.Add(1)
	ss.log.Info("client_disconnected", "duration", time.Since(ss.since).Round(time.Millisecond))
}

// Shutdown closes the listener and every client connection, then waits for
// the client goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessionsMu.Lock()
	for _, ss := range s.sessions {
		_ = ss.conn.Close()
		ss.client.Close()
	}
	s.sessionsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "stats", s.Stats())
		return nil
	}
}
