package server

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
)

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 512
)

// ServerOption configures a Server. Non-positive durations and sizes keep
// the default.
type ServerOption func(*Server)

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption     { return func(s *Server) { s.Hub = hb } }
func WithSend(send SendFunc) ServerOption  { return func(s *Server) { s.Send = send } }

// WithCodec replaces the default cannelloni codec.
func WithCodec(c Codec) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithHandshake replaces the cannelloni greeting run on each new connection.
func WithHandshake(fn HandshakeFunc) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.handshake = fn
		}
	}
}

// WithFrameFilter installs a predicate on the client to bus direction;
// frames it rejects are not transmitted.
func WithFrameFilter(fn func(can.Frame) bool) ServerOption {
	return func(s *Server) { s.frameFilter = fn }
}

// WithTxFilters limits the client to bus direction to frames accepted by fs,
// evaluated the way the kernel evaluates receive filters.
func WithTxFilters(fs can.Filters) ServerOption {
	return func(s *Server) {
		if len(fs) > 0 {
			s.frameFilter = fs.Accept
		}
	}
}

// WithClientFilters sets the receive filters of every new client; the hub
// queues only frames they accept.
func WithClientFilters(fs can.Filters) ServerOption {
	return func(s *Server) { s.clientFilters = fs }
}

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.flushInterval = positive(d, s.flushInterval) }
}

// WithBatchSize bounds how many frames are coalesced into one TCP write.
func WithBatchSize(n int) ServerOption {
	return func(s *Server) { s.batchSize = positive(n, s.batchSize) }
}

// WithReadDeadline sets how long a client may stay silent before the
// reader re-arms; an idle client is not disconnected.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { s.readDeadline = positive(d, s.readDeadline) }
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.handshakeTimeout = positive(d, s.handshakeTimeout) }
}

// WithMaxClients rejects connections beyond n after their handshake.
// Zero means unlimited.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) { s.maxClients = positive(n, s.maxClients) }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func positive[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
