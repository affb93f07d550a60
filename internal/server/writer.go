package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// session is one connected client.
type session struct {
	id     uint64
	conn   net.Conn
	client *hub.Client
	log    *slog.Logger
	since  time.Time
}

// startWriter streams hub frames to the client, coalescing up to batchSize
// frames or flushInterval worth of traffic into one write. It owns the
// session teardown.
func (s *Server) startWriter(ctxDone <-chan struct{}, ss *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.endSession(ss)
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			n := len(batch)
			_, err := s.codec.EncodeTo(ss.conn, batch)
			batch = batch[:0]
			if err != nil {
				ss.log.Debug("client_write_failed", "error", s.fail(ErrConnWrite, err))
				return false
			}
			metrics.AddTCPTx(n)
			return true
		}
		for {
			select {
			case fr := <-ss.client.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize && !flush() {
					return
				}
			case <-t.C:
				if !flush() {
					return
				}
			case <-ss.client.Closed:
				flush()
				return
			case <-ctxDone:
				flush()
				return
			}
		}
	}()
}
