package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// readBatch bounds how many frames one DecodeN call drains before the
// reader re-arms its deadline.
const readBatch = 16

// startReader decodes client frames and hands them to the backend. A read
// deadline expiring on an idle client is not an error.
func (s *Server) startReader(ctxDone <-chan struct{}, ss *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ss.client.Close() // stops the writer, which ends the session
		bd, batched := s.codec.(batchDecoder)
		for {
			_ = ss.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			var err error
			if batched {
				count, err = bd.DecodeN(ss.conn, readBatch, func(fr can.Frame) { s.deliver(fr, ss) })
			} else {
				var fr can.Frame
				if fr, err = s.codec.Decode(ss.conn); err == nil {
					s.deliver(fr, ss)
					count = 1
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				ss.log.Warn("client_read_failed", "error", s.fail(ErrConnRead, err))
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-ss.client.Closed:
				return
			default:
			}
		}
	}()
}

// deliver hands one client frame to the backend. Error frames describe
// the local controller and are never transmitted.
func (s *Server) deliver(fr can.Frame, ss *session) {
	if fr.Kind() == can.KindError {
		ss.log.Debug("client_error_frame_ignored", "frame", fr.String())
		return
	}
	if s.frameFilter != nil && !s.frameFilter(fr) {
		s.stats.framesFilteredOut.Add(1)
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	s.stats.framesFromClients.Add(1)
	if err := s.Send(fr); err != nil {
		if errors.Is(err, ErrBackendOverflow) {
			s.stats.backendOverflow.Add(1)
			ss.log.Debug("backend_overflow_drop", "frame", fr.String())
			return
		}
		// the backend counts its own failures; only record the error here
		wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
		s.setError(wrap)
		s.stats.backendErrors.Add(1)
		ss.log.Error("backend_tx_error", "error", wrap, "frame", fr.String())
	}
}
