package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/candump"
	"github.com/kstaniek/go-socketcan/socketcan"
)

type receiver interface {
	Receive() (can.Frame, error)
}

// now is a hook for tests.
var now = time.Now

// dump writes received frames to w until ctx is done, count frames were
// written (when count > 0) or the socket fails. Receive timeouts only give
// ctx a chance to be checked. Malformed frames are logged and skipped.
func dump(ctx context.Context, r receiver, w *candump.Writer, iface string, count int, l *slog.Logger) (int, error) {
	n := 0
	defer func() { _ = w.Flush() }()
	for ctx.Err() == nil && (count <= 0 || n < count) {
		fr, err := r.Receive()
		switch {
		case socketcan.IsTimeout(err):
			if err := w.Flush(); err != nil {
				return n, err
			}
			continue
		case errors.Is(err, can.ErrDecode):
			l.Warn("malformed_frame", "error", err)
			continue
		case err != nil:
			return n, err
		}
		if ef, ok := fr.(can.ErrorFrame); ok {
			d := ef.Diagnostic()
			l.Warn("error_frame", "class", d.Class.String(), "diag", d.String())
		}
		if err := w.Write(candump.Record{Time: now(), Interface: iface, Frame: fr}); err != nil {
			return n, err
		}
		n++
	}
	return n, w.Flush()
}
