package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/candump"
)

type sender interface {
	Send(can.Frame) error
}

// sleep is a hook for tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseFrames(args []string) ([]can.Frame, error) {
	frames := make([]can.Frame, 0, len(args))
	for _, a := range args {
		f, err := candump.ParseFrame(a)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func sendAll(s sender, frames []can.Frame) error {
	for i, f := range frames {
		if err := s.Send(f); err != nil {
			return fmt.Errorf("frame %d (%s): %w", i+1, candump.FormatFrame(f), err)
		}
	}
	return nil
}

// replay sends every record read from r. With realtime set the gaps
// between record timestamps are reproduced. Error frames in the log are
// skipped; they cannot be transmitted.
func replay(ctx context.Context, r *candump.Reader, s sender, realtime bool) (int, error) {
	n := 0
	var last time.Time
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if rec.Frame.Kind() == can.KindError {
			continue
		}
		if realtime && !last.IsZero() {
			if gap := rec.Time.Sub(last); gap > 0 {
				if err := sleep(ctx, gap); err != nil {
					return n, err
				}
			}
		}
		last = rec.Time
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.Send(rec.Frame); err != nil {
			return n, fmt.Errorf("%s: %w", rec, err)
		}
		n++
	}
}
