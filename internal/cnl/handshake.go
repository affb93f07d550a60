package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hello is the greeting both peers send before any frame.
const Hello = "CANNELLONIv1"

// ErrBadHello is returned when the peer opens with anything but Hello.
var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake sends Hello and reads the peer's greeting. Both directions run
// at once so two peers calling Handshake cannot deadlock on an unbuffered
// link. The exchange must finish within timeout; cancelling ctx aborts it.
// The connection deadline is cleared on return.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("handshake: deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	wrote := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c, Hello)
		wrote <- err
	}()
	got := make([]byte, len(Hello))
	_, rerr := io.ReadFull(c, got)
	werr := <-wrote

	if ctx.Err() != nil {
		return fmt.Errorf("handshake: %w", ctx.Err())
	}
	switch {
	case rerr != nil:
		return fmt.Errorf("handshake: read: %w", rerr)
	case string(got) != Hello:
		return fmt.Errorf("handshake: %w: %q", ErrBadHello, got)
	case werr != nil:
		return fmt.Errorf("handshake: write: %w", werr)
	}
	return nil
}
