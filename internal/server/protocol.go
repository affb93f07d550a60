package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/cnl"
)

// Codec frames CAN traffic on a client connection.
type Codec interface {
	Decode(r io.Reader) (can.Frame, error)
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// batchDecoder is implemented by codecs that can hand over every frame a
// single read produced.
type batchDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
}

// HandshakeFunc runs before any frame is exchanged on a new connection and
// must complete within timeout.
type HandshakeFunc func(ctx context.Context, c net.Conn, timeout time.Duration) error

var (
	_ Codec         = (*cnl.Codec)(nil)
	_ batchDecoder  = (*cnl.Codec)(nil)
	_ HandshakeFunc = cnl.Handshake
)
