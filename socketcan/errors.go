package socketcan

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a closed socket.
	ErrClosed = errors.New("socketcan: socket not open")
	// ErrWouldBlock reports that a read or write timeout elapsed, or that a
	// non-blocking socket had nothing to do. The socket stays usable.
	ErrWouldBlock = errors.New("socketcan: operation would block")
	// ErrFDDisabled is returned by Send for an FD frame on a socket opened
	// without WithFDFrames. Nothing is written.
	ErrFDDisabled = errors.New("socketcan: CAN FD frames not enabled on socket")
	// ErrShortWrite means the kernel accepted only part of a frame.
	ErrShortWrite = errors.New("socketcan: short write")
	// ErrInvalidName is returned for an empty interface name or one that does
	// not fit IFNAMSIZ.
	ErrInvalidName = errors.New("socketcan: invalid interface name")
	// ErrNoSuchInterface is returned when the name does not resolve.
	ErrNoSuchInterface = errors.New("socketcan: no such interface")
	// ErrUnsupported is returned on platforms without SocketCAN.
	ErrUnsupported = errors.New("socketcan: not supported on this platform")
)

// OpError is a failed kernel call on a socket.
type OpError struct {
	Op  string // socket, bind, setsockopt <name>, read, write, decode
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("socketcan: %s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// Timeout reports whether the operation failed only because it would block.
func (e *OpError) Timeout() bool { return errors.Is(e.Err, ErrWouldBlock) }

// IsTimeout reports whether err is a would-block outcome rather than a hard
// failure.
func IsTimeout(err error) bool { return errors.Is(err, ErrWouldBlock) }
