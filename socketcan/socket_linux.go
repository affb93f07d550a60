//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-socketcan/can"
)

// Socket is a raw CAN socket bound to one interface. One Receive yields one
// frame and one Send writes one frame; there is no buffering in between.
//
// A Socket is not safe for concurrent use. Independent sockets, including
// several bound to the same interface, may be used from separate goroutines.
type Socket struct {
	fd       int // -1 once closed
	ifindex  int
	fdFrames bool
}

func newSocket(fd int, fdFrames bool) *Socket {
	return &Socket{fd: fd, fdFrames: fdFrames}
}

// Open creates a CAN_RAW socket bound to the named interface and applies opts.
func Open(name string, opts ...Option) (*Socket, error) {
	if name == "" || len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoSuchInterface, name, err)
	}
	return OpenIndex(ifi.Index, opts...)
}

// OpenIndex is Open for an already resolved interface index. Index 0 binds
// to every CAN interface; such a socket can receive but not send.
func OpenIndex(ifindex int, opts ...Option) (*Socket, error) {
	if ifindex < 0 {
		return nil, fmt.Errorf("%w: index %d", ErrNoSuchInterface, ifindex)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, &OpError{Op: "socket", Err: err}
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.ENODEV) {
			err = fmt.Errorf("%w: index %d: %w", ErrNoSuchInterface, ifindex, err)
		}
		return nil, &OpError{Op: "bind", Err: err}
	}
	s := newSocket(fd, false)
	s.ifindex = ifindex
	if err := s.apply(&o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Socket) apply(o *options) error {
	if o.fdFrames {
		if err := s.setBool("CAN_RAW_FD_FRAMES", unix.CAN_RAW_FD_FRAMES, true); err != nil {
			return err
		}
		s.fdFrames = true
	}
	if o.setFilters {
		if err := s.SetFilters(o.filters...); err != nil {
			return err
		}
	}
	if o.join {
		if err := s.SetJoinFilters(true); err != nil {
			return err
		}
	}
	if o.errMask != nil {
		if err := s.SetErrorMask(*o.errMask); err != nil {
			return err
		}
	}
	if o.loopback != nil {
		if err := s.SetLoopback(*o.loopback); err != nil {
			return err
		}
	}
	if o.recvOwn != nil {
		if err := s.SetRecvOwnMsgs(*o.recvOwn); err != nil {
			return err
		}
	}
	if o.readTO > 0 {
		if err := s.SetReadTimeout(o.readTO); err != nil {
			return err
		}
	}
	if o.writeTO > 0 {
		if err := s.SetWriteTimeout(o.writeTO); err != nil {
			return err
		}
	}
	if o.nonblocking {
		return s.SetNonblocking(true)
	}
	return nil
}

// SetFilters replaces the receive filters. A frame is delivered if it
// matches at least one of them (all of them after SetJoinFilters). An empty
// list installs the accept-all filter.
func (s *Socket) SetFilters(fs ...can.Filter) error {
	if len(fs) == 0 {
		fs = []can.Filter{can.AcceptAll}
	}
	kf := make([]unix.CanFilter, len(fs))
	for i, f := range fs {
		kf[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
	}
	return s.setFilters(kf)
}

// DropAll installs an empty filter list: no data or remote frame is
// delivered. Error frames still follow the error mask.
func (s *Socket) DropAll() error { return s.setFilters(nil) }

func (s *Socket) setFilters(kf []unix.CanFilter) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if err := unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
		return &OpError{Op: "setsockopt CAN_RAW_FILTER", Err: err}
	}
	return nil
}

// SetJoinFilters switches between any-filter (false) and all-filters (true)
// matching.
func (s *Socket) SetJoinFilters(on bool) error {
	return s.setBool("CAN_RAW_JOIN_FILTERS", unix.CAN_RAW_JOIN_FILTERS, on)
}

// SetErrorMask selects the error classes the kernel delivers to this socket
// as error frames. The default is none.
func (s *Socket) SetErrorMask(m can.ErrorClass) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, int(uint32(m)&can.ERRMask)); err != nil {
		return &OpError{Op: "setsockopt CAN_RAW_ERR_FILTER", Err: err}
	}
	return nil
}

// ErrorMask returns the installed error class mask.
func (s *Socket) ErrorMask() (can.ErrorClass, error) {
	v, err := s.getInt("CAN_RAW_ERR_FILTER", unix.CAN_RAW_ERR_FILTER)
	return can.ErrorClass(uint32(v)), err
}

// SetLoopback controls whether frames sent by this socket are looped back
// to other sockets on the same interface. On by default.
func (s *Socket) SetLoopback(on bool) error {
	return s.setBool("CAN_RAW_LOOPBACK", unix.CAN_RAW_LOOPBACK, on)
}

func (s *Socket) Loopback() (bool, error) {
	v, err := s.getInt("CAN_RAW_LOOPBACK", unix.CAN_RAW_LOOPBACK)
	return v != 0, err
}

// SetRecvOwnMsgs controls whether this socket receives its own frames. Off
// by default; needs loopback.
func (s *Socket) SetRecvOwnMsgs(on bool) error {
	return s.setBool("CAN_RAW_RECV_OWN_MSGS", unix.CAN_RAW_RECV_OWN_MSGS, on)
}

func (s *Socket) RecvOwnMsgs() (bool, error) {
	v, err := s.getInt("CAN_RAW_RECV_OWN_MSGS", unix.CAN_RAW_RECV_OWN_MSGS)
	return v != 0, err
}

// FDFrames reports whether the socket was opened with WithFDFrames.
func (s *Socket) FDFrames() bool { return s.fdFrames }

// SetReadTimeout bounds each Receive. When it elapses Receive returns an
// error matching ErrWouldBlock. Zero or negative blocks forever.
func (s *Socket) SetReadTimeout(d time.Duration) error {
	return s.setTimeout("SO_RCVTIMEO", unix.SO_RCVTIMEO, d)
}

// SetWriteTimeout bounds each Send, which blocks while the interface
// queue is full.
func (s *Socket) SetWriteTimeout(d time.Duration) error {
	return s.setTimeout("SO_SNDTIMEO", unix.SO_SNDTIMEO, d)
}

func (s *Socket) setTimeout(name string, opt int, d time.Duration) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if d < 0 {
		d = 0
	}
	if d > 0 && d < time.Microsecond {
		d = time.Microsecond // a zero timeval would mean no timeout
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, opt, &tv); err != nil {
		return &OpError{Op: "setsockopt " + name, Err: err}
	}
	return nil
}

// SetNonblocking makes Send and Receive return ErrWouldBlock instead of
// waiting.
func (s *Socket) SetNonblocking(on bool) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if err := unix.SetNonblock(s.fd, on); err != nil {
		return &OpError{Op: "fcntl O_NONBLOCK", Err: err}
	}
	return nil
}

func (s *Socket) setBool(name string, opt int, on bool) error {
	if s.fd < 0 {
		return ErrClosed
	}
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt, v); err != nil {
		return &OpError{Op: "setsockopt " + name, Err: err}
	}
	return nil
}

func (s *Socket) getInt(name string, opt int) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt)
	if err != nil {
		return 0, &OpError{Op: "getsockopt " + name, Err: err}
	}
	return v, nil
}

// Send writes f in one write call.
func (s *Socket) Send(f can.Frame) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if f != nil && f.Kind() == can.KindFD && !s.fdFrames {
		return ErrFDDisabled
	}
	b, err := can.Encode(f)
	if err != nil {
		return err
	}
	var n int
	for {
		n, err = unix.Write(s.fd, b)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return ioError("write", err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(b))
	}
	return nil
}

// Receive reads and decodes one frame. Error frames selected by the error
// mask are returned as can.ErrorFrame. A malformed buffer fails this call
// only; the socket stays usable.
func (s *Socket) Receive() (can.Frame, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}
	var buf [can.FDSize]byte
	var (
		n   int
		err error
	)
	for {
		n, err = unix.Read(s.fd, buf[:])
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return nil, ioError("read", err)
	}
	f, err := can.Decode(buf[:n])
	if err != nil {
		return nil, &OpError{Op: "decode", Err: err}
	}
	return f, nil
}

func ioError(op string, err error) error {
	if errors.Is(err, unix.EAGAIN) {
		return &OpError{Op: op, Err: ErrWouldBlock}
	}
	return &OpError{Op: op, Err: err}
}

// Close releases the descriptor. Closing twice returns ErrClosed.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return ErrClosed
	}
	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil {
		return &OpError{Op: "close", Err: err}
	}
	return nil
}

func (s *Socket) Addr() Addr { return Addr{Ifindex: s.ifindex} }

// Fd returns the descriptor for readiness polling, or -1 once closed.
func (s *Socket) Fd() int { return s.fd }
