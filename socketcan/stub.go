//go:build !linux

package socketcan

import (
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

// Socket is unavailable outside Linux; every method returns ErrUnsupported.
type Socket struct{}

func Open(name string, opts ...Option) (*Socket, error)      { return nil, ErrUnsupported }
func OpenIndex(ifindex int, opts ...Option) (*Socket, error) { return nil, ErrUnsupported }

func (s *Socket) SetFilters(...can.Filter) error      { return ErrUnsupported }
func (s *Socket) DropAll() error                      { return ErrUnsupported }
func (s *Socket) SetJoinFilters(bool) error           { return ErrUnsupported }
func (s *Socket) SetErrorMask(can.ErrorClass) error   { return ErrUnsupported }
func (s *Socket) ErrorMask() (can.ErrorClass, error)  { return 0, ErrUnsupported }
func (s *Socket) SetLoopback(bool) error              { return ErrUnsupported }
func (s *Socket) Loopback() (bool, error)             { return false, ErrUnsupported }
func (s *Socket) SetRecvOwnMsgs(bool) error           { return ErrUnsupported }
func (s *Socket) RecvOwnMsgs() (bool, error)          { return false, ErrUnsupported }
func (s *Socket) FDFrames() bool                      { return false }
func (s *Socket) SetReadTimeout(time.Duration) error  { return ErrUnsupported }
func (s *Socket) SetWriteTimeout(time.Duration) error { return ErrUnsupported }
func (s *Socket) SetNonblocking(bool) error           { return ErrUnsupported }
func (s *Socket) Send(can.Frame) error                { return ErrUnsupported }
func (s *Socket) Receive() (can.Frame, error)         { return nil, ErrUnsupported }
func (s *Socket) Close() error                        { return ErrUnsupported }
func (s *Socket) Addr() Addr                          { return Addr{} }
func (s *Socket) Fd() int                             { return -1 }
