package socketcan

import (
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

// Option configures a socket during Open, after bind and before the socket
// is returned. A failing option closes the socket.
type Option func(*options)

type options struct {
	fdFrames    bool
	filters     []can.Filter
	setFilters  bool
	join        bool
	errMask     *can.ErrorClass
	loopback    *bool
	recvOwn     *bool
	readTO      time.Duration
	writeTO     time.Duration
	nonblocking bool
}

// WithFDFrames enables CAN FD frames (CAN_RAW_FD_FRAMES). Without it Send
// rejects FD frames and the kernel delivers only classic frames.
func WithFDFrames() Option { return func(o *options) { o.fdFrames = true } }

// WithFilters installs receive filters; see Socket.SetFilters.
func WithFilters(fs ...can.Filter) Option {
	return func(o *options) {
		o.filters = append([]can.Filter(nil), fs...)
		o.setFilters = true
	}
}

// WithJoinFilters makes a frame pass only if it matches every filter.
func WithJoinFilters() Option { return func(o *options) { o.join = true } }

// WithErrorMask selects the error classes delivered as error frames.
func WithErrorMask(m can.ErrorClass) Option { return func(o *options) { o.errMask = &m } }

func WithLoopback(on bool) Option    { return func(o *options) { o.loopback = &on } }
func WithRecvOwnMsgs(on bool) Option { return func(o *options) { o.recvOwn = &on } }

// WithReadTimeout bounds Receive; zero blocks forever.
func WithReadTimeout(d time.Duration) Option { return func(o *options) { o.readTO = d } }

// WithWriteTimeout bounds Send; zero blocks forever.
func WithWriteTimeout(d time.Duration) Option { return func(o *options) { o.writeTO = d } }

// WithNonblocking puts the socket in non-blocking mode.
func WithNonblocking() Option { return func(o *options) { o.nonblocking = true } }
