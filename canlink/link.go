// Package canlink queries and configures CAN network interfaces over
// rtnetlink, the way "ip link ... type can" does.
//
// Every call is one exchange on a fresh netlink socket: dial, send one
// request tagged with a new sequence number, read until the reply carrying
// that number arrives, close. Replies with other sequence numbers are
// discarded. There are no retries.
package canlink

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mdlayher/netlink"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 2 * time.Second

// conn is the part of *netlink.Conn an exchange needs.
type conn interface {
	Send(m netlink.Message) (netlink.Message, error)
	Receive() ([]netlink.Message, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

func dialRoute() (conn, error) {
	c, err := netlink.Dial(familyRoute, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var seq atomic.Uint32

func init() { seq.Store(uint32(time.Now().UnixNano())) }

func nextSeq() uint32 {
	for {
		if s := seq.Add(1); s != 0 {
			return s
		}
	}
}

// Controller issues requests. The zero value is ready to use; it holds no
// connection between calls.
type Controller struct {
	// Timeout bounds each exchange; zero means DefaultTimeout.
	Timeout time.Duration

	dial func() (conn, error)
}

// Default is used by the package-level functions.
var Default = &Controller{}

func Resolve(name string) (int, error)                 { return Default.Resolve(name) }
func Get(ifindex int) (*Config, error)                 { return Default.Get(ifindex) }
func SetBitTiming(ifindex int, bt BitTiming) error     { return Default.SetBitTiming(ifindex, bt) }
func SetBitrate(ifindex int, bps uint32) error         { return Default.SetBitrate(ifindex, bps) }
func SetDataBitTiming(ifindex int, bt BitTiming) error { return Default.SetDataBitTiming(ifindex, bt) }
func SetDataBitrate(ifindex int, bps uint32) error     { return Default.SetDataBitrate(ifindex, bps) }
func SetCtrlMode(ifindex int, c CtrlModeChange) error  { return Default.SetCtrlMode(ifindex, c) }
func SetRestartMs(ifindex int, ms uint32) error        { return Default.SetRestartMs(ifindex, ms) }
func Restart(ifindex int) error                        { return Default.Restart(ifindex) }
func SetTermination(ifindex int, ohm uint16) error     { return Default.SetTermination(ifindex, ohm) }
func SetState(ifindex int, up bool) error              { return Default.SetState(ifindex, up) }
func SetUp(ifindex int) error                          { return Default.SetState(ifindex, true) }
func SetDown(ifindex int) error                        { return Default.SetState(ifindex, false) }

// Resolve returns the index of the named interface.
func (c *Controller) Resolve(name string) (int, error) {
	if name == "" || len(name) >= ifnamsiz {
		return 0, fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	ae := netlink.NewAttributeEncoder()
	ae.String(iflaIfname, name)
	cfg, err := c.getLink("resolve "+name, ifInfomsg{}, ae)
	if err != nil {
		return 0, err
	}
	return cfg.Index, nil
}

// Get returns a snapshot of the interface configuration.
func (c *Controller) Get(ifindex int) (*Config, error) {
	if ifindex <= 0 {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, ifindex)
	}
	return c.getLink("get", ifInfomsg{Index: int32(ifindex)}, nil)
}

func (c *Controller) getLink(op string, hdr ifInfomsg, ae *netlink.AttributeEncoder) (*Config, error) {
	body := hdr.marshal()
	if ae != nil {
		attrs, err := ae.Encode()
		if err != nil {
			return nil, fmt.Errorf("canlink: %s: %w", op, err)
		}
		body = append(body, attrs...)
	}
	m, err := c.exchange(op, rtmGetLink, 0, body)
	if err != nil {
		return nil, err
	}
	if m.Header.Type != rtmNewLink {
		return nil, fmt.Errorf("%w: %s: reply type %d", ErrMalformed, op, m.Header.Type)
	}
	return parseLink(m.Data)
}

// SetBitTiming sets the arbitration bit-timing. The kernel refuses it
// (EBUSY) while the interface is up.
func (c *Controller) SetBitTiming(ifindex int, bt BitTiming) error {
	return c.setCAN("set bittiming", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Bytes(iflaCANBittiming, bt.marshal())
		return nil
	})
}

// SetBitrate lets the driver derive the bit-timing for bps.
func (c *Controller) SetBitrate(ifindex int, bps uint32) error {
	return c.SetBitTiming(ifindex, BitTiming{Bitrate: bps})
}

// SetDataBitTiming sets the CAN FD data phase bit-timing.
func (c *Controller) SetDataBitTiming(ifindex int, bt BitTiming) error {
	return c.setCAN("set data bittiming", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Bytes(iflaCANDataBittiming, bt.marshal())
		return nil
	})
}

func (c *Controller) SetDataBitrate(ifindex int, bps uint32) error {
	return c.SetDataBitTiming(ifindex, BitTiming{Bitrate: bps})
}

// SetCtrlMode changes the controller mode bits selected by ch.Mask.
func (c *Controller) SetCtrlMode(ifindex int, ch CtrlModeChange) error {
	return c.setCAN("set ctrlmode", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Bytes(iflaCANCtrlmode, ch.marshal())
		return nil
	})
}

// SetRestartMs sets the automatic bus-off recovery delay; 0 disables it.
func (c *Controller) SetRestartMs(ifindex int, ms uint32) error {
	return c.setCAN("set restart-ms", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(iflaCANRestartMs, ms)
		return nil
	})
}

// Restart triggers a manual bus-off recovery. The interface must be up and
// in bus-off with restart-ms 0.
func (c *Controller) Restart(ifindex int) error {
	return c.setCAN("restart", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(iflaCANRestart, 1)
		return nil
	})
}

// SetTermination selects a bus termination resistor value offered by the
// driver.
func (c *Controller) SetTermination(ifindex int, ohm uint16) error {
	return c.setCAN("set termination", ifindex, func(ae *netlink.AttributeEncoder) error {
		ae.Uint16(iflaCANTermination, ohm)
		return nil
	})
}

// SetState brings the interface administratively up or down.
func (c *Controller) SetState(ifindex int, up bool) error {
	if ifindex <= 0 {
		return fmt.Errorf("%w: index %d", ErrNotFound, ifindex)
	}
	hdr := ifInfomsg{Index: int32(ifindex), Change: iffUp}
	op := "set down"
	if up {
		hdr.Flags = iffUp
		op = "set up"
	}
	return c.ack(op, hdr.marshal())
}

func (c *Controller) SetUp(ifindex int) error   { return c.SetState(ifindex, true) }
func (c *Controller) SetDown(ifindex int) error { return c.SetState(ifindex, false) }

func (c *Controller) setCAN(op string, ifindex int, data func(*netlink.AttributeEncoder) error) error {
	if ifindex <= 0 {
		return fmt.Errorf("%w: index %d", ErrNotFound, ifindex)
	}
	ae := netlink.NewAttributeEncoder()
	encodeLinkInfo(ae, data)
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("canlink: %s: %w", op, err)
	}
	return c.ack(op, append(ifInfomsg{Index: int32(ifindex)}.marshal(), attrs...))
}

// ack sends an RTM_NEWLINK request and expects a positive acknowledgement.
func (c *Controller) ack(op string, body []byte) error {
	m, err := c.exchange(op, rtmNewLink, netlink.Acknowledge, body)
	if err != nil {
		return err
	}
	if m.Header.Type != netlink.Error {
		return fmt.Errorf("%w: %s: reply type %d, want ack", ErrMalformed, op, m.Header.Type)
	}
	return nil
}

// exchange performs one request/response round trip on a new socket.
func (c *Controller) exchange(op string, typ netlink.HeaderType, flags netlink.HeaderFlags, body []byte) (netlink.Message, error) {
	dial := c.dial
	if dial == nil {
		dial = dialRoute
	}
	cn, err := dial()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("%w: %s: dial: %w", ErrChannel, op, err)
	}
	defer cn.Close()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := cn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return netlink.Message{}, fmt.Errorf("%w: %s: deadline: %w", ErrChannel, op, err)
	}

	s := nextSeq()
	req := netlink.Message{
		Header: netlink.Header{Type: typ, Flags: netlink.Request | flags, Sequence: s},
		Data:   body,
	}
	if _, err := cn.Send(req); err != nil {
		return netlink.Message{}, fmt.Errorf("%w: %s: send: %w", ErrChannel, op, err)
	}
	for {
		// netlink.Conn.Receive turns an NLMSG_ERROR into an error before the
		// sequence is visible here, so a stale negative ack is reported as a
		// rejection of this request instead of being skipped.
		msgs, err := cn.Receive()
		if err != nil {
			return netlink.Message{}, receiveError(op, err)
		}
		if len(msgs) == 0 {
			return netlink.Message{}, fmt.Errorf("%w: %s: empty read", ErrNoResponse, op)
		}
		for _, m := range msgs {
			if m.Header.Sequence == s {
				return m, nil
			}
		}
	}
}

// receiveError classifies a Receive failure. netlink reports a negative
// acknowledgement as an *netlink.OpError around the bare errno, while socket
// failures carry an *os.SyscallError.
func receiveError(op string, err error) error {
	var timeout interface{ Timeout() bool }
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrNoResponse, op, err)
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return fmt.Errorf("%w: %s: %w", ErrChannel, op, err)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &RejectedError{Op: op, Errno: errno}
	}
	return fmt.Errorf("%w: %s: %w", ErrChannel, op, err)
}
