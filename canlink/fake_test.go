package canlink

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
)

// fakeConn replays canned replies. handle is called for every request and
// returns the batches later handed out by Receive, one per call.
type fakeConn struct {
	handle   func(req netlink.Message) []reply
	queue    []reply
	sent     []netlink.Message
	deadline time.Time
	closed   bool
}

type reply struct {
	msgs []netlink.Message
	err  error
}

func (f *fakeConn) Send(m netlink.Message) (netlink.Message, error) {
	f.sent = append(f.sent, m)
	if f.handle != nil {
		f.queue = append(f.queue, f.handle(m)...)
	}
	return m, nil
}

func (f *fakeConn) Receive() ([]netlink.Message, error) {
	if len(f.queue) == 0 {
		return nil, &netlink.OpError{Op: "receive", Err: os.ErrDeadlineExceeded}
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r.msgs, r.err
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.deadline = t
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func controllerWith(f *fakeConn) *Controller {
	return &Controller{dial: func() (conn, error) { return f, nil }}
}

func rejected(errno syscall.Errno) []reply {
	return []reply{{err: &netlink.OpError{Op: "receive", Err: errno}}}
}

func ackFor(req netlink.Message) netlink.Message {
	return netlink.Message{
		Header: netlink.Header{Type: netlink.Error, Sequence: req.Header.Sequence},
		Data:   make([]byte, 4+16),
	}
}

// fakeKernel keeps the state of a single CAN interface and answers
// RTM_GETLINK / RTM_NEWLINK the way the kernel does.
type fakeKernel struct {
	t       *testing.T
	index   int32
	name    string
	up      bool
	bitrate uint32
	ctrl    CtrlMode
	state   State
}

func (k *fakeKernel) handle(req netlink.Message) []reply {
	hdr, err := parseIfInfomsg(req.Data)
	if err != nil {
		k.t.Fatalf("fake kernel: %v", err)
	}
	ad, err := netlink.NewAttributeDecoder(req.Data[sizeIfInfomsg:])
	if err != nil {
		k.t.Fatalf("fake kernel attrs: %v", err)
	}
	var (
		name     string
		bt       *BitTiming
		ctrl     []byte
		linkinfo bool
	)
	for ad.Next() {
		switch ad.Type() {
		case iflaIfname:
			name = ad.String()
		case iflaLinkinfo:
			linkinfo = true
			ad.Nested(func(li *netlink.AttributeDecoder) error {
				for li.Next() {
					if li.Type() == iflaInfoKind && li.String() != "can" {
						k.t.Fatalf("fake kernel: kind %q", li.String())
					}
					if li.Type() != iflaInfoData {
						continue
					}
					li.Nested(func(d *netlink.AttributeDecoder) error {
						for d.Next() {
							switch d.Type() {
							case iflaCANBittiming:
								bt, _ = parseBitTiming(d.Bytes())
							case iflaCANCtrlmode:
								ctrl = d.Bytes()
							}
						}
						return nil
					})
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		k.t.Fatalf("fake kernel decode: %v", err)
	}

	switch req.Header.Type {
	case rtmGetLink:
		if (hdr.Index != 0 && hdr.Index != k.index) || (hdr.Index == 0 && name != k.name) {
			return rejected(syscall.ENODEV)
		}
		return []reply{{msgs: []netlink.Message{{
			Header: netlink.Header{Type: rtmNewLink, Sequence: req.Header.Sequence},
			Data:   k.linkMessage(),
		}}}}
	case rtmNewLink:
		if hdr.Index != k.index {
			return rejected(syscall.ENODEV)
		}
		if linkinfo && k.up {
			return rejected(syscall.EBUSY)
		}
		if bt != nil {
			k.bitrate = bt.Bitrate
		}
		if ctrl != nil {
			mask := CtrlModeFlags(hostOrder.Uint32(ctrl[0:]))
			flags := CtrlModeFlags(hostOrder.Uint32(ctrl[4:]))
			k.ctrl.Enabled = k.ctrl.Enabled&^mask | flags&mask
		}
		if hdr.Change&iffUp != 0 {
			k.up = hdr.Flags&iffUp != 0
		}
		return []reply{{msgs: []netlink.Message{ackFor(req)}}}
	}
	return rejected(syscall.EOPNOTSUPP)
}

func (k *fakeKernel) linkMessage() []byte {
	var flags uint32
	if k.up {
		flags = iffUp | iffRunning
	}
	body := ifInfomsg{Type: 280, Index: k.index, Flags: flags}.marshal()
	ae := netlink.NewAttributeEncoder()
	ae.String(iflaIfname, k.name)
	ae.Uint32(iflaMTU, 16)
	ae.Nested(iflaLinkinfo, func(li *netlink.AttributeEncoder) error {
		li.String(iflaInfoKind, "can")
		li.Nested(iflaInfoData, func(d *netlink.AttributeEncoder) error {
			d.Bytes(iflaCANBittiming, BitTiming{Bitrate: k.bitrate, SamplePoint: 875, TQ: 125, PropSeg: 6, PhaseSeg1: 7, PhaseSeg2: 2, SJW: 1, BRP: 1}.marshal())
			btc := make([]byte, sizeBittimingConst)
			copy(btc, "sja1000")
			for i, v := range []uint32{1, 16, 1, 8, 4, 1, 64, 1} {
				hostOrder.PutUint32(btc[ifnamsiz+4*i:], v)
			}
			d.Bytes(iflaCANBittimingConst, btc)
			d.Uint32(iflaCANClock, 8000000)
			d.Uint32(iflaCANState, uint32(k.state))
			d.Bytes(iflaCANCtrlmode, CtrlModeChange{Mask: k.ctrl.Supported, Flags: k.ctrl.Enabled}.marshal())
			d.Uint32(iflaCANRestartMs, 100)
			berr := make([]byte, sizeBerrCounter)
			hostOrder.PutUint16(berr[0:], 3)
			hostOrder.PutUint16(berr[2:], 7)
			d.Bytes(iflaCANBerrCounter, berr)
			d.Bytes(99, []byte{1, 2, 3, 4})
			return nil
		})
		return nil
	})
	attrs, err := ae.Encode()
	if err != nil {
		k.t.Fatalf("fake kernel encode: %v", err)
	}
	return append(body, attrs...)
}
