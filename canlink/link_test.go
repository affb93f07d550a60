package canlink

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
)

func newFakeKernel(t *testing.T) (*fakeKernel, *fakeConn, *Controller) {
	k := &fakeKernel{t: t, index: 7, name: "can0", bitrate: 500000,
		ctrl: CtrlMode{Supported: CtrlLoopback | CtrlListenOnly | CtrlBerrReporting}}
	fc := &fakeConn{handle: k.handle}
	return k, fc, controllerWith(fc)
}

func TestResolve(t *testing.T) {
	_, fc, c := newFakeKernel(t)
	idx, err := c.Resolve("can0")
	if err != nil || idx != 7 {
		t.Fatalf("Resolve: %d %v", idx, err)
	}
	if !fc.closed {
		t.Fatalf("channel not closed after exchange")
	}
	if fc.deadline.IsZero() {
		t.Fatalf("no read deadline set")
	}
	if got := fc.sent[0].Header.Type; got != rtmGetLink {
		t.Fatalf("request type %d", got)
	}
}

func TestResolve_NotFound(t *testing.T) {
	_, _, c := newFakeKernel(t)
	_, err := c.Resolve("nonexistent0")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Errno != syscall.ENODEV {
		t.Fatalf("want RejectedError(ENODEV), got %#v", err)
	}
	if _, err := c.Resolve(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty name: %v", err)
	}
}

func TestGet_DecodesConfig(t *testing.T) {
	k, _, c := newFakeKernel(t)
	k.up = true
	k.state = StateErrorPassive
	cfg, err := c.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.Name != "can0" || cfg.Index != 7 || cfg.MTU != 16 || cfg.Kind != "can" {
		t.Fatalf("link fields: %+v", cfg)
	}
	if !cfg.Up || !cfg.Running || cfg.LinkState() != LinkUp {
		t.Fatalf("flags: up=%v running=%v state=%v", cfg.Up, cfg.Running, cfg.LinkState())
	}
	if cfg.BitTiming == nil || cfg.BitTiming.Bitrate != 500000 || cfg.BitTiming.SamplePoint != 875 {
		t.Fatalf("bittiming: %+v", cfg.BitTiming)
	}
	if cfg.BitTimingConst == nil || cfg.BitTimingConst.Name != "sja1000" || cfg.BitTimingConst.BRPMax != 64 {
		t.Fatalf("bittiming const: %+v", cfg.BitTimingConst)
	}
	if cfg.Clock != 8000000 || cfg.RestartMs != 100 || cfg.State != StateErrorPassive {
		t.Fatalf("scalars: %+v", cfg)
	}
	if cfg.CtrlMode.Supported&CtrlListenOnly == 0 {
		t.Fatalf("ctrlmode: %+v", cfg.CtrlMode)
	}
	if cfg.BerrCounter == nil || cfg.BerrCounter.Tx != 3 || cfg.BerrCounter.Rx != 7 {
		t.Fatalf("berr: %+v", cfg.BerrCounter)
	}
	if got := cfg.Extra[99]; len(got) != 4 || got[3] != 4 {
		t.Fatalf("unknown attribute not kept: %v", cfg.Extra)
	}
	if cfg.DataBitTiming != nil {
		t.Fatalf("data bittiming should be absent")
	}
}

func TestLinkState(t *testing.T) {
	cases := []struct {
		cfg  Config
		want LinkState
	}{
		{Config{Up: false, State: StateBusOff}, LinkDown},
		{Config{Up: true, State: StateErrorWarning}, LinkUp},
		{Config{Up: true, State: StateBusOff}, LinkBusOff},
		{Config{Up: true, State: StateStopped}, LinkStopped},
		{Config{Up: true, State: StateUnknown}, LinkUp},
	}
	for _, tc := range cases {
		if got := tc.cfg.LinkState(); got != tc.want {
			t.Fatalf("%+v: got %v want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestBitrateRoundTrip(t *testing.T) {
	k, _, c := newFakeKernel(t)
	if err := c.SetDown(7); err != nil {
		t.Fatalf("SetDown: %v", err)
	}
	if err := c.SetBitrate(7, 250000); err != nil {
		t.Fatalf("SetBitrate: %v", err)
	}
	if err := c.SetUp(7); err != nil {
		t.Fatalf("SetUp: %v", err)
	}
	cfg, err := c.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.BitTiming.Bitrate != 250000 || !k.up {
		t.Fatalf("bitrate %d up=%v", cfg.BitTiming.Bitrate, k.up)
	}
}

func TestSetBitTiming_RejectedWhileUp(t *testing.T) {
	k, _, c := newFakeKernel(t)
	k.up = true
	err := c.SetBitrate(7, 125000)
	if !errors.Is(err, ErrRejected) || !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("want rejection with EBUSY, got %v", err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrChannel) {
		t.Fatalf("misclassified: %v", err)
	}
	if k.bitrate != 500000 {
		t.Fatalf("bitrate changed to %d", k.bitrate)
	}
}

func TestSetCtrlMode(t *testing.T) {
	k, fc, c := newFakeKernel(t)
	k.ctrl.Enabled = CtrlLoopback
	if err := c.SetCtrlMode(7, Enable(CtrlListenOnly)); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := c.SetCtrlMode(7, Disable(CtrlLoopback)); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if k.ctrl.Enabled != CtrlListenOnly {
		t.Fatalf("enabled=%v", k.ctrl.Enabled)
	}
	if fl := fc.sent[0].Header.Flags; fl&netlink.Acknowledge == 0 || fl&netlink.Request == 0 {
		t.Fatalf("set request flags %v", fl)
	}
}

func TestExchange_DiscardsMismatchedSequence(t *testing.T) {
	k, fc, c := newFakeKernel(t)
	fc.handle = func(req netlink.Message) []reply {
		stale := netlink.Message{Header: netlink.Header{Type: rtmNewLink, Sequence: req.Header.Sequence - 1}, Data: []byte{1}}
		good := k.handle(req)
		return append([]reply{{msgs: []netlink.Message{stale}}}, good...)
	}
	cfg, err := c.Get(7)
	if err != nil || cfg.Name != "can0" {
		t.Fatalf("Get: %v %v", cfg, err)
	}
}

// An errno read ahead of the matching reply carries no sequence after
// netlink has decoded it, so the request is reported as rejected.
func TestExchange_ErrnoBeforeReplyRejects(t *testing.T) {
	k, fc, c := newFakeKernel(t)
	fc.handle = func(req netlink.Message) []reply {
		return append(rejected(syscall.EINVAL), k.handle(req)...)
	}
	_, err := c.Get(7)
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Errno != syscall.EINVAL || !errors.Is(err, ErrRejected) {
		t.Fatalf("want RejectedError(EINVAL), got %v", err)
	}
}

func TestExchange_NoResponse(t *testing.T) {
	fc := &fakeConn{handle: func(req netlink.Message) []reply {
		m := netlink.Message{Header: netlink.Header{Type: rtmNewLink, Sequence: req.Header.Sequence + 1}}
		return []reply{{msgs: []netlink.Message{m}}}
	}}
	c := controllerWith(fc)
	c.Timeout = 10 * time.Millisecond
	if _, err := c.Get(1); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("want ErrNoResponse, got %v", err)
	}
	if time.Until(fc.deadline) > 10*time.Millisecond {
		t.Fatalf("deadline ignores Timeout")
	}
}

func TestExchange_ChannelFailure(t *testing.T) {
	c := &Controller{dial: func() (conn, error) { return nil, syscall.EPROTONOSUPPORT }}
	if _, err := c.Resolve("can0"); !errors.Is(err, ErrChannel) {
		t.Fatalf("dial failure: %v", err)
	}
	fc := &fakeConn{handle: func(netlink.Message) []reply {
		return []reply{{err: &netlink.OpError{Op: "receive", Err: os.NewSyscallError("recvmsg", syscall.ENOBUFS)}}}
	}}
	if err := controllerWith(fc).SetUp(3); !errors.Is(err, ErrChannel) || errors.Is(err, ErrRejected) {
		t.Fatalf("socket failure: %v", err)
	}
}

func TestGet_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"short header":   make([]byte, 8),
		"bad attr len":   append(make([]byte, sizeIfInfomsg), 0xFF, 0x00, 0x03, 0x00),
		"short bittime":  linkWithCANAttr(iflaCANBittiming, make([]byte, 8)),
		"short ctrlmode": linkWithCANAttr(iflaCANCtrlmode, make([]byte, 4)),
		"bad state":      linkWithCANAttr(iflaCANState, make([]byte, 2)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fc := &fakeConn{handle: func(req netlink.Message) []reply {
				m := netlink.Message{Header: netlink.Header{Type: rtmNewLink, Sequence: req.Header.Sequence}, Data: body}
				return []reply{{msgs: []netlink.Message{m}}}
			}}
			if _, err := controllerWith(fc).Get(1); !errors.Is(err, ErrMalformed) {
				t.Fatalf("want ErrMalformed, got %v", err)
			}
		})
	}
}

func TestSet_WrongReplyType(t *testing.T) {
	fc := &fakeConn{handle: func(req netlink.Message) []reply {
		m := netlink.Message{Header: netlink.Header{Type: rtmNewLink, Sequence: req.Header.Sequence}}
		return []reply{{msgs: []netlink.Message{m}}}
	}}
	if err := controllerWith(fc).SetRestartMs(1, 100); !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestInvalidIndex(t *testing.T) {
	c := &Controller{dial: func() (conn, error) {
		t.Fatalf("no request expected")
		return nil, nil
	}}
	if _, err := c.Get(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(0): %v", err)
	}
	if err := c.Restart(-1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Restart(-1): %v", err)
	}
}

func TestCtrlModeFlags(t *testing.T) {
	if s := (CtrlFD | CtrlOneShot).String(); s != "one-shot|fd" {
		t.Fatalf("String=%q", s)
	}
	if f, ok := ParseCtrlMode("listen-only"); !ok || f != CtrlListenOnly {
		t.Fatalf("ParseCtrlMode")
	}
	if _, ok := ParseCtrlMode("bogus"); ok {
		t.Fatalf("bogus parsed")
	}
}

func TestSequenceNumbersDiffer(t *testing.T) {
	_, fc, c := newFakeKernel(t)
	_, _ = c.Get(7)
	_, _ = c.Get(7)
	if a, b := fc.sent[0].Header.Sequence, fc.sent[1].Header.Sequence; a == b || a == 0 || b == 0 {
		t.Fatalf("sequences %d %d", a, b)
	}
}

func linkWithCANAttr(typ uint16, data []byte) []byte {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(iflaLinkinfo, func(li *netlink.AttributeEncoder) error {
		li.String(iflaInfoKind, "can")
		li.Nested(iflaInfoData, func(d *netlink.AttributeEncoder) error {
			d.Bytes(typ, data)
			return nil
		})
		return nil
	})
	b, _ := ae.Encode()
	return append(ifInfomsg{Index: 1}.marshal(), b...)
}
