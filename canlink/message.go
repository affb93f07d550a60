package canlink

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
)

// rtnetlink ABI (linux/rtnetlink.h, linux/if_link.h, linux/can/netlink.h).
const (
	familyRoute = 0 // NETLINK_ROUTE

	rtmNewLink = 16
	rtmGetLink = 18

	iffUp      = 0x1
	iffRunning = 0x40

	iflaIfname   = 3
	iflaMTU      = 4
	iflaLinkinfo = 18

	iflaInfoKind = 1
	iflaInfoData = 2

	iflaCANBittiming          = 1
	iflaCANBittimingConst     = 2
	iflaCANClock              = 3
	iflaCANState              = 4
	iflaCANCtrlmode           = 5
	iflaCANRestartMs          = 6
	iflaCANRestart            = 7
	iflaCANBerrCounter        = 8
	iflaCANDataBittiming      = 9
	iflaCANDataBittimingConst = 10
	iflaCANTermination        = 11

	ifnamsiz = 16
)

// Sizes of the fixed structures carried in messages and attributes.
const (
	sizeIfInfomsg      = 16
	sizeBittiming      = 32
	sizeBittimingConst = 48
	sizeCtrlmode       = 8
	sizeBerrCounter    = 4
)

var hostOrder = binary.NativeEndian

// ifInfomsg is struct ifinfomsg:
//
//	[0]     ifi_family
//	[1]     pad
//	[2:4]   ifi_type
//	[4:8]   ifi_index
//	[8:12]  ifi_flags
//	[12:16] ifi_change
type ifInfomsg struct {
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

func (m ifInfomsg) marshal() []byte {
	b := make([]byte, sizeIfInfomsg)
	hostOrder.PutUint16(b[2:], m.Type)
	hostOrder.PutUint32(b[4:], uint32(m.Index))
	hostOrder.PutUint32(b[8:], m.Flags)
	hostOrder.PutUint32(b[12:], m.Change)
	return b
}

func parseIfInfomsg(b []byte) (ifInfomsg, error) {
	if len(b) < sizeIfInfomsg {
		return ifInfomsg{}, fmt.Errorf("%w: ifinfomsg %d bytes", ErrMalformed, len(b))
	}
	return ifInfomsg{
		Type:   hostOrder.Uint16(b[2:]),
		Index:  int32(hostOrder.Uint32(b[4:])),
		Flags:  hostOrder.Uint32(b[8:]),
		Change: hostOrder.Uint32(b[12:]),
	}, nil
}

func (bt BitTiming) marshal() []byte {
	b := make([]byte, sizeBittiming)
	for i, v := range []uint32{bt.Bitrate, bt.SamplePoint, bt.TQ, bt.PropSeg, bt.PhaseSeg1, bt.PhaseSeg2, bt.SJW, bt.BRP} {
		hostOrder.PutUint32(b[4*i:], v)
	}
	return b
}

func parseBitTiming(b []byte) (*BitTiming, error) {
	if len(b) < sizeBittiming {
		return nil, fmt.Errorf("%w: can_bittiming %d bytes", ErrMalformed, len(b))
	}
	u := func(i int) uint32 { return hostOrder.Uint32(b[4*i:]) }
	return &BitTiming{
		Bitrate: u(0), SamplePoint: u(1), TQ: u(2), PropSeg: u(3),
		PhaseSeg1: u(4), PhaseSeg2: u(5), SJW: u(6), BRP: u(7),
	}, nil
}

// struct can_bittiming_const: char name[16] followed by eight u32.
func parseBitTimingConst(b []byte) (*BitTimingConst, error) {
	if len(b) < sizeBittimingConst {
		return nil, fmt.Errorf("%w: can_bittiming_const %d bytes", ErrMalformed, len(b))
	}
	name := b[:ifnamsiz]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	u := func(i int) uint32 { return hostOrder.Uint32(b[ifnamsiz+4*i:]) }
	return &BitTimingConst{
		Name:     string(name),
		TSeg1Min: u(0), TSeg1Max: u(1), TSeg2Min: u(2), TSeg2Max: u(3),
		SJWMax: u(4), BRPMin: u(5), BRPMax: u(6), BRPInc: u(7),
	}, nil
}

func (c CtrlModeChange) marshal() []byte {
	b := make([]byte, sizeCtrlmode)
	hostOrder.PutUint32(b[0:], uint32(c.Mask))
	hostOrder.PutUint32(b[4:], uint32(c.Flags))
	return b
}

// encodeLinkInfo wraps CAN attributes in IFLA_LINKINFO{kind "can", data}.
func encodeLinkInfo(ae *netlink.AttributeEncoder, data func(*netlink.AttributeEncoder) error) {
	ae.Nested(iflaLinkinfo, func(li *netlink.AttributeEncoder) error {
		li.String(iflaInfoKind, "can")
		li.Nested(iflaInfoData, data)
		return nil
	})
}

// parseLink decodes an RTM_NEWLINK message body into a Config.
func parseLink(b []byte) (*Config, error) {
	hdr, err := parseIfInfomsg(b)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Index:   int(hdr.Index),
		Flags:   hdr.Flags,
		Up:      hdr.Flags&iffUp != 0,
		Running: hdr.Flags&iffRunning != 0,
		State:   StateUnknown,
	}
	ad, err := netlink.NewAttributeDecoder(b[sizeIfInfomsg:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for ad.Next() {
		switch ad.Type() {
		case iflaIfname:
			cfg.Name = ad.String()
		case iflaMTU:
			cfg.MTU = ad.Uint32()
		case iflaLinkinfo:
			ad.Nested(func(li *netlink.AttributeDecoder) error {
				return parseLinkInfo(li, cfg)
			})
		}
	}
	if err := ad.Err(); err != nil {
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return cfg, nil
}

func parseLinkInfo(li *netlink.AttributeDecoder, cfg *Config) error {
	for li.Next() {
		switch li.Type() {
		case iflaInfoKind:
			cfg.Kind = li.String()
		case iflaInfoData:
			// The kernel emits the kind first; data of other link types
			// has a different attribute space.
			if cfg.Kind != "can" {
				continue
			}
			li.Nested(func(d *netlink.AttributeDecoder) error {
				return parseCANData(d, cfg)
			})
		}
	}
	return nil
}

func parseCANData(d *netlink.AttributeDecoder, cfg *Config) error {
	var err error
	for d.Next() && err == nil {
		switch typ := d.Type(); typ {
		case iflaCANBittiming:
			cfg.BitTiming, err = parseBitTiming(d.Bytes())
		case iflaCANBittimingConst:
			cfg.BitTimingConst, err = parseBitTimingConst(d.Bytes())
		case iflaCANDataBittiming:
			cfg.DataBitTiming, err = parseBitTiming(d.Bytes())
		case iflaCANDataBittimingConst:
			cfg.DataBitTimingConst, err = parseBitTimingConst(d.Bytes())
		case iflaCANClock:
			// struct can_clock { __u32 freq; }
			cfg.Clock = d.Uint32()
		case iflaCANState:
			cfg.State = State(d.Uint32())
		case iflaCANCtrlmode:
			b := d.Bytes()
			if len(b) < sizeCtrlmode {
				err = fmt.Errorf("%w: can_ctrlmode %d bytes", ErrMalformed, len(b))
				break
			}
			cfg.CtrlMode = CtrlMode{
				Supported: CtrlModeFlags(hostOrder.Uint32(b[0:])),
				Enabled:   CtrlModeFlags(hostOrder.Uint32(b[4:])),
			}
		case iflaCANRestartMs:
			cfg.RestartMs = d.Uint32()
		case iflaCANBerrCounter:
			b := d.Bytes()
			if len(b) < sizeBerrCounter {
				err = fmt.Errorf("%w: can_berr_counter %d bytes", ErrMalformed, len(b))
				break
			}
			cfg.BerrCounter = &BerrCounter{Tx: hostOrder.Uint16(b[0:]), Rx: hostOrder.Uint16(b[2:])}
		case iflaCANTermination:
			cfg.Termination = d.Uint16()
		default:
			if cfg.Extra == nil {
				cfg.Extra = make(map[uint16][]byte)
			}
			cfg.Extra[typ] = d.Bytes()
		}
	}
	return err
}
