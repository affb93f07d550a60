package canlink

import (
	"fmt"
	"strings"
)

// BitTiming is struct can_bittiming. SamplePoint is in tenths of a percent
// (875 = 87.5%) and TQ in nanoseconds. Setting only Bitrate (and optionally
// SamplePoint) lets the driver compute the segments.
type BitTiming struct {
	Bitrate     uint32
	SamplePoint uint32
	TQ          uint32
	PropSeg     uint32
	PhaseSeg1   uint32
	PhaseSeg2   uint32
	SJW         uint32
	BRP         uint32
}

// BitTimingConst is struct can_bittiming_const: the hardware limits of a
// controller's bit-timing registers.
type BitTimingConst struct {
	Name     string
	TSeg1Min uint32
	TSeg1Max uint32
	TSeg2Min uint32
	TSeg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

// BerrCounter holds the controller's bus error counters.
type BerrCounter struct {
	Tx uint16
	Rx uint16
}

// CtrlModeFlags are CAN_CTRLMODE_* bits.
type CtrlModeFlags uint32

const (
	CtrlLoopback       CtrlModeFlags = 0x001
	CtrlListenOnly     CtrlModeFlags = 0x002
	CtrlTripleSampling CtrlModeFlags = 0x004
	CtrlOneShot        CtrlModeFlags = 0x008
	CtrlBerrReporting  CtrlModeFlags = 0x010
	CtrlFD             CtrlModeFlags = 0x020
	CtrlPresumeAck     CtrlModeFlags = 0x040
	CtrlFDNonISO       CtrlModeFlags = 0x080
	CtrlCCLen8DLC      CtrlModeFlags = 0x100
)

var ctrlNames = []struct {
	f    CtrlModeFlags
	name string
}{
	{CtrlLoopback, "loopback"},
	{CtrlListenOnly, "listen-only"},
	{CtrlTripleSampling, "triple-sampling"},
	{CtrlOneShot, "one-shot"},
	{CtrlBerrReporting, "berr-reporting"},
	{CtrlFD, "fd"},
	{CtrlPresumeAck, "presume-ack"},
	{CtrlFDNonISO, "fd-non-iso"},
	{CtrlCCLen8DLC, "cc-len8-dlc"},
}

// ParseCtrlMode returns the flag named s, as printed by CtrlModeFlags.String.
func ParseCtrlMode(s string) (CtrlModeFlags, bool) {
	for _, n := range ctrlNames {
		if n.name == s {
			return n.f, true
		}
	}
	return 0, false
}

func (f CtrlModeFlags) String() string {
	var parts []string
	rest := f
	for _, n := range ctrlNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
			rest &^= n.f
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint32(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CtrlMode is what the kernel reports: the modes a controller supports and
// the ones currently enabled.
type CtrlMode struct {
	Supported CtrlModeFlags
	Enabled   CtrlModeFlags
}

// CtrlModeChange is a struct can_ctrlmode request: bits in Mask are set to
// their value in Flags, all others stay unchanged.
type CtrlModeChange struct {
	Mask  CtrlModeFlags
	Flags CtrlModeFlags
}

// Enable returns a change that turns f on.
func Enable(f CtrlModeFlags) CtrlModeChange { return CtrlModeChange{Mask: f, Flags: f} }

// Disable returns a change that turns f off.
func Disable(f CtrlModeFlags) CtrlModeChange { return CtrlModeChange{Mask: f} }

// State is the CAN controller state (enum can_state).
type State uint32

const (
	StateErrorActive  State = 0
	StateErrorWarning State = 1
	StateErrorPassive State = 2
	StateBusOff       State = 3
	StateStopped      State = 4
	StateSleeping     State = 5

	// StateUnknown marks a link that did not report a CAN state.
	StateUnknown State = 0xFFFFFFFF
)

func (s State) String() string {
	switch s {
	case StateErrorActive:
		return "ERROR-ACTIVE"
	case StateErrorWarning:
		return "ERROR-WARNING"
	case StateErrorPassive:
		return "ERROR-PASSIVE"
	case StateBusOff:
		return "BUS-OFF"
	case StateStopped:
		return "STOPPED"
	case StateSleeping:
		return "SLEEPING"
	case StateUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// LinkState combines the administrative flag with the controller state.
type LinkState uint8

const (
	LinkDown LinkState = iota
	LinkUp
	LinkBusOff
	LinkStopped
)

func (s LinkState) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkUp:
		return "up"
	case LinkBusOff:
		return "bus-off"
	case LinkStopped:
		return "stopped"
	}
	return fmt.Sprintf("linkstate(%d)", uint8(s))
}

// Config is a snapshot of a CAN interface. Optional structures the driver
// did not report are nil.
type Config struct {
	Index   int
	Name    string
	Flags   uint32 // IFF_* flags
	Up      bool
	Running bool
	MTU     uint32
	Kind    string // "can", "vcan", ...

	State              State
	BitTiming          *BitTiming
	BitTimingConst     *BitTimingConst
	DataBitTiming      *BitTiming
	DataBitTimingConst *BitTimingConst
	Clock              uint32 // Hz
	CtrlMode           CtrlMode
	RestartMs          uint32
	BerrCounter        *BerrCounter
	Termination        uint16 // Ohm, 0 when off or unsupported

	// Extra holds IFLA_CAN_* attributes this package does not interpret.
	Extra map[uint16][]byte
}

// LinkState reports Down unless the interface is administratively up, then
// BusOff or Stopped if the controller says so, else Up.
func (c *Config) LinkState() LinkState {
	switch {
	case !c.Up:
		return LinkDown
	case c.State == StateBusOff:
		return LinkBusOff
	case c.State == StateStopped:
		return LinkStopped
	}
	return LinkUp
}
