package can

import (
	"fmt"
	"strings"
)

// ErrorClass is the class bitmask carried in the identifier of an error
// frame (CAN_ERR_* in linux/can/error.h). As a socket option it selects
// which classes are delivered.
type ErrorClass uint32

const (
	ErrClassTxTimeout   ErrorClass = 0x00000001 // TX timeout (by netdevice driver)
	ErrClassLostArb     ErrorClass = 0x00000002 // lost arbitration, see data[0]
	ErrClassController  ErrorClass = 0x00000004 // controller problems, see data[1]
	ErrClassProtocol    ErrorClass = 0x00000008 // protocol violations, see data[2..3]
	ErrClassTransceiver ErrorClass = 0x00000010 // transceiver status, see data[4]
	ErrClassNoAck       ErrorClass = 0x00000020 // received no ACK on transmission
	ErrClassBusOff      ErrorClass = 0x00000040 // bus off
	ErrClassBusError    ErrorClass = 0x00000080 // bus error
	ErrClassRestarted   ErrorClass = 0x00000100 // controller restarted
	ErrClassCounters    ErrorClass = 0x00000200 // TX/RX error counters in data[6..7]

	ErrClassKnown = ErrClassTxTimeout | ErrClassLostArb | ErrClassController |
		ErrClassProtocol | ErrClassTransceiver | ErrClassNoAck | ErrClassBusOff |
		ErrClassBusError | ErrClassRestarted | ErrClassCounters

	// ErrClassAll selects every error class, including ones defined by
	// kernels newer than this package.
	ErrClassAll = ErrorClass(ERRMask)
)

var errClassNames = []struct {
	c    ErrorClass
	name string
}{
	{ErrClassTxTimeout, "tx-timeout"},
	{ErrClassLostArb, "lost-arbitration"},
	{ErrClassController, "controller"},
	{ErrClassProtocol, "protocol"},
	{ErrClassTransceiver, "transceiver"},
	{ErrClassNoAck, "no-ack"},
	{ErrClassBusOff, "bus-off"},
	{ErrClassBusError, "bus-error"},
	{ErrClassRestarted, "restarted"},
	{ErrClassCounters, "counters"},
}

// Names lists the known classes set in c.
func (c ErrorClass) Names() []string {
	var out []string
	for _, n := range errClassNames {
		if c&n.c != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (c ErrorClass) String() string {
	names := c.Names()
	if rest := c &^ ErrClassKnown; rest != 0 {
		names = append(names, fmt.Sprintf("0x%X", uint32(rest)))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ControllerStatus is data[1] of an error frame (CAN_ERR_CRTL_*).
type ControllerStatus uint8

const (
	CtrlRxOverflow ControllerStatus = 0x01
	CtrlTxOverflow ControllerStatus = 0x02
	CtrlRxWarning  ControllerStatus = 0x04
	CtrlTxWarning  ControllerStatus = 0x08
	CtrlRxPassive  ControllerStatus = 0x10
	CtrlTxPassive  ControllerStatus = 0x20
	CtrlActive     ControllerStatus = 0x40 // recovered to error active state
)

func (s ControllerStatus) String() string {
	return bitNames(uint8(s), []string{"rx-overflow", "tx-overflow", "rx-warning", "tx-warning", "rx-passive", "tx-passive", "active"})
}

// ProtocolType is data[2] of an error frame (CAN_ERR_PROT_*).
type ProtocolType uint8

const (
	ProtoBit      ProtocolType = 0x01 // single bit error
	ProtoForm     ProtocolType = 0x02 // frame format error
	ProtoStuff    ProtocolType = 0x04 // bit stuffing error
	ProtoBit0     ProtocolType = 0x08 // unable to send dominant bit
	ProtoBit1     ProtocolType = 0x10 // unable to send recessive bit
	ProtoOverload ProtocolType = 0x20 // bus overload
	ProtoActive   ProtocolType = 0x40 // active error announcement
	ProtoTx       ProtocolType = 0x80 // error occurred on transmission
)

func (t ProtocolType) String() string {
	return bitNames(uint8(t), []string{"bit", "form", "stuff", "bit0", "bit1", "overload", "active", "tx"})
}

// ProtocolLocation is data[3] of an error frame (CAN_ERR_PROT_LOC_*): the
// frame field in which a protocol violation was detected.
type ProtocolLocation uint8

const (
	LocUnspecified  ProtocolLocation = 0x00
	LocSOF          ProtocolLocation = 0x03
	LocID28_21      ProtocolLocation = 0x02
	LocID20_18      ProtocolLocation = 0x06
	LocSRTR         ProtocolLocation = 0x04
	LocIDE          ProtocolLocation = 0x05
	LocID17_13      ProtocolLocation = 0x07
	LocID12_05      ProtocolLocation = 0x0F
	LocID04_00      ProtocolLocation = 0x0E
	LocRTR          ProtocolLocation = 0x0C
	LocRes1         ProtocolLocation = 0x0D
	LocRes0         ProtocolLocation = 0x09
	LocDLC          ProtocolLocation = 0x0B
	LocData         ProtocolLocation = 0x0A
	LocCRCSeq       ProtocolLocation = 0x08
	LocCRCDel       ProtocolLocation = 0x18
	LocAck          ProtocolLocation = 0x19
	LocAckDel       ProtocolLocation = 0x1B
	LocEOF          ProtocolLocation = 0x1A
	LocIntermission ProtocolLocation = 0x12
)

var locNames = map[ProtocolLocation]string{
	LocUnspecified:  "unspecified",
	LocSOF:          "start-of-frame",
	LocID28_21:      "id.28-21",
	LocID20_18:      "id.20-18",
	LocSRTR:         "srtr",
	LocIDE:          "ide",
	LocID17_13:      "id.17-13",
	LocID12_05:      "id.12-05",
	LocID04_00:      "id.04-00",
	LocRTR:          "rtr",
	LocRes1:         "reserved-1",
	LocRes0:         "reserved-0",
	LocDLC:          "dlc",
	LocData:         "data",
	LocCRCSeq:       "crc-sequence",
	LocCRCDel:       "crc-delimiter",
	LocAck:          "ack-slot",
	LocAckDel:       "ack-delimiter",
	LocEOF:          "end-of-frame",
	LocIntermission: "intermission",
}

// Known reports whether l is one of the kernel-defined locations.
func (l ProtocolLocation) Known() bool {
	_, ok := locNames[l]
	return ok
}

func (l ProtocolLocation) String() string {
	if n, ok := locNames[l]; ok {
		return n
	}
	return fmt.Sprintf("location(0x%02X)", uint8(l))
}

// TransceiverStatus is data[4] of an error frame (CAN_ERR_TRX_*). The low
// nibble describes CANH, the high nibble CANL.
type TransceiverStatus uint8

const (
	TrxUnspecified     TransceiverStatus = 0x00
	TrxCANHNoWire      TransceiverStatus = 0x04
	TrxCANHShortToBat  TransceiverStatus = 0x05
	TrxCANHShortToVcc  TransceiverStatus = 0x06
	TrxCANHShortToGnd  TransceiverStatus = 0x07
	TrxCANLNoWire      TransceiverStatus = 0x40
	TrxCANLShortToBat  TransceiverStatus = 0x50
	TrxCANLShortToVcc  TransceiverStatus = 0x60
	TrxCANLShortToGnd  TransceiverStatus = 0x70
	TrxCANLShortToCANH TransceiverStatus = 0x80
)

func (s TransceiverStatus) CANH() uint8 { return uint8(s) & 0x0F }
func (s TransceiverStatus) CANL() uint8 { return uint8(s) & 0xF0 }

func (s TransceiverStatus) String() string {
	if s == TrxUnspecified {
		return "unspecified"
	}
	var parts []string
	switch s.CANH() {
	case 0:
	case 0x04:
		parts = append(parts, "canh-no-wire")
	case 0x05:
		parts = append(parts, "canh-short-to-bat")
	case 0x06:
		parts = append(parts, "canh-short-to-vcc")
	case 0x07:
		parts = append(parts, "canh-short-to-gnd")
	default:
		parts = append(parts, fmt.Sprintf("canh(0x%X)", s.CANH()))
	}
	switch s.CANL() {
	case 0:
	case 0x40:
		parts = append(parts, "canl-no-wire")
	case 0x50:
		parts = append(parts, "canl-short-to-bat")
	case 0x60:
		parts = append(parts, "canl-short-to-vcc")
	case 0x70:
		parts = append(parts, "canl-short-to-gnd")
	case 0x80:
		parts = append(parts, "canl-short-to-canh")
	default:
		parts = append(parts, fmt.Sprintf("canl(0x%X)", s.CANL()>>4))
	}
	return strings.Join(parts, "|")
}

// ProtocolViolation details an ErrClassProtocol condition.
type ProtocolViolation struct {
	Type     ProtocolType
	Location ProtocolLocation
}

// ErrorCounters are the controller's transmit and receive error counters.
type ErrorCounters struct {
	Tx uint8
	Rx uint8
}

// Diagnostic is the structured form of an error frame. Detail fields are
// only meaningful when the corresponding class bit is set in Class; their
// raw bytes are kept as-is so unknown bit values survive decoding.
type Diagnostic struct {
	Class ErrorClass

	// LostArbitrationBit is the bit position arbitration was lost at; 0 if unspecified.
	LostArbitrationBit uint8
	Controller         ControllerStatus
	Protocol           ProtocolViolation
	Transceiver        TransceiverStatus
	// ControllerSpecific is data[5], whose meaning depends on the driver.
	ControllerSpecific uint8
	Counters           ErrorCounters

	// Unrecognized holds class bits this package does not know.
	Unrecognized ErrorClass
}

// DecodeError interprets an error frame's class bitmask and detail bytes.
// Every input maps to a Diagnostic. class may be the raw can_id: bits 29-31
// are the EFF/RTR/ERR frame flags, not error classes, and are masked off
// with ERRMask. Unknown bits inside ERRMask end up in Unrecognized.
func DecodeError(class uint32, data [8]byte) Diagnostic {
	c := ErrorClass(class & ERRMask)
	return Diagnostic{
		Class:              c,
		LostArbitrationBit: data[0],
		Controller:         ControllerStatus(data[1]),
		Protocol:           ProtocolViolation{Type: ProtocolType(data[2]), Location: ProtocolLocation(data[3])},
		Transceiver:        TransceiverStatus(data[4]),
		ControllerSpecific: data[5],
		Counters:           ErrorCounters{Tx: data[6], Rx: data[7]},
		Unrecognized:       c &^ ErrClassKnown,
	}
}

func (d Diagnostic) Has(c ErrorClass) bool { return d.Class&c != 0 }

func (d Diagnostic) TxTimeout() bool       { return d.Has(ErrClassTxTimeout) }
func (d Diagnostic) LostArbitration() bool { return d.Has(ErrClassLostArb) }
func (d Diagnostic) NoAck() bool           { return d.Has(ErrClassNoAck) }
func (d Diagnostic) BusOff() bool          { return d.Has(ErrClassBusOff) }
func (d Diagnostic) BusError() bool        { return d.Has(ErrClassBusError) }
func (d Diagnostic) Restarted() bool       { return d.Has(ErrClassRestarted) }

// Conditions returns a human readable entry per asserted condition, detail
// included, in class bit order.
func (d Diagnostic) Conditions() []string {
	var out []string
	if d.Has(ErrClassTxTimeout) {
		out = append(out, "tx-timeout")
	}
	if d.Has(ErrClassLostArb) {
		if d.LostArbitrationBit == 0 {
			out = append(out, "lost-arbitration")
		} else {
			out = append(out, fmt.Sprintf("lost-arbitration(bit %d)", d.LostArbitrationBit))
		}
	}
	if d.Has(ErrClassController) {
		out = append(out, "controller("+d.Controller.String()+")")
	}
	if d.Has(ErrClassProtocol) {
		out = append(out, fmt.Sprintf("protocol(%s@%s)", d.Protocol.Type, d.Protocol.Location))
	}
	if d.Has(ErrClassTransceiver) {
		out = append(out, "transceiver("+d.Transceiver.String()+")")
	}
	if d.Has(ErrClassNoAck) {
		out = append(out, "no-ack")
	}
	if d.Has(ErrClassBusOff) {
		out = append(out, "bus-off")
	}
	if d.Has(ErrClassBusError) {
		out = append(out, "bus-error")
	}
	if d.Has(ErrClassRestarted) {
		out = append(out, "restarted")
	}
	if d.Has(ErrClassCounters) {
		out = append(out, fmt.Sprintf("counters(tx=%d rx=%d)", d.Counters.Tx, d.Counters.Rx))
	}
	if d.Unrecognized != 0 {
		out = append(out, fmt.Sprintf("unrecognized(0x%X)", uint32(d.Unrecognized)))
	}
	return out
}

func (d Diagnostic) String() string {
	c := d.Conditions()
	if len(c) == 0 {
		return "no error"
	}
	return strings.Join(c, ", ")
}

func bitNames(v uint8, names []string) string {
	if v == 0 {
		return "unspecified"
	}
	var parts []string
	for i := 0; i < 8; i++ {
		bit := uint8(1) << i
		if v&bit == 0 {
			continue
		}
		if i < len(names) {
			parts = append(parts, names[i])
		} else {
			parts = append(parts, fmt.Sprintf("0x%02X", bit))
		}
	}
	return strings.Join(parts, "|")
}
