package can

import (
	"fmt"
	"slices"
	"strings"
)

// Payload limits of the two kernel frame structures.
const (
	MaxDataLen   = 8
	MaxFDDataLen = 64
)

// Kind identifies the variant of a Frame.
type Kind uint8

const (
	KindData Kind = iota
	KindRemote
	KindError
	KindFD
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindRemote:
		return "remote"
	case KindError:
		return "error"
	case KindFD:
		return "fd"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Frame is one of DataFrame, RemoteFrame, ErrorFrame or FDFrame. The set is
// closed; a type switch over those four types is exhaustive.
type Frame interface {
	Kind() Kind
	String() string
	MarshalBinary() ([]byte, error)

	// rawID returns the kernel can_id including flag bits.
	rawID() uint32
}

// DataFrame is a classic CAN data frame with up to 8 payload bytes.
type DataFrame struct {
	id      ID
	n       uint8
	len8DLC uint8
	data    [MaxDataLen]byte
}

// NewDataFrame copies data into a classic data frame.
func NewDataFrame(id ID, data []byte) (DataFrame, error) {
	if len(data) > MaxDataLen {
		return DataFrame{}, fmt.Errorf("%w: %d > %d", ErrDataLength, len(data), MaxDataLen)
	}
	f := DataFrame{id: id, n: uint8(len(data))}
	copy(f.data[:], data)
	return f, nil
}

func (f DataFrame) Kind() Kind { return KindData }
func (f DataFrame) ID() ID     { return f.id }
func (f DataFrame) Len() int   { return int(f.n) }

// Data returns a copy of the payload.
func (f DataFrame) Data() []byte { return slices.Clone(f.data[:f.n]) }

// DLC returns the data length code on the wire. It differs from Len only for
// 8-byte frames sent with a raw DLC of 9..15.
func (f DataFrame) DLC() uint8 {
	if f.len8DLC != 0 {
		return f.len8DLC
	}
	return f.n
}

// WithLen8DLC returns a copy of f that transmits the raw DLC dlc (9..15).
// Only 8-byte frames can carry it, and the controller must run with
// CC_LEN8_DLC enabled.
func (f DataFrame) WithLen8DLC(dlc uint8) (DataFrame, error) {
	if f.n != MaxDataLen || dlc < 9 || dlc > 15 {
		return DataFrame{}, fmt.Errorf("%w: len8_dlc %d on %d byte frame", ErrDataLength, dlc, f.n)
	}
	f.len8DLC = dlc
	return f, nil
}

func (f DataFrame) rawID() uint32 { return f.id.raw() }

func (f DataFrame) String() string {
	return fmt.Sprintf("%s [%d] %s", f.id, f.n, hexBytes(f.data[:f.n]))
}

// RemoteFrame asks the owner of an identifier to transmit n bytes. It carries
// no payload.
type RemoteFrame struct {
	id ID
	n  uint8
}

// NewRemoteFrame returns a remote request for n bytes.
func NewRemoteFrame(id ID, n int) (RemoteFrame, error) {
	if n < 0 || n > MaxDataLen {
		return RemoteFrame{}, fmt.Errorf("%w: remote length %d", ErrDataLength, n)
	}
	return RemoteFrame{id: id, n: uint8(n)}, nil
}

func (f RemoteFrame) Kind() Kind     { return KindRemote }
func (f RemoteFrame) ID() ID         { return f.id }
func (f RemoteFrame) Len() int       { return int(f.n) }
func (f RemoteFrame) rawID() uint32  { return f.id.raw() | RTRFlag }
func (f RemoteFrame) String() string { return fmt.Sprintf("%s [%d] remote", f.id, f.n) }

// ErrorFrame is generated by the controller driver to report bus conditions
// in-band. The identifier field holds an ErrorClass and the payload the
// detail bytes; see DecodeError.
type ErrorFrame struct {
	class uint32
	data  [MaxDataLen]byte
}

func newErrorFrame(class uint32, data [MaxDataLen]byte) ErrorFrame {
	return ErrorFrame{class: class & ERRMask, data: data}
}

func (f ErrorFrame) Kind() Kind             { return KindError }
func (f ErrorFrame) Class() ErrorClass      { return ErrorClass(f.class) }
func (f ErrorFrame) Data() [MaxDataLen]byte { return f.data }
func (f ErrorFrame) Diagnostic() Diagnostic { return DecodeError(f.class, f.data) }
func (f ErrorFrame) rawID() uint32          { return f.class | ERRFlag }
func (f ErrorFrame) String() string {
	return fmt.Sprintf("error %s [8] %s", ErrorClass(f.class), hexBytes(f.data[:]))
}

// FDFlags are the per-frame flags of a CAN FD frame.
type FDFlags uint8

const (
	FlagBRS FDFlags = 0x01 // bit rate switch: data phase at the data bit-rate
	FlagESI FDFlags = 0x02 // error state indicator of the transmitter
	FlagFDF FDFlags = 0x04 // marks a CAN FD frame; set by newer kernels on receive

	fdFlagsKnown = FlagBRS | FlagESI | FlagFDF
)

func (fl FDFlags) String() string {
	var parts []string
	if fl&FlagBRS != 0 {
		parts = append(parts, "BRS")
	}
	if fl&FlagESI != 0 {
		parts = append(parts, "ESI")
	}
	if fl&FlagFDF != 0 {
		parts = append(parts, "FDF")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// FDFrame is a CAN FD data frame with up to 64 payload bytes.
type FDFrame struct {
	id    ID
	n     uint8
	flags FDFlags
	data  [MaxFDDataLen]byte
}

// NewFDFrame copies data into a CAN FD frame. len(data) must be one of the
// lengths a DLC can express (0..8, 12, 16, 20, 24, 32, 48, 64); use
// PadFDLength to round a payload up.
func NewFDFrame(id ID, data []byte, flags FDFlags) (FDFrame, error) {
	if !ValidFDLength(len(data)) {
		return FDFrame{}, fmt.Errorf("%w: %d", ErrFDLength, len(data))
	}
	if flags&^fdFlagsKnown != 0 {
		return FDFrame{}, fmt.Errorf("%w: 0x%02X", ErrFDFlags, uint8(flags))
	}
	f := FDFrame{id: id, n: uint8(len(data)), flags: flags}
	copy(f.data[:], data)
	return f, nil
}

func (f FDFrame) Kind() Kind     { return KindFD }
func (f FDFrame) ID() ID         { return f.id }
func (f FDFrame) Len() int       { return int(f.n) }
func (f FDFrame) Flags() FDFlags { return f.flags }
func (f FDFrame) Data() []byte   { return slices.Clone(f.data[:f.n]) }
func (f FDFrame) rawID() uint32  { return f.id.raw() }
func (f FDFrame) String() string {
	return fmt.Sprintf("%s [%02d] %s %s", f.id, f.n, f.flags, hexBytes(f.data[:f.n]))
}

// fdLengths maps a DLC (index) to the CAN FD payload length.
var fdLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// ValidFDLength reports whether n is a payload length a CAN FD frame can carry.
func ValidFDLength(n int) bool {
	if n < 0 || n > MaxFDDataLen {
		return false
	}
	return int(fdLengths[LenToDLC(n)]) == n
}

// LenToDLC returns the smallest DLC whose payload holds n bytes.
func LenToDLC(n int) uint8 {
	for dlc, l := range fdLengths {
		if int(l) >= n {
			return uint8(dlc)
		}
	}
	return 15
}

// DLCToLen returns the payload length of a CAN FD DLC (only the low nibble counts).
func DLCToLen(dlc uint8) int { return int(fdLengths[dlc&0x0F]) }

// PadFDLength rounds n up to the next permitted CAN FD length.
func PadFDLength(n int) int {
	if n > MaxFDDataLen {
		return n
	}
	return int(fdLengths[LenToDLC(n)])
}

// ComparePriority orders frames for a transmit queue: lower identifier
// first, a data frame before a remote frame of the same identifier. Error
// frames have no bus identifier and sort last.
func ComparePriority(a, b Frame) int {
	ia, oka := frameID(a)
	ib, okb := frameID(b)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return 1
	case !okb:
		return -1
	}
	if c := ia.Compare(ib); c != 0 {
		return c
	}
	ra, rb := a.Kind() == KindRemote, b.Kind() == KindRemote
	switch {
	case ra == rb:
		return 0
	case rb:
		return -1
	}
	return 1
}

// SortByPriority sorts frames in place with ComparePriority; equal frames keep their order.
func SortByPriority(frames []Frame) {
	slices.SortStableFunc(frames, ComparePriority)
}

func frameID(f Frame) (ID, bool) {
	switch v := f.(type) {
	case DataFrame:
		return v.id, true
	case RemoteFrame:
		return v.id, true
	case FDFrame:
		return v.id, true
	}
	return ID{}, false
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
