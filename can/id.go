package can

import "fmt"

// Flag bits and masks of the kernel can_id field (same values as <linux/can.h>).
const (
	EFFFlag uint32 = 0x80000000 // extended frame format
	RTRFlag uint32 = 0x40000000 // remote transmission request
	ERRFlag uint32 = 0x20000000 // error message frame

	SFFMask uint32 = 0x000007FF
	EFFMask uint32 = 0x1FFFFFFF
	ERRMask uint32 = 0x1FFFFFFF
)

// Largest address of each identifier form.
const (
	MaxStandardID = SFFMask
	MaxExtendedID = EFFMask
)

// Format tells a standard (11-bit) identifier from an extended (29-bit) one.
type Format uint8

const (
	FormatStandard Format = iota
	FormatExtended
)

func (f Format) String() string {
	if f == FormatExtended {
		return "extended"
	}
	return "standard"
}

// ID is a CAN bus identifier. The zero value is the standard identifier 0x000,
// the highest priority on any bus.
//
// An ID never carries the RTR or ERR bits; those belong to the frame.
type ID struct {
	addr uint32
	ext  bool
}

// StandardID returns the 11-bit identifier addr.
func StandardID(addr uint32) (ID, error) {
	if addr > MaxStandardID {
		return ID{}, fmt.Errorf("%w: standard 0x%X > 0x%X", ErrIDRange, addr, MaxStandardID)
	}
	return ID{addr: addr}, nil
}

// ExtendedID returns the 29-bit identifier addr.
func ExtendedID(addr uint32) (ID, error) {
	if addr > MaxExtendedID {
		return ID{}, fmt.Errorf("%w: extended 0x%X > 0x%X", ErrIDRange, addr, MaxExtendedID)
	}
	return ID{addr: addr, ext: true}, nil
}

// NewID returns a standard or extended identifier depending on extended.
func NewID(addr uint32, extended bool) (ID, error) {
	if extended {
		return ExtendedID(addr)
	}
	return StandardID(addr)
}

func (id ID) Addr() uint32   { return id.addr }
func (id ID) Extended() bool { return id.ext }

// Format classifies the identifier.
func (id ID) Format() Format {
	if id.ext {
		return FormatExtended
	}
	return FormatStandard
}

// base returns the 11 most significant identifier bits sent during arbitration.
func (id ID) base() uint32 {
	if id.ext {
		return id.addr >> 18
	}
	return id.addr
}

// Compare orders identifiers by bus priority and returns -1 when id wins
// arbitration against other, +1 when it loses and 0 only for identical IDs.
//
// The base identifier is transmitted first. On an equal base the standard
// frame wins because its IDE bit is dominant; two extended IDs then compare
// their remaining 18 bits.
func (id ID) Compare(other ID) int {
	a, b := id.base(), other.base()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	switch {
	case id.ext == other.ext:
	case !id.ext:
		return -1
	default:
		return 1
	}
	switch {
	case id.addr < other.addr:
		return -1
	case id.addr > other.addr:
		return 1
	}
	return 0
}

// Less reports whether id has a strictly higher bus priority than other.
func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

// String formats the address the way candump does: three hex digits for a
// standard ID and eight for an extended one.
func (id ID) String() string {
	if id.ext {
		return fmt.Sprintf("%08X", id.addr)
	}
	return fmt.Sprintf("%03X", id.addr)
}

// raw returns the kernel can_id value without RTR/ERR bits.
func (id ID) raw() uint32 {
	if id.ext {
		return id.addr | EFFFlag
	}
	return id.addr
}

// idFromRaw splits a kernel can_id into an ID. Bits above the 11-bit range of
// a standard identifier make the value inconsistent.
func idFromRaw(raw uint32) (ID, error) {
	if raw&EFFFlag != 0 {
		return ID{addr: raw & EFFMask, ext: true}, nil
	}
	if raw&EFFMask&^SFFMask != 0 {
		return ID{}, fmt.Errorf("%w: standard can_id 0x%08X has extended address bits", ErrDecode, raw)
	}
	return ID{addr: raw & SFFMask}, nil
}
