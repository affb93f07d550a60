package can

import "fmt"

// InvFilter in Filter.ID inverts the filter (CAN_INV_FILTER).
const InvFilter uint32 = 0x20000000

// Filter is a kernel can_filter: a frame is accepted when
// (can_id & Mask) == (ID & Mask), where can_id includes the EFF and RTR flags.
// With InvFilter set in ID the result is negated.
type Filter struct {
	ID   uint32
	Mask uint32
}

// StandardFilter matches standard frames whose 11-bit address equals addr on
// the bits set in mask. Extended frames never match.
func StandardFilter(addr, mask uint32) Filter {
	return Filter{ID: addr & SFFMask, Mask: mask&SFFMask | EFFFlag}
}

// ExtendedFilter matches extended frames whose 29-bit address equals addr on
// the bits set in mask. Standard frames never match.
func ExtendedFilter(addr, mask uint32) Filter {
	return Filter{ID: addr&EFFMask | EFFFlag, Mask: mask&EFFMask | EFFFlag}
}

// IDFilter matches exactly one identifier, data and remote frames alike.
func IDFilter(id ID) Filter {
	if id.Extended() {
		return ExtendedFilter(id.Addr(), EFFMask)
	}
	return StandardFilter(id.Addr(), SFFMask)
}

// AcceptAll is the filter the kernel installs on a fresh socket.
var AcceptAll = Filter{}

// Invert returns the filter that accepts exactly the frames f rejects.
func (f Filter) Invert() Filter {
	f.ID ^= InvFilter
	return f
}

// Inverted reports whether InvFilter is set.
func (f Filter) Inverted() bool { return f.ID&InvFilter != 0 }

// Match evaluates the filter the way the kernel does. Error frames are not
// subject to filters; they are selected by the socket's error mask, so Match
// reports false for them.
func (f Filter) Match(fr Frame) bool {
	if fr == nil || fr.Kind() == KindError {
		return false
	}
	raw := fr.rawID()
	id := f.ID &^ InvFilter
	hit := raw&f.Mask == id&f.Mask
	if f.Inverted() {
		return !hit
	}
	return hit
}

// String uses the candump filter syntax: id:mask, or id~mask when inverted.
// The id is written with eight digits only when it carries EFFFlag, which
// is how candump tells extended filters apart.
func (f Filter) String() string {
	sep := ":"
	if f.Inverted() {
		sep = "~"
	}
	id := f.ID &^ InvFilter
	if id&EFFFlag != 0 {
		return fmt.Sprintf("%08X%s%08X", id, sep, f.Mask)
	}
	return fmt.Sprintf("%03X%s%08X", id, sep, f.Mask)
}

// Filters is a receive filter set: a frame passes if any filter matches.
type Filters []Filter

// Accept reports whether a socket with this filter set delivers fr. An empty
// set accepts every frame, and error frames always pass (see Match).
func (fs Filters) Accept(fr Frame) bool {
	if fr == nil {
		return false
	}
	if len(fs) == 0 || fr.Kind() == KindError {
		return true
	}
	for _, f := range fs {
		if f.Match(fr) {
			return true
		}
	}
	return false
}
