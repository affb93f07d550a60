package can

import (
	"encoding/binary"
	"fmt"
)

// Sizes of the kernel frame structures (CAN_MTU and CANFD_MTU).
const (
	ClassicSize = 16
	FDSize      = 72
)

// struct can_frame (linux/can.h), fields in host byte order:
//
//	[0:4]  can_id   (EFF/RTR/ERR flags in the top bits)
//	[4]    len      (0..8)
//	[5]    __pad
//	[6]    __res0
//	[7]    len8_dlc (9..15 when len == 8, else 0)
//	[8:16] data
//
// struct canfd_frame:
//
//	[0:4]  can_id
//	[4]    len      (0..64, DLC-expressible values only)
//	[5]    flags    (CANFD_BRS, CANFD_ESI, CANFD_FDF)
//	[6]    __res0
//	[7]    __res1
//	[8:72] data
const (
	offID      = 0
	offLen     = 4
	offFDFlags = 5
	offLen8DLC = 7
	offData    = 8
)

var hostOrder = binary.NativeEndian

// Encode returns the kernel representation of f: ClassicSize bytes for data,
// remote and error frames, FDSize bytes for FD frames. Reserved bytes and
// unused payload are zero. Only a nil frame or a type wrapping one of the
// variants fails.
func Encode(f Frame) ([]byte, error) {
	if b := encode(f); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: cannot encode %T", ErrInvalid, f)
}

func encode(f Frame) []byte {
	switch v := f.(type) {
	case DataFrame:
		b := make([]byte, ClassicSize)
		putHeader(b, v.rawID(), v.n)
		b[offLen8DLC] = v.len8DLC
		copy(b[offData:], v.data[:v.n])
		return b
	case RemoteFrame:
		b := make([]byte, ClassicSize)
		putHeader(b, v.rawID(), v.n)
		return b
	case ErrorFrame:
		b := make([]byte, ClassicSize)
		putHeader(b, v.rawID(), MaxDataLen)
		copy(b[offData:], v.data[:])
		return b
	case FDFrame:
		b := make([]byte, FDSize)
		putHeader(b, v.rawID(), v.n)
		b[offFDFlags] = uint8(v.flags)
		copy(b[offData:], v.data[:v.n])
		return b
	}
	return nil
}

func putHeader(b []byte, rawID uint32, n uint8) {
	hostOrder.PutUint32(b[offID:], rawID)
	b[offLen] = n
}

func (f DataFrame) MarshalBinary() ([]byte, error)   { return encode(f), nil }
func (f RemoteFrame) MarshalBinary() ([]byte, error) { return encode(f), nil }
func (f ErrorFrame) MarshalBinary() ([]byte, error)  { return encode(f), nil }
func (f FDFrame) MarshalBinary() ([]byte, error)     { return encode(f), nil }

// Decode parses one kernel frame. The buffer size selects the structure;
// any other size, length and flag fields the structure cannot hold, or
// bytes Encode would not reproduce (non-zero reserved bytes, payload past
// len, payload on a remote frame, len8_dlc outside 9..15 with len 8) yield
// an error wrapping ErrDecode. Every accepted buffer re-encodes to itself.
func Decode(b []byte) (Frame, error) {
	switch len(b) {
	case ClassicSize:
		return decodeClassic(b)
	case FDSize:
		return decodeFD(b)
	}
	return nil, fmt.Errorf("%w: %d bytes is neither %d nor %d", ErrDecode, len(b), ClassicSize, FDSize)
}

func decodeClassic(b []byte) (Frame, error) {
	raw := hostOrder.Uint32(b[offID:])
	n := b[offLen]
	if n > MaxDataLen {
		return nil, fmt.Errorf("%w: classic len %d", ErrDecode, n)
	}
	if b[offLen+1] != 0 || b[offLen+2] != 0 {
		return nil, fmt.Errorf("%w: reserved bytes 0x%02X 0x%02X", ErrDecode, b[offLen+1], b[offLen+2])
	}
	dlc := b[offLen8DLC]
	if dlc != 0 && (raw&(ERRFlag|RTRFlag) != 0 || n != MaxDataLen || dlc <= MaxDataLen || dlc > 15) {
		return nil, fmt.Errorf("%w: len8_dlc %d with len %d", ErrDecode, dlc, n)
	}
	if raw&ERRFlag != 0 {
		if raw&(EFFFlag|RTRFlag) != 0 {
			return nil, fmt.Errorf("%w: error frame can_id 0x%08X carries EFF/RTR", ErrDecode, raw)
		}
		if n != MaxDataLen {
			return nil, fmt.Errorf("%w: error frame len %d", ErrDecode, n)
		}
		var data [MaxDataLen]byte
		copy(data[:], b[offData:])
		return newErrorFrame(raw, data), nil
	}
	id, err := idFromRaw(raw &^ RTRFlag)
	if err != nil {
		return nil, err
	}
	if raw&RTRFlag != 0 {
		if !zeroed(b[offData:]) {
			return nil, fmt.Errorf("%w: remote frame carries payload", ErrDecode)
		}
		return RemoteFrame{id: id, n: n}, nil
	}
	if !zeroed(b[offData+int(n):]) {
		return nil, fmt.Errorf("%w: payload past len %d", ErrDecode, n)
	}
	f := DataFrame{id: id, n: n, len8DLC: dlc}
	copy(f.data[:], b[offData:offData+int(n)])
	return f, nil
}

func decodeFD(b []byte) (Frame, error) {
	raw := hostOrder.Uint32(b[offID:])
	if raw&(RTRFlag|ERRFlag) != 0 {
		return nil, fmt.Errorf("%w: FD can_id 0x%08X carries RTR/ERR", ErrDecode, raw)
	}
	n := int(b[offLen])
	if !ValidFDLength(n) {
		return nil, fmt.Errorf("%w: FD len %d", ErrDecode, n)
	}
	flags := FDFlags(b[offFDFlags])
	if flags&^fdFlagsKnown != 0 {
		return nil, fmt.Errorf("%w: FD flags 0x%02X", ErrDecode, uint8(flags))
	}
	if b[offFDFlags+1] != 0 || b[offFDFlags+2] != 0 {
		return nil, fmt.Errorf("%w: reserved bytes 0x%02X 0x%02X", ErrDecode, b[offFDFlags+1], b[offFDFlags+2])
	}
	if !zeroed(b[offData+n:]) {
		return nil, fmt.Errorf("%w: payload past len %d", ErrDecode, n)
	}
	id, err := idFromRaw(raw)
	if err != nil {
		return nil, err
	}
	f := FDFrame{id: id, n: uint8(n), flags: flags}
	copy(f.data[:], b[offData:offData+n])
	return f, nil
}

func zeroed(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
