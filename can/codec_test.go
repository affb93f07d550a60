package can

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func rawClassic(id uint32, n uint8, len8 uint8, data ...byte) []byte {
	b := make([]byte, ClassicSize)
	binary.NativeEndian.PutUint32(b, id)
	b[4] = n
	b[7] = len8
	copy(b[8:], data)
	return b
}

func rawFD(id uint32, n uint8, flags uint8, data ...byte) []byte {
	b := make([]byte, FDSize)
	binary.NativeEndian.PutUint32(b, id)
	b[4] = n
	b[5] = flags
	copy(b[8:], data)
	return b
}

func withByte(b []byte, off int, v byte) []byte {
	b[off] = v
	return b
}

// Every buffer Decode accepts must come back unchanged from Encode.
func TestDecode_ReencodesExactly(t *testing.T) {
	for _, in := range [][]byte{
		rawClassic(0x123, 3, 0, 1, 2, 3),
		rawClassic(0x1, 8, 15, 1, 2, 3, 4, 5, 6, 7, 8),
		rawClassic(EFFFlag|RTRFlag|0x1, 5, 0),
		rawClassic(ERRFlag|uint32(ErrClassCounters), 8, 0, 0, 0, 0, 0, 0, 0, 96, 1),
		rawFD(EFFFlag|0x18FF00AA, 12, uint8(FlagBRS|FlagFDF), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12),
	} {
		f, err := Decode(in)
		if err != nil {
			t.Fatalf("Decode(%x): %v", in, err)
		}
		out, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode(%v): %v", f, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("re-encode\n in %x\nout %x", in, out)
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	f, _ := NewDataFrame(mustExt(t, 0x1ABCDEF), []byte{0xDE, 0xAD})
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := rawClassic(EFFFlag|0x1ABCDEF, 2, 0, 0xDE, 0xAD)
	if !bytes.Equal(b, want) {
		t.Fatalf("layout\n got %x\nwant %x", b, want)
	}

	r, _ := NewRemoteFrame(mustStd(t, 0x7FF), 4)
	b, _ = r.MarshalBinary()
	if !bytes.Equal(b, rawClassic(RTRFlag|0x7FF, 4, 0)) {
		t.Fatalf("remote layout %x", b)
	}

	fd, _ := NewFDFrame(mustStd(t, 0x10), bytes.Repeat([]byte{7}, 12), FlagBRS|FlagESI)
	b, _ = Encode(fd)
	if len(b) != FDSize || b[4] != 12 || b[5] != 0x03 || b[8+12] != 0 || b[8+11] != 7 {
		t.Fatalf("fd layout %x", b)
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nil: want ErrInvalid, got %v", err)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	d, _ := NewDataFrame(mustStd(t, 0x123), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	d15, _ := d.WithLen8DLC(15)
	e0, _ := NewDataFrame(mustExt(t, 0), nil)
	r, _ := NewRemoteFrame(mustExt(t, 0x1FFFFFFF), 3)
	fd, _ := NewFDFrame(mustExt(t, 0x18FF00AA), bytes.Repeat([]byte{0x5A}, 64), FlagBRS)
	ef := newErrorFrame(uint32(ErrClassController|ErrClassCounters), [8]byte{0, 0x08, 0, 0, 0, 0, 97, 3})

	for _, in := range []Frame{d, d15, e0, r, fd, ef} {
		b, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode(%v): %v", in, err)
		}
		out, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%v): %v", in, err)
		}
		if out != in {
			t.Fatalf("round trip mismatch\n got %#v\nwant %#v", out, in)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
	}{
		{"short", make([]byte, 15)},
		{"between", make([]byte, 40)},
		{"classic len 9", rawClassic(0x100, 9, 0)},
		{"std with ext bits", rawClassic(0x800, 0, 0)},
		{"error with eff", rawClassic(ERRFlag|EFFFlag|0x40, 8, 0)},
		{"error short", rawClassic(ERRFlag|0x40, 4, 0)},
		{"fd len 10", rawFD(0x100, 10, 0)},
		{"fd len 65", rawFD(0x100, 65, 0)},
		{"fd rtr", rawFD(RTRFlag|0x100, 0, 0)},
		{"fd err", rawFD(ERRFlag|0x100, 8, 0)},
		{"fd unknown flag", rawFD(0x100, 0, 0x10)},
		{"len8_dlc on short frame", rawClassic(0x1, 4, 12, 1, 2, 3, 4)},
		{"len8_dlc below 9", rawClassic(0x1, 8, 8)},
		{"len8_dlc on remote", rawClassic(RTRFlag|0x1, 8, 9)},
		{"len8_dlc on error", rawClassic(ERRFlag|0x40, 8, 9)},
		{"pad set", withByte(rawClassic(0x1, 2, 0, 1, 2), 5, 0xAA)},
		{"res0 set", withByte(rawClassic(0x1, 2, 0, 1, 2), 6, 0x01)},
		{"data past len", rawClassic(0x1, 2, 0, 1, 2, 3)},
		{"remote with payload", rawClassic(RTRFlag|0x1, 2, 0, 9)},
		{"fd res0 set", withByte(rawFD(0x1, 8, 0), 6, 0x55)},
		{"fd res1 set", withByte(rawFD(0x1, 8, 0), 7, 0x01)},
		{"fd data past len", withByte(rawFD(0x1, 12, 0), 8+12, 0x01)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.b); !errors.Is(err, ErrDecode) {
				t.Fatalf("want ErrDecode, got %v", err)
			}
		})
	}
}

func TestDecode_Variants(t *testing.T) {
	f, err := Decode(rawClassic(RTRFlag|EFFFlag|0x1234, 2, 0))
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	r, ok := f.(RemoteFrame)
	if !ok || !r.ID().Extended() || r.ID().Addr() != 0x1234 || r.Len() != 2 {
		t.Fatalf("remote decoded as %#v", f)
	}

	f, err = Decode(rawClassic(ERRFlag|uint32(ErrClassBusOff), 8, 0))
	if err != nil {
		t.Fatalf("error frame: %v", err)
	}
	ef, ok := f.(ErrorFrame)
	if !ok || !ef.Diagnostic().BusOff() || ef.Kind() != KindError {
		t.Fatalf("error decoded as %#v", f)
	}

	f, err = Decode(rawClassic(0x1, 8, 12, 1, 2, 3, 4, 5, 6, 7, 8))
	if err != nil || f.(DataFrame).DLC() != 12 {
		t.Fatalf("len8_dlc: %v %v", f, err)
	}

	// FDF is accepted on receive.
	f, err = Decode(rawFD(0x1, 0, uint8(FlagFDF)))
	if err != nil || f.(FDFrame).Flags() != FlagFDF {
		t.Fatalf("fdf: %v %v", f, err)
	}
}

func BenchmarkEncode_Data(b *testing.B) {
	f, _ := NewDataFrame(mustStd(b, 0x123), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(f)
	}
}

func BenchmarkDecode_FD64(b *testing.B) {
	fd, _ := NewFDFrame(mustExt(b, 0x1234), make([]byte, 64), FlagBRS)
	wire, _ := Encode(fd)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(wire)
	}
}
