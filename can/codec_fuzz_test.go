package can

import (
	"bytes"
	"testing"
)

// FuzzDecode ensures Decode never panics and that every accepted buffer
// re-encodes byte for byte.
func FuzzDecode(f *testing.F) {
	f.Add(rawClassic(0x123, 3, 0, 1, 2, 3))
	f.Add(rawClassic(EFFFlag|RTRFlag|0x1, 8, 0))
	f.Add(rawClassic(ERRFlag|0x40, 8, 0))
	f.Add(rawFD(0x7FF, 64, 1))
	f.Add(rawClassic(0x1, 8, 12, 1, 2, 3, 4, 5, 6, 7, 8))
	f.Add(rawClassic(0x1, 4, 12, 1, 2, 3, 4))
	f.Add([]byte{1, 2, 3})
	f.Fuzz(func(t *testing.T, data []byte) {
		fr, err := Decode(data)
		if err != nil {
			return
		}
		b, err := Encode(fr)
		if err != nil {
			t.Fatalf("Encode(%v): %v", fr, err)
		}
		again, err := Decode(b)
		if err != nil {
			t.Fatalf("re-decode: %v", err)
		}
		if again != fr {
			t.Fatalf("unstable: %#v != %#v", again, fr)
		}
		if !bytes.Equal(b, data) {
			t.Fatalf("re-encode changed bytes\n in %x\nout %x", data, b)
		}
	})
}
