package can

import (
	"errors"
	"slices"
	"testing"
)

func mustStd(t testing.TB, addr uint32) ID {
	t.Helper()
	id, err := StandardID(addr)
	if err != nil {
		t.Fatalf("StandardID(0x%X): %v", addr, err)
	}
	return id
}

func mustExt(t testing.TB, addr uint32) ID {
	t.Helper()
	id, err := ExtendedID(addr)
	if err != nil {
		t.Fatalf("ExtendedID(0x%X): %v", addr, err)
	}
	return id
}

func TestID_Range(t *testing.T) {
	if _, err := StandardID(0x7FF); err != nil {
		t.Fatalf("0x7FF: %v", err)
	}
	if _, err := StandardID(0x800); !errors.Is(err, ErrIDRange) || !errors.Is(err, ErrInvalid) {
		t.Fatalf("0x800: want ErrIDRange, got %v", err)
	}
	if _, err := ExtendedID(0x1FFFFFFF); err != nil {
		t.Fatalf("0x1FFFFFFF: %v", err)
	}
	if _, err := ExtendedID(0x20000000); !errors.Is(err, ErrIDRange) {
		t.Fatalf("0x20000000: want ErrIDRange, got %v", err)
	}
	id, err := NewID(0x7FF, true)
	if err != nil || !id.Extended() || id.Format() != FormatExtended {
		t.Fatalf("NewID ext: %v %v", id, err)
	}
}

func TestID_String(t *testing.T) {
	if s := mustStd(t, 0x12).String(); s != "012" {
		t.Fatalf("std string %q", s)
	}
	if s := mustExt(t, 0x12).String(); s != "00000012" {
		t.Fatalf("ext string %q", s)
	}
}

func TestID_Compare(t *testing.T) {
	cases := []struct {
		name string
		a, b ID
		want int
	}{
		{"std lower wins", mustStd(t, 0x100), mustStd(t, 0x101), -1},
		{"std higher loses", mustStd(t, 0x200), mustStd(t, 0x100), 1},
		{"equal std", mustStd(t, 0x100), mustStd(t, 0x100), 0},
		// 0x100 << 18 has base 0x100: the standard frame wins on IDE.
		{"std beats ext same base", mustStd(t, 0x100), mustExt(t, 0x100<<18), -1},
		{"ext loses to std same base", mustExt(t, 0x100<<18|0x3FFFF), mustStd(t, 0x100), 1},
		// Lower base wins even though the extended address is numerically larger.
		{"ext lower base wins", mustExt(t, 0x0FF<<18|0x3FFFF), mustStd(t, 0x100), -1},
		{"ext vs ext", mustExt(t, 0x1000), mustExt(t, 0x1001), -1},
		{"equal ext", mustExt(t, 0x1234), mustExt(t, 0x1234), 0},
		{"std 0x0 vs ext 0x0", mustStd(t, 0), mustExt(t, 0), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Fatalf("Compare(%v,%v)=%d want %d", tc.a, tc.b, got, tc.want)
			}
			if got := tc.b.Compare(tc.a); got != -tc.want {
				t.Fatalf("reverse Compare=%d want %d", got, -tc.want)
			}
			if tc.a.Less(tc.b) != (tc.want < 0) {
				t.Fatalf("Less mismatch")
			}
		})
	}
}

// Sorting a mixed set must give a strict chain: Compare is a total order
// across both formats.
func TestID_CompareSortsMixedSet(t *testing.T) {
	ids := []ID{
		mustExt(t, 0x1FFFFFFF),
		mustStd(t, 0x100),
		mustExt(t, 0x100<<18),
		mustStd(t, 0),
		mustExt(t, 0x0FF<<18|0x3FFFF),
		mustStd(t, 0x7FF),
		mustExt(t, 0),
		mustExt(t, 0x1000),
		mustStd(t, 0x0FF),
		mustExt(t, 0x100<<18|1),
	}
	for _, id := range ids {
		if id.Compare(id) != 0 || id.Less(id) {
			t.Fatalf("%v not equal to itself", id)
		}
	}
	for _, a := range ids {
		for _, b := range ids {
			for _, c := range ids {
				if a.Less(b) && b.Less(c) && !a.Less(c) {
					t.Fatalf("not transitive: %v < %v < %v", a, b, c)
				}
			}
		}
	}
	slices.SortFunc(ids, ID.Compare)
	for i := 0; i+1 < len(ids); i++ {
		if !ids[i].Less(ids[i+1]) {
			t.Fatalf("ids[%d]=%v not before ids[%d]=%v", i, ids[i], i+1, ids[i+1])
		}
	}
	want := []ID{mustStd(t, 0), mustExt(t, 0), mustExt(t, 0x1000), mustStd(t, 0x0FF), mustExt(t, 0x0FF<<18|0x3FFFF)}
	if !slices.Equal(ids[:len(want)], want) {
		t.Fatalf("sorted head %v want %v", ids[:len(want)], want)
	}
}

func TestIDFromRaw(t *testing.T) {
	id, err := idFromRaw(EFFFlag | 0x1ABCDEF)
	if err != nil || !id.Extended() || id.Addr() != 0x1ABCDEF {
		t.Fatalf("ext raw: %v %v", id, err)
	}
	if _, err := idFromRaw(0x1000); !errors.Is(err, ErrDecode) {
		t.Fatalf("std with high bits: want ErrDecode, got %v", err)
	}
	if id.raw() != EFFFlag|0x1ABCDEF {
		t.Fatalf("raw 0x%08X", id.raw())
	}
}
