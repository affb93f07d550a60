package hub

import (
	"testing"
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

func frame(t testing.TB, addr uint32) can.Frame {
	t.Helper()
	id, err := can.ExtendedID(addr)
	if err != nil {
		t.Fatalf("ExtendedID: %v", err)
	}
	f, err := can.NewDataFrame(id, nil)
	if err != nil {
		t.Fatalf("NewDataFrame: %v", err)
	}
	return f
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient(4, nil)
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate slow client
	fr := frame(t, 0x123)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(fr)
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := NewClient(1, nil)
	fast := NewClient(16, nil)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	h.Broadcast(frame(t, 0x1)) // fills slow
	for i := 0; i < 10; i++ {
		h.Broadcast(frame(t, 0x2))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any frames while slow was backpressured")
	}
}

func TestHub_Broadcast_KickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := NewClient(1, nil)
	h.Add(cl)
	defer h.Remove(cl)

	h.Broadcast(frame(t, 1))
	h.Broadcast(frame(t, 2))
	select {
	case <-cl.Closed:
	default:
		t.Fatalf("slow client was not kicked")
	}
}

func TestHub_Broadcast_Filters(t *testing.T) {
	h := New()
	only := NewClient(8, can.Filters{can.ExtendedFilter(0x100, 0x1FFFFF00)})
	all := NewClient(8, nil)
	h.Add(only)
	h.Add(all)
	defer h.Remove(only)
	defer h.Remove(all)

	h.Broadcast(frame(t, 0x1FF))
	h.Broadcast(frame(t, 0x200))

	if len(all.Out) != 2 {
		t.Fatalf("unfiltered client got %d frames, want 2", len(all.Out))
	}
	if len(only.Out) != 1 {
		t.Fatalf("filtered client got %d frames, want 1", len(only.Out))
	}
	if got := <-only.Out; got != frame(t, 0x1FF) {
		t.Fatalf("filtered client got %v", got)
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := New()
	cl := NewClient(1, nil)
	h.Add(cl)
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("Count = %d after remove", h.Count())
	}
	select {
	case <-cl.Closed:
	default:
		t.Fatalf("client not closed by Remove")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []BackpressurePolicy{PolicyDrop, PolicyKick} {
		got, err := ParsePolicy(p.String())
		if err != nil || got != p {
			t.Fatalf("ParsePolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePolicy("block"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
