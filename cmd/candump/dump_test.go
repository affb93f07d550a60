package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/candump"
	"github.com/kstaniek/go-socketcan/socketcan"
)

type script struct {
	items []any // can.Frame or error
	done  func()
}

func (s *script) Receive() (can.Frame, error) {
	if len(s.items) == 0 {
		if s.done != nil {
			s.done()
		}
		return nil, &socketcan.OpError{Op: "read", Err: socketcan.ErrWouldBlock}
	}
	it := s.items[0]
	s.items = s.items[1:]
	if err, ok := it.(error); ok {
		return nil, err
	}
	return it.(can.Frame), nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixedNow(t *testing.T) {
	t.Helper()
	orig := now
	now = func() time.Time { return time.Unix(1700000000, 123456000) }
	t.Cleanup(func() { now = orig })
}

func frame(t *testing.T, s string) can.Frame {
	t.Helper()
	f, err := candump.ParseFrame(s)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestDumpWritesRecords(t *testing.T) {
	fixedNow(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &script{
		items: []any{
			frame(t, "123#DEADBEEF"),
			&socketcan.OpError{Op: "decode", Err: can.ErrDecode},
			frame(t, "12345678#R"),
		},
		done: cancel,
	}
	var buf bytes.Buffer
	n, err := dump(ctx, src, candump.NewWriter(&buf), "vcan0", 0, quiet())
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	want := "(1700000000.123456) vcan0 123#DEADBEEF\n(1700000000.123456) vcan0 12345678#R\n"
	if buf.String() != want {
		t.Fatalf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestDumpCount(t *testing.T) {
	fixedNow(t)
	src := &script{items: []any{frame(t, "001#01"), frame(t, "002#02"), frame(t, "003#03")}}
	var buf bytes.Buffer
	n, err := dump(context.Background(), src, candump.NewWriter(&buf), "can0", 2, quiet())
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("output:\n%s", buf.String())
	}
}

func TestDumpErrorFrame(t *testing.T) {
	fixedNow(t)
	var kernel [can.ClassicSize]byte
	binary.NativeEndian.PutUint32(kernel[0:4], can.ERRFlag|uint32(can.ErrClassNoAck))
	kernel[4] = can.MaxDataLen
	ef, err := can.Decode(kernel[:])
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := dump(context.Background(), &script{items: []any{ef}}, candump.NewWriter(&buf), "can0", 1, quiet())
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !strings.Contains(buf.String(), "can0 20000020#") {
		t.Fatalf("error frame line: %q", buf.String())
	}
}

func TestDumpReadError(t *testing.T) {
	boom := &socketcan.OpError{Op: "read", Err: errors.New("network down")}
	var buf bytes.Buffer
	_, err := dump(context.Background(), &script{items: []any{boom}}, candump.NewWriter(&buf), "can0", 0, quiet())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSocketOpts(t *testing.T) {
	opts, err := socketOpts(true, "123:7FF", "all", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 4 {
		t.Fatalf("opts = %d, want 4", len(opts))
	}
	if _, err := socketOpts(false, "bad", "", time.Second); err == nil {
		t.Fatal("expected filter error")
	}
	if _, err := socketOpts(false, "", "xyz", time.Second); err == nil {
		t.Fatal("expected error mask error")
	}
}
