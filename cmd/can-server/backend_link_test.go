package main

import (
	"errors"
	"testing"

	"github.com/kstaniek/go-socketcan/canlink"
	"github.com/kstaniek/go-socketcan/internal/linkprofile"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

type fakeLink struct {
	cfg     canlink.Config
	ops     []string
	failSet error
}

func (f *fakeLink) Resolve(name string) (int, error) {
	if name != f.cfg.Name {
		return 0, canlink.ErrNotFound
	}
	return f.cfg.Index, nil
}

func (f *fakeLink) Get(int) (*canlink.Config, error) {
	c := f.cfg
	return &c, nil
}

func (f *fakeLink) SetBitTiming(_ int, bt canlink.BitTiming) error {
	f.ops = append(f.ops, "bittiming")
	if f.failSet != nil {
		return f.failSet
	}
	f.cfg.BitTiming = &bt
	return nil
}

func (f *fakeLink) SetDataBitTiming(_ int, bt canlink.BitTiming) error {
	f.ops = append(f.ops, "data-bittiming")
	f.cfg.DataBitTiming = &bt
	return nil
}

func (f *fakeLink) SetCtrlMode(_ int, ch canlink.CtrlModeChange) error {
	f.ops = append(f.ops, "ctrlmode")
	f.cfg.CtrlMode.Enabled = f.cfg.CtrlMode.Enabled&^ch.Mask | ch.Flags
	return nil
}

func (f *fakeLink) SetRestartMs(_ int, ms uint32) error {
	f.ops = append(f.ops, "restart-ms")
	f.cfg.RestartMs = ms
	return nil
}

func (f *fakeLink) SetTermination(_ int, ohm uint16) error {
	f.ops = append(f.ops, "termination")
	f.cfg.Termination = ohm
	return nil
}

func (f *fakeLink) SetState(_ int, up bool) error {
	f.cfg.Up = up
	if up {
		f.ops = append(f.ops, "up")
	} else {
		f.ops = append(f.ops, "down")
	}
	return nil
}

func useFakeLink(t *testing.T, fl *fakeLink) {
	t.Helper()
	orig := linkController
	linkController = fl
	t.Cleanup(func() { linkController = orig })
}

func TestSetupLinkSkippedWithoutProfile(t *testing.T) {
	fl := &fakeLink{cfg: canlink.Config{Index: 4, Name: "can0", Up: true, State: canlink.StateErrorWarning}}
	useFakeLink(t, fl)
	cfg := defaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if err := setupLink(cfg, testLogger()); err != nil {
		t.Fatalf("setupLink: %v", err)
	}
	if len(fl.ops) != 0 {
		t.Fatalf("link must not be touched, ops=%v", fl.ops)
	}
}

func TestSetupLinkFromFlags(t *testing.T) {
	fl := &fakeLink{cfg: canlink.Config{Index: 4, Name: "can0", Up: true}}
	useFakeLink(t, fl)
	cfg := defaultConfig()
	cfg.canFD = true
	cfg.bitrate = 500000
	cfg.dataBitrate = 2000000
	cfg.restartMs = 100
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if err := setupLink(cfg, testLogger()); err != nil {
		t.Fatalf("setupLink: %v", err)
	}
	want := []string{"down", "ctrlmode", "bittiming", "data-bittiming", "restart-ms", "up"}
	if len(fl.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", fl.ops, want)
	}
	for i := range want {
		if fl.ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", fl.ops, want)
		}
	}
	if fl.cfg.CtrlMode.Enabled&canlink.CtrlFD == 0 {
		t.Fatal("data bitrate should enable fd mode")
	}
}

func TestSetupLinkFailure(t *testing.T) {
	fl := &fakeLink{cfg: canlink.Config{Index: 4, Name: "can0"}, failSet: &canlink.RejectedError{Op: "set bittiming"}}
	useFakeLink(t, fl)
	cfg := defaultConfig()
	cfg.bitrate = 1000000
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	before := metrics.Snap().Errors
	err := setupLink(cfg, testLogger())
	if !errors.Is(err, canlink.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if metrics.Snap().Errors <= before {
		t.Fatal("expected link_setup error metric")
	}
}

var _ linkprofile.Link = (*fakeLink)(nil)
