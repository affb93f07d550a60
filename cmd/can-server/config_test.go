package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/hub"
)

func TestConfigValidate_OK(t *testing.T) {
	c := defaultConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	if c.errMaskVal != can.ErrClassAll {
		t.Fatalf("default err mask = %v", c.errMaskVal)
	}
	if c.linkSetupEnabled {
		t.Fatal("link setup should be off by default")
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"emptyIf", func(c *appConfig) { c.canIf = "" }},
		{"badCANReadTO", func(c *appConfig) { c.canReadTO = 0 }},
		{"badTxQueue", func(c *appConfig) { c.txQueue = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badRestartMs", func(c *appConfig) { c.restartMs = -2 }},
		{"dbitrateWithoutFD", func(c *appConfig) { c.dataBitrate = 2000000 }},
		{"badErrMask", func(c *appConfig) { c.errMask = "zz" }},
		{"badTxFilters", func(c *appConfig) { c.txFilters = "123" }},
		{"badClientFilters", func(c *appConfig) { c.clientFilters = "1:2,nope" }},
		{"missingProfile", func(c *appConfig) { c.linkProfile = "/nonexistent/profile.yaml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := defaultConfig()
			tc.mod(base)
			if err := base.validate(); err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
		})
	}
}

func TestConfigValidate_ParsesFiltersAndMask(t *testing.T) {
	c := defaultConfig()
	c.errMask = "none"
	c.hubPolicy = "kick"
	c.txFilters = "123:7FF"
	c.clientFilters = "100:700,12345678:1FFFFFFF"
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if c.errMaskVal != 0 {
		t.Fatalf("err mask = %v", c.errMaskVal)
	}
	if c.policy != hub.PolicyKick {
		t.Fatalf("policy = %v", c.policy)
	}
	if len(c.txFilterSet) != 1 || len(c.clientFilterSet) != 2 {
		t.Fatalf("filters: tx=%v client=%v", c.txFilterSet, c.clientFilterSet)
	}
	if c.clientFilterSet[1].ID&can.EFFFlag == 0 {
		t.Fatal("8 digit id should select extended frames")
	}
}

func TestConfigLinkProfileMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can0.yaml")
	body := "bitrate: 250000\nsample_point: 80\nrestart_ms: 10\nmodes:\n  berr-reporting: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c := defaultConfig()
	c.linkProfile = path
	c.bitrate = 500000
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if !c.linkSetupEnabled {
		t.Fatal("profile should enable link setup")
	}
	if c.link.Bitrate != 500000 || c.link.SamplePoint != 0 {
		t.Fatalf("flag should override profile timing: %+v", c.link)
	}
	if c.link.RestartMs == nil || *c.link.RestartMs != 10 {
		t.Fatalf("restart_ms from profile lost: %+v", c.link)
	}
	if !c.link.Modes["berr-reporting"] {
		t.Fatalf("modes from profile lost: %+v", c.link.Modes)
	}
}

func TestListenPort(t *testing.T) {
	cases := map[string]int{
		"[::]:20000":     20000,
		"127.0.0.1:1234": 1234,
		":80":            80,
		"garbage":        0,
	}
	for in, want := range cases {
		if got := listenPort(in); got != want {
			t.Errorf("listenPort(%q) = %d want %d", in, got, want)
		}
	}
}

func TestMDNSMeta(t *testing.T) {
	c := defaultConfig()
	c.canFD = true
	c.bitrate = 500000
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	meta := mdnsMeta(c)
	want := map[string]bool{"if=can0": false, "fd=1": false, "bitrate=500000": false, "proto=cannelloni": false}
	for _, m := range meta {
		if _, ok := want[m]; ok {
			want[m] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("missing TXT record %q in %v", k, meta)
		}
	}
}
