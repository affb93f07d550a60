// Package linkprofile applies a declarative CAN interface configuration
// (bit-rates, controller modes, restart policy) through rtnetlink.
//
// A profile file is YAML:
//
//	bitrate: 500000
//	sample_point: 87.5
//	data_bitrate: 2000000
//	modes:
//	  berr-reporting: true
//	  listen-only: false
//	restart_ms: 100
//	termination: 120
//	up: true
package linkprofile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"go.yaml.in/yaml/v2"

	"github.com/kstaniek/go-socketcan/canlink"
	"github.com/kstaniek/go-socketcan/internal/logging"
)

// ErrInvalid is wrapped by every profile validation failure.
var ErrInvalid = errors.New("linkprofile: invalid profile")

// Profile is the desired configuration of one CAN interface. Zero fields
// leave the corresponding setting untouched.
type Profile struct {
	Bitrate         uint32          `yaml:"bitrate"`
	SamplePoint     float64         `yaml:"sample_point"` // percent, e.g. 87.5
	DataBitrate     uint32          `yaml:"data_bitrate"`
	DataSamplePoint float64         `yaml:"data_sample_point"`
	Modes           map[string]bool `yaml:"modes"` // names as printed by canlink.CtrlModeFlags
	RestartMs       *uint32         `yaml:"restart_ms"`
	Termination     *uint16         `yaml:"termination"`
	Up              *bool           `yaml:"up"` // default true
}

// Link is the subset of *canlink.Controller a profile needs.
type Link interface {
	Resolve(name string) (int, error)
	Get(ifindex int) (*canlink.Config, error)
	SetBitTiming(ifindex int, bt canlink.BitTiming) error
	SetDataBitTiming(ifindex int, bt canlink.BitTiming) error
	SetCtrlMode(ifindex int, c canlink.CtrlModeChange) error
	SetRestartMs(ifindex int, ms uint32) error
	SetTermination(ifindex int, ohm uint16) error
	SetState(ifindex int, up bool) error
}

var _ Link = (*canlink.Controller)(nil)

// Load reads and validates a YAML profile file.
func Load(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("linkprofile: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile. Unknown keys are rejected.
func Parse(b []byte) (Profile, error) {
	var p Profile
	if err := yaml.UnmarshalStrict(b, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return p, p.Validate()
}

// Validate checks mode names and sample points.
func (p Profile) Validate() error {
	for _, sp := range []float64{p.SamplePoint, p.DataSamplePoint} {
		if sp < 0 || sp >= 100 {
			return fmt.Errorf("%w: sample point %.1f%% outside 0..100", ErrInvalid, sp)
		}
	}
	if p.SamplePoint > 0 && p.Bitrate == 0 {
		return fmt.Errorf("%w: sample_point needs bitrate", ErrInvalid)
	}
	if p.DataSamplePoint > 0 && p.DataBitrate == 0 {
		return fmt.Errorf("%w: data_sample_point needs data_bitrate", ErrInvalid)
	}
	for name := range p.Modes {
		if _, ok := canlink.ParseCtrlMode(name); !ok {
			return fmt.Errorf("%w: unknown mode %q", ErrInvalid, name)
		}
	}
	if on, set := p.Modes["fd"]; set && !on && p.DataBitrate > 0 {
		return fmt.Errorf("%w: data_bitrate with fd disabled", ErrInvalid)
	}
	return nil
}

// CtrlModeChange returns the mode change the profile asks for. A data
// bit-rate implies fd.
func (p Profile) CtrlModeChange() canlink.CtrlModeChange {
	var ch canlink.CtrlModeChange
	for name, on := range p.Modes {
		f, ok := canlink.ParseCtrlMode(name)
		if !ok {
			continue
		}
		ch.Mask |= f
		if on {
			ch.Flags |= f
		}
	}
	if p.DataBitrate > 0 {
		ch.Mask |= canlink.CtrlFD
		ch.Flags |= canlink.CtrlFD
	}
	return ch
}

// WantUp reports whether the interface should be up afterwards.
func (p Profile) WantUp() bool { return p.Up == nil || *p.Up }

// needsDown reports whether applying p touches settings the kernel only
// accepts while the interface is down.
func (p Profile) needsDown() bool {
	return p.Bitrate > 0 || p.DataBitrate > 0 || len(p.Modes) > 0 ||
		p.RestartMs != nil || p.Termination != nil
}

// Apply configures the named interface and returns its resulting state.
// Settings that require it are applied with the interface down; it is
// brought up afterwards unless the profile says otherwise.
func Apply(l Link, name string, p Profile) (*canlink.Config, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log := logging.L().With("if", name)
	idx, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	cur, err := l.Get(idx)
	if err != nil {
		return nil, err
	}
	if p.needsDown() {
		if cur.Up {
			log.Info("link_down_for_config")
			if err := l.SetState(idx, false); err != nil {
				return nil, err
			}
		}
		if err := p.configure(l, idx, log.Info); err != nil {
			return nil, err
		}
	}
	if p.WantUp() {
		if err := l.SetState(idx, true); err != nil {
			return nil, err
		}
	} else if cur.Up && !p.needsDown() {
		if err := l.SetState(idx, false); err != nil {
			return nil, err
		}
	}
	return l.Get(idx)
}

func (p Profile) configure(l Link, idx int, logf func(string, ...any)) error {
	if ch := p.CtrlModeChange(); ch.Mask != 0 {
		logf("link_ctrlmode", "mask", ch.Mask.String(), "flags", ch.Flags.String())
		if err := l.SetCtrlMode(idx, ch); err != nil {
			return err
		}
	}
	if p.Bitrate > 0 {
		bt := canlink.BitTiming{Bitrate: p.Bitrate, SamplePoint: tenths(p.SamplePoint)}
		logf("link_bitrate", "bitrate", bt.Bitrate, "sample_point", bt.SamplePoint)
		if err := l.SetBitTiming(idx, bt); err != nil {
			return err
		}
	}
	if p.DataBitrate > 0 {
		bt := canlink.BitTiming{Bitrate: p.DataBitrate, SamplePoint: tenths(p.DataSamplePoint)}
		logf("link_data_bitrate", "bitrate", bt.Bitrate, "sample_point", bt.SamplePoint)
		if err := l.SetDataBitTiming(idx, bt); err != nil {
			return err
		}
	}
	if p.RestartMs != nil {
		logf("link_restart_ms", "ms", *p.RestartMs)
		if err := l.SetRestartMs(idx, *p.RestartMs); err != nil {
			return err
		}
	}
	if p.Termination != nil {
		logf("link_termination", "ohm", *p.Termination)
		if err := l.SetTermination(idx, *p.Termination); err != nil {
			return err
		}
	}
	return nil
}

// tenths converts a percentage to the kernel's tenth-of-a-percent unit.
func tenths(pct float64) uint32 { return uint32(math.Round(pct * 10)) }

// Marshal renders p as YAML with mode keys sorted.
func (p Profile) Marshal() ([]byte, error) {
	out := yaml.MapSlice{}
	add := func(k string, v any) { out = append(out, yaml.MapItem{Key: k, Value: v}) }
	if p.Bitrate > 0 {
		add("bitrate", p.Bitrate)
	}
	if p.SamplePoint > 0 {
		add("sample_point", p.SamplePoint)
	}
	if p.DataBitrate > 0 {
		add("data_bitrate", p.DataBitrate)
	}
	if p.DataSamplePoint > 0 {
		add("data_sample_point", p.DataSamplePoint)
	}
	if len(p.Modes) > 0 {
		names := make([]string, 0, len(p.Modes))
		for n := range p.Modes {
			names = append(names, n)
		}
		sort.Strings(names)
		modes := yaml.MapSlice{}
		for _, n := range names {
			modes = append(modes, yaml.MapItem{Key: n, Value: p.Modes[n]})
		}
		add("modes", modes)
	}
	if p.RestartMs != nil {
		add("restart_ms", *p.RestartMs)
	}
	if p.Termination != nil {
		add("termination", *p.Termination)
	}
	if p.Up != nil {
		add("up", *p.Up)
	}
	return yaml.Marshal(out)
}

// FromConfig captures the current configuration of an interface as a
// profile, so it can be saved and re-applied later.
func FromConfig(c *canlink.Config) Profile {
	var p Profile
	if bt := c.BitTiming; bt != nil {
		p.Bitrate = bt.Bitrate
		p.SamplePoint = float64(bt.SamplePoint) / 10
	}
	if bt := c.DataBitTiming; bt != nil && bt.Bitrate > 0 {
		p.DataBitrate = bt.Bitrate
		p.DataSamplePoint = float64(bt.SamplePoint) / 10
	}
	if sup := c.CtrlMode.Supported; sup != 0 {
		p.Modes = map[string]bool{}
		for f := canlink.CtrlModeFlags(1); f != 0 && f <= sup; f <<= 1 {
			if sup&f == 0 {
				continue
			}
			if _, known := canlink.ParseCtrlMode(f.String()); known {
				p.Modes[f.String()] = c.CtrlMode.Enabled&f != 0
			}
		}
	}
	ms := c.RestartMs
	p.RestartMs = &ms
	if c.Termination > 0 {
		t := c.Termination
		p.Termination = &t
	}
	up := c.Up
	p.Up = &up
	return p
}
