package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kstaniek/go-socketcan/canlink"
	"github.com/kstaniek/go-socketcan/internal/linkprofile"
)

const usageText = `usage: canctl [flags] <command> <iface> [args]

commands:
  show <iface> [-yaml]             print the interface configuration
  up <iface> | down <iface>        change the administrative state
  bitrate <iface> <bps> [sp%]      set the arbitration bit-rate
  dbitrate <iface> <bps> [sp%]     set the CAN FD data bit-rate (enables fd)
  mode <iface> <name>=on|off...    change controller modes
  restart-ms <iface> <ms>          set the bus-off auto restart delay
  restart <iface>                  restart a bus-off controller
  termination <iface> <ohm>        select the termination resistor
  apply <iface> <profile.yaml>     apply a link profile

flags:
`

var errUsage = errors.New("usage")

// controller is what the commands need from *canlink.Controller.
type controller interface {
	linkprofile.Link
	Restart(ifindex int) error
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func run(ctl controller, args []string, out io.Writer) error {
	if len(args) < 2 {
		return usagef("missing command or interface")
	}
	cmd, iface, rest := args[0], args[1], args[2:]
	switch cmd {
	case "show":
		return show(ctl, iface, rest, out)
	case "up", "down":
		if len(rest) != 0 {
			return usagef("%s takes no arguments", cmd)
		}
		idx, err := ctl.Resolve(iface)
		if err != nil {
			return err
		}
		return ctl.SetState(idx, cmd == "up")
	case "restart":
		idx, err := ctl.Resolve(iface)
		if err != nil {
			return err
		}
		return ctl.Restart(idx)
	case "apply":
		if len(rest) != 1 {
			return usagef("apply needs a profile file")
		}
		p, err := linkprofile.Load(rest[0])
		if err != nil {
			return err
		}
		return applyAndShow(ctl, iface, p, out)
	case "bitrate", "dbitrate", "mode", "restart-ms", "termination":
		p, err := profileFor(cmd, rest)
		if err != nil {
			return err
		}
		return applyKeepingState(ctl, iface, p, out)
	}
	return usagef("unknown command %q", cmd)
}

// profileFor turns a single-setting command into a profile.
func profileFor(cmd string, args []string) (linkprofile.Profile, error) {
	var p linkprofile.Profile
	switch cmd {
	case "bitrate", "dbitrate":
		if len(args) < 1 || len(args) > 2 {
			return p, usagef("%s needs <bps> [sample-point%%]", cmd)
		}
		bps, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || bps == 0 {
			return p, usagef("bad bit-rate %q", args[0])
		}
		var sp float64
		if len(args) == 2 {
			if sp, err = strconv.ParseFloat(strings.TrimSuffix(args[1], "%"), 64); err != nil {
				return p, usagef("bad sample point %q", args[1])
			}
		}
		if cmd == "bitrate" {
			p.Bitrate, p.SamplePoint = uint32(bps), sp
		} else {
			p.DataBitrate, p.DataSamplePoint = uint32(bps), sp
		}
	case "mode":
		if len(args) == 0 {
			return p, usagef("mode needs name=on|off")
		}
		p.Modes = map[string]bool{}
		for _, a := range args {
			name, val, ok := strings.Cut(a, "=")
			if !ok {
				return p, usagef("mode %q: want name=on|off", a)
			}
			switch val {
			case "on":
				p.Modes[name] = true
			case "off":
				p.Modes[name] = false
			default:
				return p, usagef("mode %q: want on or off", a)
			}
		}
	case "restart-ms":
		if len(args) != 1 {
			return p, usagef("restart-ms needs <ms>")
		}
		ms, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return p, usagef("bad restart-ms %q", args[0])
		}
		v := uint32(ms)
		p.RestartMs = &v
	case "termination":
		if len(args) != 1 {
			return p, usagef("termination needs <ohm>")
		}
		ohm, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return p, usagef("bad termination %q", args[0])
		}
		v := uint16(ohm)
		p.Termination = &v
	}
	return p, p.Validate()
}

// applyKeepingState applies p and restores the interface's prior
// administrative state.
func applyKeepingState(ctl controller, iface string, p linkprofile.Profile, out io.Writer) error {
	idx, err := ctl.Resolve(iface)
	if err != nil {
		return err
	}
	cur, err := ctl.Get(idx)
	if err != nil {
		return err
	}
	up := cur.Up
	p.Up = &up
	return applyAndShow(ctl, iface, p, out)
}

func applyAndShow(ctl controller, iface string, p linkprofile.Profile, out io.Writer) error {
	cfg, err := linkprofile.Apply(ctl, iface, p)
	if err != nil {
		return err
	}
	printConfig(out, cfg)
	return nil
}

func show(ctl controller, iface string, args []string, out io.Writer) error {
	asYAML := false
	for _, a := range args {
		if a != "-yaml" && a != "--yaml" {
			return usagef("show: unknown argument %q", a)
		}
		asYAML = true
	}
	idx, err := ctl.Resolve(iface)
	if err != nil {
		return err
	}
	cfg, err := ctl.Get(idx)
	if err != nil {
		return err
	}
	if asYAML {
		b, err := linkprofile.FromConfig(cfg).Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	}
	printConfig(out, cfg)
	return nil
}

// printConfig renders cfg roughly like "ip -details link show".
func printConfig(w io.Writer, c *canlink.Config) {
	fmt.Fprintf(w, "%d: %s: <%s> mtu %d kind %s\n", c.Index, c.Name, c.LinkState(), c.MTU, c.Kind)
	fmt.Fprintf(w, "    state %s restart-ms %d\n", c.State, c.RestartMs)
	fmt.Fprintf(w, "    ctrlmode <%s> supported <%s>\n", c.CtrlMode.Enabled, c.CtrlMode.Supported)
	if bt := c.BitTiming; bt != nil {
		fmt.Fprintf(w, "    bitrate %d sample-point %.3f tq %d prop-seg %d phase-seg1 %d phase-seg2 %d sjw %d brp %d\n",
			bt.Bitrate, float64(bt.SamplePoint)/1000, bt.TQ, bt.PropSeg, bt.PhaseSeg1, bt.PhaseSeg2, bt.SJW, bt.BRP)
	}
	if bc := c.BitTimingConst; bc != nil {
		fmt.Fprintf(w, "    %s: tseg1 %d..%d tseg2 %d..%d sjw 1..%d brp %d..%d brp-inc %d\n",
			bc.Name, bc.TSeg1Min, bc.TSeg1Max, bc.TSeg2Min, bc.TSeg2Max, bc.SJWMax, bc.BRPMin, bc.BRPMax, bc.BRPInc)
	}
	if bt := c.DataBitTiming; bt != nil && bt.Bitrate > 0 {
		fmt.Fprintf(w, "    dbitrate %d dsample-point %.3f dtq %d dsjw %d dbrp %d\n",
			bt.Bitrate, float64(bt.SamplePoint)/1000, bt.TQ, bt.SJW, bt.BRP)
	}
	if c.Clock > 0 {
		fmt.Fprintf(w, "    clock %d\n", c.Clock)
	}
	if bc := c.BerrCounter; bc != nil {
		fmt.Fprintf(w, "    berr-counter tx %d rx %d\n", bc.Tx, bc.Rx)
	}
	if c.Termination > 0 {
		fmt.Fprintf(w, "    termination %d\n", c.Termination)
	}
}
