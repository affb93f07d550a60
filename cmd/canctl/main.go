// Command canctl inspects and configures CAN interfaces over rtnetlink.
//
//	canctl show can0
//	canctl bitrate can0 500000 87.5
//	canctl mode can0 fd=on listen-only=off
//	canctl apply can0 profile.yaml
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/kstaniek/go-socketcan/canlink"
	"github.com/kstaniek/go-socketcan/internal/logging"
)

func main() {
	timeout := flag.Duration("timeout", canlink.DefaultTimeout, "Netlink reply timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "warn", "Log level: debug|info|warn|error")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.Setup("canctl", *logFormat, *logLevel)

	ctl := &canlink.Controller{Timeout: *timeout}
	if err := run(ctl, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "canctl: %v\n", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}
