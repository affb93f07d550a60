// Command candump prints frames received on a CAN interface in the
// candump -L log format.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kstaniek/go-socketcan/candump"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/socketcan"
)

func main() {
	iface := flag.String("if", "can0", "CAN interface")
	fd := flag.Bool("fd", false, "Receive CAN FD frames")
	filters := flag.String("filter", "", "Receive filters (id:mask,id~mask)")
	errMask := flag.String("err-mask", "", "Error classes to receive (all or hex mask); empty disables")
	count := flag.Int("n", 0, "Exit after this many frames (0 = unlimited)")
	readTO := flag.Duration("timeout", 200*time.Millisecond, "Socket receive timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()

	l := logging.Setup("candump", *logFormat, *logLevel)
	opts, err := socketOpts(*fd, *filters, *errMask, *readTO)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candump: %v\n", err)
		os.Exit(2)
	}
	sock, err := socketcan.Open(*iface, opts...)
	if err != nil {
		l.Error("open_failed", "if", *iface, "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := candump.NewWriter(os.Stdout)
	n, err := dump(ctx, sock, w, *iface, *count, l)
	l.Debug("dump_end", "frames", n)
	if err != nil {
		l.Error("dump_failed", "error", err)
		os.Exit(1)
	}
}

func socketOpts(fd bool, filters, errMask string, readTO time.Duration) ([]socketcan.Option, error) {
	opts := []socketcan.Option{socketcan.WithReadTimeout(readTO)}
	if fd {
		opts = append(opts, socketcan.WithFDFrames())
	}
	fs, err := candump.ParseFilters(filters)
	if err != nil {
		return nil, err
	}
	if len(fs) > 0 {
		opts = append(opts, socketcan.WithFilters(fs...))
	}
	if errMask != "" {
		m, err := candump.ParseErrorMask(errMask)
		if err != nil {
			return nil, err
		}
		opts = append(opts, socketcan.WithErrorMask(m))
	}
	return opts, nil
}

var _ receiver = (*socketcan.Socket)(nil)
