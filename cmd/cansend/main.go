// Command cansend transmits frames given in cansend syntax, or replays a
// candump -L log.
//
//	cansend can0 123#DEADBEEF 1F334455#R
//	cansend -replay dump.log -realtime can0
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/candump"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/socketcan"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: cansend [flags] <iface> <frame>...\n       cansend -replay <file> [flags] <iface>\n")
	flag.PrintDefaults()
}

func main() {
	fd := flag.Bool("fd", false, "Enable CAN FD frames (implied when a frame argument is FD)")
	replayPath := flag.String("replay", "", "Replay frames from a candump -L log file")
	realtime := flag.Bool("realtime", false, "Keep the log's inter-frame timing when replaying")
	writeTO := flag.Duration("timeout", time.Second, "Socket send timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Usage = usage
	flag.Parse()

	l := logging.Setup("cansend", *logFormat, *logLevel)
	args := flag.Args()
	if len(args) < 1 || (*replayPath == "" && len(args) < 2) {
		usage()
		os.Exit(2)
	}
	iface := args[0]
	frames, err := parseFrames(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cansend: %v\n", err)
		os.Exit(2)
	}
	opts := []socketcan.Option{socketcan.WithWriteTimeout(*writeTO)}
	if *fd || anyFD(frames) {
		opts = append(opts, socketcan.WithFDFrames())
	}
	sock, err := socketcan.Open(iface, opts...)
	if err != nil {
		l.Error("open_failed", "if", iface, "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	if *replayPath == "" {
		if err := sendAll(sock, frames); err != nil {
			l.Error("send_failed", "error", err)
			os.Exit(1)
		}
		return
	}
	f, err := os.Open(*replayPath)
	if err != nil {
		l.Error("replay_open_failed", "error", err)
		os.Exit(1)
	}
	defer f.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	n, err := replay(ctx, candump.NewReader(f), sock, *realtime)
	l.Info("replay_done", "frames", n)
	if err != nil {
		l.Error("replay_failed", "error", err)
		os.Exit(1)
	}
}

func anyFD(frames []can.Frame) bool {
	for _, f := range frames {
		if f.Kind() == can.KindFD {
			return true
		}
	}
	return false
}
