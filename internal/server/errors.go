package server

import (
	"errors"

	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// Failure classes. Errors returned or recorded by the server wrap one of
// these; test with errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	ErrContext   = errors.New("context_cancelled")

	// ErrBackendOverflow marks a SendFunc error for a frame dropped because
	// the transmit queue was full. The client stays connected.
	ErrBackendOverflow = errors.New("backend_tx_overflow")
)

// errorLabels maps failure classes to errors_total labels, first match wins.
var errorLabels = []struct {
	class error
	label string
}{
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrBackendOverflow, metrics.ErrSocketCANOver},
	{ErrBackendTx, metrics.ErrSocketCANWrite},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrListen, metrics.ErrTCPRead},
	{ErrContext, "context"},
}

func metricLabel(err error) string {
	for _, e := range errorLabels {
		if errors.Is(err, e.class) {
			return e.label
		}
	}
	return "other"
}
