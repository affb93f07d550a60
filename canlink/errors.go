package canlink

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNotFound is returned when no interface has the given name or index.
	ErrNotFound = errors.New("canlink: interface not found")
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("canlink: request rejected by kernel")
	// ErrChannel reports a failure of the netlink socket itself.
	ErrChannel = errors.New("canlink: netlink channel failure")
	// ErrNoResponse is returned when no reply with the request's sequence
	// number arrived before the deadline.
	ErrNoResponse = errors.New("canlink: no matching response")
	// ErrMalformed is returned for a reply that cannot be decoded.
	ErrMalformed = errors.New("canlink: malformed response")
)

// RejectedError carries the errno of a negative netlink acknowledgement.
// ENODEV also matches ErrNotFound.
type RejectedError struct {
	Op    string
	Errno syscall.Errno
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("canlink: %s: %v", e.Op, e.Errno)
}

func (e *RejectedError) Unwrap() error { return e.Errno }

func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrNotFound:
		return e.Errno == syscall.ENODEV
	}
	return false
}
