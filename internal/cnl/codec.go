// Package cnl implements the cannelloni TCP framing used by the bridge.
//
// Each frame on the wire is a big-endian can_id (kernel flag bits
// included), a length byte and the payload. CAN FD frames set 0x80 in the
// length byte and follow it with the FD flags byte. Remote requests carry
// their requested length but no payload.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// Codec encodes/decodes cannelloni frames. Stateless and safe for concurrent use.
type Codec struct{}

const (
	fdLenFlag = 0x80
	lenMask   = 0x7F
	maxWire   = 4 + 1 + 1 + can.MaxFDDataLen
)

// ErrInvalidLength is returned when a length byte is outside what the frame
// type can carry.
var ErrInvalidLength = errors.New("cannelloni: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("cannelloni: truncated frame")

// ErrInvalidFrame is returned when the fields do not form a valid CAN frame.
var ErrInvalidFrame = errors.New("cannelloni: invalid frame")

// Encode packs frames into a single cannelloni packet (DATA).
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + can.MaxDataLen))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes
// written. Frames that cannot be encoded (nil) are skipped.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var scratch [maxWire]byte
	for _, f := range frames {
		b := appendFrame(scratch[:0], f)
		if b == nil {
			continue
		}
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// appendFrame repacks the kernel representation of f into cannelloni order.
func appendFrame(dst []byte, f can.Frame) []byte {
	k, err := can.Encode(f)
	if err != nil {
		return nil
	}
	raw := binary.NativeEndian.Uint32(k[0:4])
	n := k[4]
	dst = binary.BigEndian.AppendUint32(dst, raw)
	if len(k) == can.FDSize {
		dst = append(dst, n|fdLenFlag, k[5])
	} else {
		dst = append(dst, n)
	}
	if f.Kind() == can.KindRemote {
		return dst
	}
	return append(dst, k[8:8+int(n)]...)
}

// Decode reads exactly one frame from r.
// It returns io.EOF if called at a clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return nil, fmt.Errorf("cannelloni decode id: %w", ErrTruncatedFrame)
		}
		return nil, err
	}
	if _, err := io.ReadFull(r, hdr[4:5]); err != nil {
		return nil, truncated("len", err)
	}
	raw := binary.BigEndian.Uint32(hdr[:4])
	fd := hdr[4]&fdLenFlag != 0
	ln := int(hdr[4] & lenMask)

	size := can.ClassicSize
	maxLen := can.MaxDataLen
	if fd {
		size, maxLen = can.FDSize, can.MaxFDDataLen
	}
	if ln > maxLen {
		metrics.IncMalformed()
		return nil, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	k := make([]byte, size)
	binary.NativeEndian.PutUint32(k[0:4], raw)
	k[4] = byte(ln)
	if fd {
		if _, err := io.ReadFull(r, k[5:6]); err != nil {
			return nil, truncated("flags", err)
		}
	}
	if fd || raw&can.RTRFlag == 0 {
		if _, err := io.ReadFull(r, k[8:8+ln]); err != nil {
			return nil, truncated("payload", err)
		}
	}
	f, err := can.Decode(k)
	if err != nil {
		metrics.IncMalformed()
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return f, nil
}

func truncated(what string, err error) error {
	metrics.IncMalformed()
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("cannelloni decode %s: %w", what, ErrTruncatedFrame)
	}
	return fmt.Errorf("cannelloni decode %s: %w", what, err)
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0) invoking onFrame for each.
// It returns the number of frames decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
