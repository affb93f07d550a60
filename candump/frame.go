// Package candump reads and writes CAN frames in the text format of the
// can-utils tools: "123#DEADBEEF" frames and "(sec.usec) iface frame" log
// lines as produced by candump -L and consumed by canplayer.
package candump

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-socketcan/can"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("candump: syntax error")

// FormatFrame renders f in cansend syntax:
//
//	123#DEADBEEF             standard data frame
//	12345678#                extended data frame, no payload
//	123#1122334455667788_C   8 bytes sent with raw DLC 12
//	123#R  123#R4            remote frame (with length)
//	123##1AABB               FD frame, flags nibble then payload
//	20000004#0004000000000000 error frame, can_id including the ERR flag
func FormatFrame(f can.Frame) string {
	var sb strings.Builder
	switch v := f.(type) {
	case can.DataFrame:
		sb.WriteString(v.ID().String())
		sb.WriteByte('#')
		sb.WriteString(strings.ToUpper(hex.EncodeToString(v.Data())))
		if v.DLC() > can.MaxDataLen {
			fmt.Fprintf(&sb, "_%X", v.DLC())
		}
	case can.RemoteFrame:
		sb.WriteString(v.ID().String())
		sb.WriteString("#R")
		if v.Len() > 0 {
			sb.WriteString(strconv.Itoa(v.Len()))
		}
	case can.FDFrame:
		sb.WriteString(v.ID().String())
		fmt.Fprintf(&sb, "##%X", uint8(v.Flags()))
		sb.WriteString(strings.ToUpper(hex.EncodeToString(v.Data())))
	case can.ErrorFrame:
		data := v.Data()
		fmt.Fprintf(&sb, "%08X#%s", uint32(v.Class())|can.ERRFlag, strings.ToUpper(hex.EncodeToString(data[:])))
	}
	return sb.String()
}

// ParseFrame is the inverse of FormatFrame. A three digit identifier is
// standard and an eight digit one extended, unless it carries the ERR flag.
// Payload bytes may be separated by dots.
func ParseFrame(s string) (can.Frame, error) {
	idStr, rest, ok := strings.Cut(s, "#")
	if !ok {
		return nil, fmt.Errorf("%w: %q: missing '#'", ErrSyntax, s)
	}
	raw, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: identifier: %v", ErrSyntax, s, err)
	}
	var id can.ID
	switch len(idStr) {
	case 3:
		id, err = can.StandardID(uint32(raw))
	case 8:
		if uint32(raw)&can.ERRFlag != 0 {
			return parseError(s, uint32(raw), rest)
		}
		id, err = can.ExtendedID(uint32(raw))
	default:
		return nil, fmt.Errorf("%w: %q: identifier must have 3 or 8 digits", ErrSyntax, s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
	}

	switch {
	case strings.HasPrefix(rest, "#"):
		return parseFD(s, id, rest[1:])
	case strings.HasPrefix(rest, "R") || strings.HasPrefix(rest, "r"):
		n := 0
		if len(rest) > 1 {
			if len(rest) != 2 || rest[1] < '0' || rest[1] > '8' {
				return nil, fmt.Errorf("%w: %q: remote length", ErrSyntax, s)
			}
			n = int(rest[1] - '0')
		}
		f, err := can.NewRemoteFrame(id, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
		}
		return f, nil
	}

	payload, dlcStr, hasDLC := strings.Cut(rest, "_")
	data, err := parseHex(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}
	f, err := can.NewDataFrame(id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
	}
	if hasDLC {
		dlc, perr := strconv.ParseUint(dlcStr, 16, 8)
		if perr != nil || len(dlcStr) != 1 {
			return nil, fmt.Errorf("%w: %q: raw DLC %q", ErrSyntax, s, dlcStr)
		}
		if f, err = f.WithLen8DLC(uint8(dlc)); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
		}
	}
	return f, nil
}

func parseFD(s string, id can.ID, rest string) (can.Frame, error) {
	if rest == "" {
		return nil, fmt.Errorf("%w: %q: FD flags missing", ErrSyntax, s)
	}
	flags, err := strconv.ParseUint(rest[:1], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: FD flags: %v", ErrSyntax, s, err)
	}
	data, err := parseHex(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}
	f, err := can.NewFDFrame(id, data, can.FDFlags(flags))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
	}
	return f, nil
}

// parseError rebuilds an error frame through the kernel layout, the only
// way to obtain one outside a socket.
func parseError(s string, raw uint32, rest string) (can.Frame, error) {
	data, err := parseHex(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}
	if len(data) != can.MaxDataLen {
		return nil, fmt.Errorf("%w: %q: error frame needs 8 data bytes", ErrSyntax, s)
	}
	b := make([]byte, can.ClassicSize)
	binary.NativeEndian.PutUint32(b, raw)
	b[4] = can.MaxDataLen
	copy(b[8:], data)
	f, err := can.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, s, err)
	}
	return f, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, ".", "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	return hex.DecodeString(s)
}
