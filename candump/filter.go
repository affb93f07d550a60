package candump

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-socketcan/can"
)

// ParseFilter reads one receive filter in candump syntax:
//
//	<id>:<mask>   accept when (can_id & mask) == (id & mask)
//	<id>~<mask>   the inverse
//
// Both fields are hex. An id written with exactly eight digits gets
// can.EFFFlag, so "12345678:1FFFFFFF" matches extended frames only while
// "123:7FF" matches the low eleven bits of any frame. The ERR flag is
// cleared from the mask; error frames are selected by the error mask.
func ParseFilter(s string) (can.Filter, error) {
	inv := false
	idStr, maskStr, ok := strings.Cut(s, ":")
	if !ok {
		idStr, maskStr, ok = strings.Cut(s, "~")
		inv = true
	}
	if !ok || idStr == "" || maskStr == "" {
		return can.Filter{}, fmt.Errorf("%w: filter %q: want id:mask or id~mask", ErrSyntax, s)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return can.Filter{}, fmt.Errorf("%w: filter id %q: %w", ErrSyntax, idStr, err)
	}
	mask, err := strconv.ParseUint(maskStr, 16, 32)
	if err != nil {
		return can.Filter{}, fmt.Errorf("%w: filter mask %q: %w", ErrSyntax, maskStr, err)
	}
	f := can.Filter{ID: uint32(id), Mask: uint32(mask) &^ can.ERRFlag}
	if len(idStr) == 8 {
		f.ID |= can.EFFFlag
	}
	if inv {
		f = f.Invert()
	}
	return f, nil
}

// ParseFilters reads a comma separated filter list. An empty string yields
// an empty set, which accepts everything.
func ParseFilters(s string) (can.Filters, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var fs can.Filters
	for _, part := range strings.Split(s, ",") {
		f, err := ParseFilter(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	return fs, nil
}

// ParseErrorMask reads an error class mask in hex, with or without a 0x
// prefix. "all" selects every class.
func ParseErrorMask(s string) (can.ErrorClass, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return can.ErrClassAll, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: error mask %q: %w", ErrSyntax, s, err)
	}
	return can.ErrorClass(v) & can.ErrClassAll, nil
}
