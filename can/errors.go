package can

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every error reporting an identifier or frame that
// cannot be built. It is detected before any kernel interaction.
var ErrInvalid = errors.New("can: invalid value")

// Construction errors. Each one satisfies errors.Is(err, ErrInvalid).
var (
	ErrIDRange    = fmt.Errorf("%w: identifier out of range", ErrInvalid)
	ErrDataLength = fmt.Errorf("%w: data length", ErrInvalid)
	ErrFDLength   = fmt.Errorf("%w: CAN FD data length", ErrInvalid)
	ErrFDFlags    = fmt.Errorf("%w: CAN FD flags", ErrInvalid)
)

// ErrDecode is returned when a byte buffer does not hold a valid kernel frame.
var ErrDecode = errors.New("can: malformed frame")
