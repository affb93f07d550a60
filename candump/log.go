package candump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-socketcan/can"
)

// Record is one log line: when and where a frame was seen.
type Record struct {
	Time      time.Time
	Interface string
	Frame     can.Frame
}

// String formats r as a candump -L line without the newline.
func (r Record) String() string {
	us := r.Time.UnixMicro()
	return fmt.Sprintf("(%d.%06d) %s %s", us/1e6, us%1e6, r.Interface, FormatFrame(r.Frame))
}

// ParseRecord parses a single log line.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	// Newer candump versions append a direction field (R/T); it is ignored.
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: %q: want (timestamp) interface frame", ErrSyntax, line)
	}
	ts := fields[0]
	if len(ts) < 3 || ts[0] != '(' || ts[len(ts)-1] != ')' {
		return Record{}, fmt.Errorf("%w: %q: timestamp", ErrSyntax, line)
	}
	t, err := parseTimestamp(ts[1 : len(ts)-1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: timestamp: %v", ErrSyntax, line, err)
	}
	f, err := ParseFrame(fields[2])
	if err != nil {
		return Record{}, err
	}
	return Record{Time: t, Interface: fields[1], Frame: f}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	secStr, fracStr, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec), nil
}

// Writer writes log lines.
type Writer struct {
	w   *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: bufio.NewWriter(w)} }

// Write appends one record. Output is buffered until Flush.
func (w *Writer) Write(r Record) error {
	if w.err != nil {
		return w.err
	}
	if r.Frame == nil {
		return fmt.Errorf("candump: record without frame")
	}
	if _, err := w.w.WriteString(r.String() + "\n"); err != nil {
		w.err = err
	}
	return w.err
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

// Reader reads log lines, skipping blank lines and lines starting with '#'.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader { return &Reader{sc: bufio.NewScanner(r)} }

// LineError reports the line a parse failure occurred on.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("candump: line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// Read returns the next record, or io.EOF after the last one.
func (r *Reader) Read() (Record, error) {
	for r.sc.Scan() {
		r.line++
		line := strings.TrimSpace(r.sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return Record{}, &LineError{Line: r.line, Err: err}
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}
