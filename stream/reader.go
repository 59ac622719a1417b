package stream

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rolling-mean-service/utils"
)

const (
	Delimiter    = ","
	maxLineBytes = 1 << 20
)

var errMissingValue = errors.New("missing value field")

// Record is one parsed input line
type Record struct {
	Label string
	Value float64
}

// Open opens an input file, logging whether it succeeded
func Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		ioErr := &IoError{Op: "open", Path: path, Err: err}
		utils.LogError(ioErr, "failed to open input", zap.String("path", path))
		return nil, ioErr
	}
	utils.LogInfo("opened input", zap.String("path", path))
	return f, nil
}

// Reader reads label,value records line by line
type Reader struct {
	scanner *bufio.Scanner
	bitSize int
	line    int
	record  Record
	err     error
}

// NewReader creates a Reader parsing values at the given bit size (32 or 64)
func NewReader(r io.Reader, bitSize int) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner, bitSize: bitSize}
}

// Next advances to the next record. It returns false at the end of input or
// on the first error, which is then available from Err.
func (r *Reader) Next() bool {
	if r.err != nil || !r.scanner.Scan() {
		return false
	}
	r.line++

	rec, err := ParseLine(r.scanner.Text(), r.bitSize)
	if err != nil {
		// a final line cut short by a read error is reported as the read error
		if scanErr := r.scanner.Err(); scanErr != nil {
			r.err = &IoError{Op: "read", Err: scanErr}
			return false
		}
		r.err = &ParseError{Line: r.line, Text: r.scanner.Text(), Err: err}
		return false
	}
	r.record = rec
	return true
}

// Record returns the record read by the last successful Next
func (r *Reader) Record() Record {
	return r.record
}

// Line returns the 1-based number of the last line read
func (r *Reader) Line() int {
	return r.line
}

// Err returns the first parse or read error
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.scanner.Err(); err != nil {
		return &IoError{Op: "read", Err: err}
	}
	return nil
}

// ParseLine splits a line on the delimiter; field 0 is the label, field 1 the value.
// Further fields are ignored.
func ParseLine(line string, bitSize int) (Record, error) {
	line = strings.TrimSuffix(line, "\r")
	fields := strings.Split(line, Delimiter)
	if len(fields) < 2 {
		return Record{}, errMissingValue
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), bitSize)
	if err != nil {
		return Record{}, errors.Wrap(err, "value")
	}
	return Record{Label: fields[0], Value: v}, nil
}
