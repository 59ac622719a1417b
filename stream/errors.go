package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrIO    = errors.New("io error")
	ErrParse = errors.New("parse error")
)

// IoError reports a source or sink that could not be opened, read or written
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", ErrIO, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrIO, e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) Is(target error) bool { return target == ErrIO }

// ParseError reports a record whose numeric field could not be read
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: line %d %q: %v", ErrParse, e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
