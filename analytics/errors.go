package analytics

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrIndexOutOfRange      = errors.New("index out of range")
)

// ConfigError reports a construction parameter the engine cannot work with
type ConfigError struct {
	Field string
	Value int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s must be positive, got %d", ErrInvalidConfiguration, e.Field, e.Value)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// IndexError reports access outside the buffered samples
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: index %d, buffer holds %d samples", ErrIndexOutOfRange, e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}
