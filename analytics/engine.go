package analytics

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Precision selects the sample type an Engine averages in
type Precision string

const (
	Float32 Precision = "float32"
	Float64 Precision = "float64"

	DefaultPrecision = Float32
)

// ParsePrecision accepts "float32"/"single" and "float64"/"double"
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "single", "":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	default:
		return "", errors.Wrapf(ErrInvalidConfiguration, "unknown precision %q", s)
	}
}

// BitSize returns 32 or 64
func (p Precision) BitSize() int {
	if p == Float64 {
		return 64
	}
	return 32
}

// Fits reports whether a finite v stays finite once narrowed to p
func (p Precision) Fits(v float64) bool {
	if p == Float64 {
		return !math.IsInf(v, 0)
	}
	return !math.IsInf(float64(float32(v)), 0)
}

// Engine is a RollingMean with its sample type chosen at runtime.
// Values cross the interface as float64 and are narrowed on Insert.
type Engine interface {
	Insert(sample float64)
	Mean() float64
	Mode() Mode
	Len() int
	WindowSize() int
	Inserted() uint64
	At(index int) (float64, error)
	Samples() []float64
	Precision() Precision
}

// NewEngine creates an Engine averaging at precision p
func NewEngine(p Precision, windowSize int) (Engine, error) {
	switch p {
	case Float32:
		rm, err := NewRollingMean[float32](windowSize)
		if err != nil {
			return nil, err
		}
		return &engine[float32]{rm: rm, precision: p}, nil
	case Float64:
		rm, err := NewRollingMean[float64](windowSize)
		if err != nil {
			return nil, err
		}
		return &engine[float64]{rm: rm, precision: p}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfiguration, "unknown precision %q", p)
	}
}

type engine[T Float] struct {
	rm        *RollingMean[T]
	precision Precision
}

func (e *engine[T]) Insert(sample float64) { e.rm.Insert(T(sample)) }
func (e *engine[T]) Mean() float64         { return float64(e.rm.Mean()) }
func (e *engine[T]) Mode() Mode            { return e.rm.Mode() }
func (e *engine[T]) Len() int              { return e.rm.Len() }
func (e *engine[T]) WindowSize() int       { return e.rm.WindowSize() }
func (e *engine[T]) Inserted() uint64      { return e.rm.Inserted() }
func (e *engine[T]) Precision() Precision  { return e.precision }

func (e *engine[T]) At(index int) (float64, error) {
	v, err := e.rm.At(index)
	return float64(v), err
}

func (e *engine[T]) Samples() []float64 {
	samples := e.rm.Samples()
	result := make([]float64, len(samples))
	for i, v := range samples {
		result[i] = float64(v)
	}
	return result
}
