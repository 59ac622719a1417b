package analytics

import (
	"github.com/gammazero/deque"
	"golang.org/x/exp/constraints"
)

const DefaultWindowSize = 1000

// Float is the set of sample types the engine can average
type Float interface {
	constraints.Float
}

// Mode is the averaging strategy an Insert call uses
type Mode int

const (
	// Cumulative averages every buffered sample from scratch
	Cumulative Mode = iota
	// Rolling updates the previous mean with the inserted and evicted samples
	Rolling
)

func (m Mode) String() string {
	switch m {
	case Cumulative:
		return "cumulative"
	case Rolling:
		return "rolling"
	default:
		return "unknown"
	}
}

// RollingMean tracks the mean of the most recent windowSize samples.
// Until the window fills up the mean is cumulative over everything seen so far;
// afterwards it is updated incrementally as samples enter and leave the window.
//
// RollingMean is not safe for concurrent use.
type RollingMean[T Float] struct {
	samples  *deque.Deque[T]
	size     int
	mean     T
	prevMean T
	inserted T
	evicted  T
	count    uint64
}

// NewRollingMean creates a RollingMean with the given window size
func NewRollingMean[T Float](windowSize int) (*RollingMean[T], error) {
	if windowSize <= 0 {
		return nil, &ConfigError{Field: "window size", Value: windowSize}
	}
	return &RollingMean[T]{
		samples: deque.New[T](windowSize),
		size:    windowSize,
	}, nil
}

// Mode returns the mode the next Insert will use. It is derived from the
// buffer length, so the insert that fills the window is still cumulative.
func (rm *RollingMean[T]) Mode() Mode {
	if rm.samples.Len() < rm.size {
		return Cumulative
	}
	return Rolling
}

// Insert adds a sample and recomputes the mean
func (rm *RollingMean[T]) Insert(sample T) {
	mode := rm.Mode()

	rm.inserted = sample
	rm.samples.PushBack(sample)
	if mode == Rolling {
		rm.evicted = rm.samples.PopFront()
	}
	rm.count++

	switch mode {
	case Cumulative:
		rm.mean = rm.cumulativeMean()
	case Rolling:
		n := T(rm.size)
		rm.mean = rm.prevMean + rm.inserted/n - rm.evicted/n
	}
	rm.prevMean = rm.mean
}

// cumulativeMean sums each sample weighted by 1/len in insertion order.
// The weighting happens in float64 and the running sum is kept in T.
func (rm *RollingMean[T]) cumulativeMean() T {
	n := rm.samples.Len()
	if n == 0 {
		return 0
	}

	weight := 1.0 / float64(n)
	var mean T
	for i := 0; i < n; i++ {
		// explicit conversion forces rounding and prevents fused multiply-add
		term := float64(float64(rm.samples.At(i)) * weight)
		mean = T(float64(mean) + term)
	}
	return mean
}

// Mean returns the most recently computed mean, or 0 before the first Insert
func (rm *RollingMean[T]) Mean() T {
	return rm.mean
}

// Len returns the number of buffered samples
func (rm *RollingMean[T]) Len() int {
	return rm.samples.Len()
}

// WindowSize returns the configured window size
func (rm *RollingMean[T]) WindowSize() int {
	return rm.size
}

// Inserted returns how many samples were inserted over the engine's lifetime
func (rm *RollingMean[T]) Inserted() uint64 {
	return rm.count
}

// At returns the buffered sample at index, oldest first
func (rm *RollingMean[T]) At(index int) (T, error) {
	if index < 0 || index >= rm.samples.Len() {
		return 0, &IndexError{Index: index, Len: rm.samples.Len()}
	}
	return rm.samples.At(index), nil
}

// Samples returns a copy of the buffered samples, oldest first
func (rm *RollingMean[T]) Samples() []T {
	result := make([]T, rm.samples.Len())
	for i := range result {
		result[i] = rm.samples.At(i)
	}
	return result
}

// LastEvicted returns the sample evicted by the most recent Insert.
// It reports false while nothing has been evicted yet.
func (rm *RollingMean[T]) LastEvicted() (T, bool) {
	if rm.count <= uint64(rm.size) {
		return 0, false
	}
	return rm.evicted, true
}
