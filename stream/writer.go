package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Writer writes label,mean rows
type Writer struct {
	w       *bufio.Writer
	bitSize int
	rows    int
}

// NewWriter creates a Writer formatting means at the given bit size (32 or 64)
func NewWriter(w io.Writer, bitSize int) *Writer {
	return &Writer{w: bufio.NewWriter(w), bitSize: bitSize}
}

// Write emits one output row
func (w *Writer) Write(label string, mean float64) error {
	if _, err := w.w.WriteString(label); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	if _, err := w.w.WriteString(Delimiter); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	if _, err := w.w.WriteString(FormatMean(mean, w.bitSize)); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	w.rows++
	return nil
}

// Rows returns how many rows were written
func (w *Writer) Rows() int {
	return w.rows
}

// Flush writes any buffered rows to the underlying writer
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return &IoError{Op: "flush", Err: err}
	}
	return nil
}

// FormatMean renders the shortest decimal that round-trips at bitSize.
// Integral values keep a trailing ".0" so every mean reads as a float.
func FormatMean(v float64, bitSize int) string {
	s := strconv.FormatFloat(v, 'g', -1, bitSize)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}
