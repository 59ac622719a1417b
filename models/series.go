package models

import (
	"errors"
	"math"
	"time"
)

// SampleInput represents an incoming sample from the API
type SampleInput struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Validate checks if the sample can be fed to an engine
func (s *SampleInput) Validate() error {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return errors.New("value must be a finite number")
	}
	return nil
}

// MeanPoint is one output row: the label of an input record paired with the
// mean after that record was inserted
type MeanPoint struct {
	Label string  `json:"label"`
	Mean  float64 `json:"mean"`
	Mode  string  `json:"mode"`
	Size  int     `json:"size"`
}

// SeriesSnapshot describes the state of a named series
type SeriesSnapshot struct {
	Name       string    `json:"name"`
	WindowSize int       `json:"window_size"`
	Precision  string    `json:"precision"`
	Size       int       `json:"size"`
	Mode       string    `json:"mode"`
	Mean       float64   `json:"mean"`
	Inserted   uint64    `json:"inserted"`
	Drift      float64   `json:"drift"`
	LastLabel  string    `json:"last_label"`
	Updated    time.Time `json:"updated"`
}

// RunResult summarizes a file compute run
type RunResult struct {
	RunID      string        `json:"run_id"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	WindowSize int           `json:"window_size"`
	Precision  string        `json:"precision"`
	Lines      int           `json:"lines"`
	FinalMean  float64       `json:"final_mean"`
	FinalMode  string        `json:"final_mode"`
	Duration   time.Duration `json:"duration"`
	Finished   time.Time     `json:"finished"`
}

// SeriesHistory is the cached recent output of a series, newest point first
type SeriesHistory struct {
	Name     string      `json:"name"`
	Inserted int64       `json:"inserted"`
	Points   []MeanPoint `json:"points"`
}
