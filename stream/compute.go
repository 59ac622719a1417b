package stream

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rolling-mean-service/analytics"
	"rolling-mean-service/models"
	"rolling-mean-service/utils"
)

// lines between context checks
const cancelCheckInterval = 1024

// Options configures a compute run
type Options struct {
	WindowSize int
	Precision  analytics.Precision

	// OnPoint, when set, observes every computed point
	OnPoint func(models.MeanPoint)
}

func (o Options) precision() analytics.Precision {
	if o.Precision == "" {
		return analytics.DefaultPrecision
	}
	return o.Precision
}

// Summary describes what a compute run produced
type Summary struct {
	Lines     int
	FinalMean float64
	FinalMode analytics.Mode
}

// Compute feeds every record of in to a fresh engine and writes label,mean rows to out.
// The first parse error aborts the run; rows written before it are flushed.
func Compute(ctx context.Context, in io.Reader, out io.Writer, opts Options) (Summary, error) {
	precision := opts.precision()
	engine, err := analytics.NewEngine(precision, opts.WindowSize)
	if err != nil {
		return Summary{}, err
	}

	reader := NewReader(in, precision.BitSize())
	writer := NewWriter(out, precision.BitSize())

	var summary Summary
	for reader.Next() {
		if reader.Line()%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				_ = writer.Flush()
				return summary, err
			}
		}

		rec := reader.Record()
		mode := engine.Mode()
		engine.Insert(rec.Value)
		mean := engine.Mean()

		if err := writer.Write(rec.Label, mean); err != nil {
			return summary, err
		}
		summary.Lines++
		summary.FinalMean = mean

		if opts.OnPoint != nil {
			opts.OnPoint(models.MeanPoint{
				Label: rec.Label,
				Mean:  mean,
				Mode:  mode.String(),
				Size:  engine.Len(),
			})
		}
	}
	summary.FinalMode = engine.Mode()

	if err := reader.Err(); err != nil {
		_ = writer.Flush()
		return summary, err
	}
	return summary, writer.Flush()
}

// Job is one input/output file pair
type Job struct {
	Input  string
	Output string
}

// ComputeFile runs Compute from job.Input into job.Output.
// The input is opened first: when it cannot be opened the output is left untouched.
func ComputeFile(ctx context.Context, job Job, opts Options) (models.RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	result := models.RunResult{
		RunID:      runID,
		Input:      job.Input,
		Output:     job.Output,
		WindowSize: opts.WindowSize,
		Precision:  string(opts.precision()),
	}

	in, err := Open(job.Input)
	if err != nil {
		return result, err
	}
	defer in.Close()

	out, err := os.Create(job.Output)
	if err != nil {
		ioErr := &IoError{Op: "create", Path: job.Output, Err: err}
		utils.LogError(ioErr, "failed to create output", zap.String("path", job.Output))
		return result, ioErr
	}

	utils.LogRunEvent("started", runID,
		zap.String("input", job.Input),
		zap.String("output", job.Output),
		zap.Int("window_size", opts.WindowSize),
	)

	summary, err := Compute(ctx, in, out, opts)
	closeErr := out.Close()

	result.Lines = summary.Lines
	result.FinalMean = summary.FinalMean
	result.FinalMode = summary.FinalMode.String()
	result.Duration = time.Since(start)
	result.Finished = time.Now()

	if err != nil {
		utils.LogRunEvent("failed", runID, zap.Error(err), zap.Int("lines", summary.Lines))
		return result, errors.Wrapf(err, "compute %s", job.Input)
	}
	if closeErr != nil {
		return result, &IoError{Op: "close", Path: job.Output, Err: closeErr}
	}

	utils.LogRunEvent("finished", runID,
		zap.Int("lines", result.Lines),
		zap.Float64("final_mean", result.FinalMean),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
