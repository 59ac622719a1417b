package stream

import (
	"context"

	"golang.org/x/sync/errgroup"

	"rolling-mean-service/models"
)

// RunBatch computes every job with its own engine, at most concurrency at a time.
// The first failing job cancels those not yet finished. Results keep job order;
// entries for jobs that did not complete are zero apart from Input and Output.
func RunBatch(ctx context.Context, jobs []Job, opts Options, concurrency int) ([]models.RunResult, error) {
	results := make([]models.RunResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, job := range jobs {
		i, job := i, job
		results[i] = models.RunResult{Input: job.Input, Output: job.Output}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := ComputeFile(ctx, job, opts)
			results[i] = res
			return err
		})
	}

	return results, g.Wait()
}
