package stream

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rolling-mean-service/models"
	"rolling-mean-service/utils"
)

// DefaultDebounce coalesces bursts of writes to the input into one recompute
const DefaultDebounce = 100 * time.Millisecond

// Watch computes job once and again every time its input changes, until ctx is done.
// Failed runs are reported to onRun and do not stop the watch; a missing input is
// picked up once it is created.
func Watch(ctx context.Context, job Job, opts Options, debounce time.Duration, onRun func(models.RunResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if onRun == nil {
		onRun = func(models.RunResult, error) {}
	}

	input, err := filepath.Abs(job.Input)
	if err != nil {
		return errors.Wrap(err, "resolve input path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	// editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(input)); err != nil {
		return &IoError{Op: "watch", Path: filepath.Dir(input), Err: err}
	}
	utils.LogInfo("watching input", zap.String("path", input))

	run := func() {
		res, err := ComputeFile(ctx, job, opts)
		onRun(res, err)
	}
	run()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != input {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			resetTimer(timer, debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			utils.LogWarning("watcher error", zap.Error(err))
		case <-timer.C:
			run()
		}
	}
}

// resetTimer restarts t, dropping a tick that fired but was not received yet
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
