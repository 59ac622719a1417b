package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()

	var jobs []Job
	for i := 0; i < 5; i++ {
		in := filepath.Join(dir, fmt.Sprintf("in%d.txt", i))
		content := fmt.Sprintf("a,%d\nb,%d\n", i, i+2)
		require.NoError(t, os.WriteFile(in, []byte(content), 0o644))
		jobs = append(jobs, Job{Input: in, Output: filepath.Join(dir, fmt.Sprintf("out%d.txt", i))})
	}

	results, err := RunBatch(context.Background(), jobs, Options{WindowSize: 10}, 2)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	for i, res := range results {
		assert.Equal(t, jobs[i].Input, res.Input)
		assert.Equal(t, 2, res.Lines)
		assert.Equal(t, float64(i+1), res.FinalMean)

		data, err := os.ReadFile(jobs[i].Output)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("a,%d.0\nb,%d.0\n", i, i+1), string(data))
	}
}

func TestRunBatch_ReportsFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("a,1\n"), 0o644))

	jobs := []Job{
		{Input: filepath.Join(dir, "missing.txt"), Output: filepath.Join(dir, "out-missing.txt")},
		{Input: good, Output: filepath.Join(dir, "out-good.txt")},
	}

	results, err := RunBatch(context.Background(), jobs, Options{WindowSize: 3}, 1)
	assert.ErrorIs(t, err, ErrIO)
	require.Len(t, results, 2)
	assert.Equal(t, jobs[1].Input, results[1].Input)

	_, statErr := os.Stat(jobs[0].Output)
	assert.True(t, os.IsNotExist(statErr))
}
