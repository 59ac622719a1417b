package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"rolling-mean-service/cache"
	"rolling-mean-service/config"
	"rolling-mean-service/models"
	"rolling-mean-service/stream"
	"rolling-mean-service/utils"
)

const usage = `usage: rollmean <command> [flags]

commands:
  compute  -i IN -o OUT      write label,mean for every label,value line of IN
  batch    IN:OUT [IN:OUT]   compute several files concurrently
  watch    -i IN -o OUT      compute, then recompute whenever IN changes
  serve                      run the HTTP mean service

run "rollmean <command> --help" for flags`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		utils.LogError(err, "rollmean failed")
		utils.SyncLogger()
		os.Exit(1)
	}
	utils.SyncLogger()
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.Wrap(errUsage, "missing command")
	}
	cmd := args[0]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errors.Wrap(errUsage, err.Error())
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	if err := utils.InitLogger(cfg.Log); err != nil {
		return errors.Wrap(err, "init logger")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "compute":
		return runCompute(ctx, cfg)
	case "batch":
		return runBatch(ctx, cfg, fs.Args())
	case "watch":
		return runWatch(ctx, cfg)
	case "serve":
		return runServe(ctx, cfg)
	default:
		return errors.Wrapf(errUsage, "unknown command %q", cmd)
	}
}

func streamOptions(cfg *config.Config) stream.Options {
	return stream.Options{
		WindowSize: cfg.WindowSize,
		Precision:  cfg.Precision,
	}
}

func requireJob(cfg *config.Config) (stream.Job, error) {
	if cfg.Input == "" || cfg.Output == "" {
		return stream.Job{}, errors.Wrap(errUsage, "--input and --output are required")
	}
	return stream.Job{Input: cfg.Input, Output: cfg.Output}, nil
}

// connectCache returns nil when redis is disabled or unreachable
func connectCache(ctx context.Context, cfg *config.Config) *cache.RedisClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	rc, err := cache.NewRedisClient(ctx, cache.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		TTL:          cfg.Redis.TTL,
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		utils.LogWarning("redis not available, running without cache", zap.Error(err))
		return nil
	}
	return rc
}

func recordRun(ctx context.Context, rc *cache.RedisClient, res models.RunResult) {
	if rc == nil || res.RunID == "" {
		return
	}
	if err := rc.StoreRunResult(ctx, res); err != nil {
		utils.LogWarning("failed to store run result", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func runCompute(ctx context.Context, cfg *config.Config) error {
	job, err := requireJob(cfg)
	if err != nil {
		return err
	}

	rc := connectCache(ctx, cfg)
	if rc != nil {
		defer rc.Close()
	}

	res, err := stream.ComputeFile(ctx, job, streamOptions(cfg))
	recordRun(ctx, rc, res)
	return err
}

func parseJobs(args []string) ([]stream.Job, error) {
	if len(args) == 0 {
		return nil, errors.Wrap(errUsage, "batch needs at least one IN:OUT pair")
	}

	jobs := make([]stream.Job, 0, len(args))
	for _, arg := range args {
		in, out, ok := strings.Cut(arg, ":")
		if !ok || in == "" || out == "" {
			return nil, errors.Wrapf(errUsage, "bad job %q, want IN:OUT", arg)
		}
		jobs = append(jobs, stream.Job{Input: in, Output: out})
	}
	return jobs, nil
}

func runBatch(ctx context.Context, cfg *config.Config, args []string) error {
	jobs, err := parseJobs(args)
	if err != nil {
		return err
	}

	rc := connectCache(ctx, cfg)
	if rc != nil {
		defer rc.Close()
	}

	results, err := stream.RunBatch(ctx, jobs, streamOptions(cfg), cfg.BatchConcurrency)
	for _, res := range results {
		recordRun(ctx, rc, res)
	}
	return err
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	job, err := requireJob(cfg)
	if err != nil {
		return err
	}

	rc := connectCache(ctx, cfg)
	if rc != nil {
		defer rc.Close()
	}

	return stream.Watch(ctx, job, streamOptions(cfg), cfg.WatchDebounce, func(res models.RunResult, err error) {
		if err != nil {
			utils.LogError(err, "recompute failed", zap.String("input", job.Input))
			return
		}
		recordRun(ctx, rc, res)
	})
}
