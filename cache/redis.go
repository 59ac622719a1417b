package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rolling-mean-service/models"
	"rolling-mean-service/utils"
)

const (
	SeriesIndexKey   = "series:index"
	RunsListKey      = "runs:list"
	DefaultTTL       = 24 * time.Hour
	MaxPointsStored  = 10000
	MaxRunsStored    = 1000
	snapshotKeyFmt   = "series:%s:snapshot"
	pointsKeyFmt     = "series:%s:points"
	insertedKeyFmt   = "series:%s:inserted"
	defaultPoolSize  = 100
	defaultIdleConns = 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the redis connection
type Options struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	HistoryLimit int
}

// RedisClient caches series state and run results in redis
type RedisClient struct {
	client       *redis.Client
	ttl          time.Duration
	historyLimit int64
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, opts Options) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     defaultPoolSize,
		MinIdleConns: defaultIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = MaxPointsStored
	}

	utils.LogInfo("connected to redis", zap.String("addr", opts.Addr))

	return &RedisClient{
		client:       client,
		ttl:          ttl,
		historyLimit: int64(limit),
	}, nil
}

// StorePoints appends computed points to a series' recent history (newest first)
// and bumps its insert counter
func (rc *RedisClient) StorePoints(ctx context.Context, series string, points []models.MeanPoint) error {
	if len(points) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(points))
	for _, p := range points {
		data, err := json.Marshal(p)
		if err != nil {
			return errors.Wrap(err, "failed to marshal point")
		}
		values = append(values, data)
	}

	key := fmt.Sprintf(pointsKeyFmt, series)
	pipe := rc.client.TxPipeline()
	pipe.LPush(ctx, key, values...)
	pipe.LTrim(ctx, key, 0, rc.historyLimit-1)
	pipe.IncrBy(ctx, fmt.Sprintf(insertedKeyFmt, series), int64(len(points)))
	pipe.SAdd(ctx, SeriesIndexKey, series)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store points")
	}
	return nil
}

// GetRecentPoints returns up to count of the newest points of a series, newest first
func (rc *RedisClient) GetRecentPoints(ctx context.Context, series string, count int64) ([]models.MeanPoint, error) {
	data, err := rc.client.LRange(ctx, fmt.Sprintf(pointsKeyFmt, series), 0, count-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get points")
	}

	points := make([]models.MeanPoint, 0, len(data))
	for _, d := range data {
		var p models.MeanPoint
		if err := json.Unmarshal([]byte(d), &p); err != nil {
			continue // Skip invalid entries
		}
		points = append(points, p)
	}
	return points, nil
}

// GetInsertedCount returns how many samples were cached for a series
func (rc *RedisClient) GetInsertedCount(ctx context.Context, series string) (int64, error) {
	count, err := rc.client.Get(ctx, fmt.Sprintf(insertedKeyFmt, series)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get inserted count")
	}
	return count, nil
}

// StoreSnapshot caches the latest state of a series
func (rc *RedisClient) StoreSnapshot(ctx context.Context, snapshot models.SeriesSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	if err := rc.client.Set(ctx, fmt.Sprintf(snapshotKeyFmt, snapshot.Name), data, rc.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store snapshot")
	}
	return nil
}

// GetSnapshot retrieves the cached state of a series, nil when absent
func (rc *RedisClient) GetSnapshot(ctx context.Context, series string) (*models.SeriesSnapshot, error) {
	data, err := rc.client.Get(ctx, fmt.Sprintf(snapshotKeyFmt, series)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get snapshot")
	}

	var snapshot models.SeriesSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal snapshot")
	}
	return &snapshot, nil
}

// DeleteSeries drops everything cached for a series
func (rc *RedisClient) DeleteSeries(ctx context.Context, series string) error {
	pipe := rc.client.TxPipeline()
	pipe.Del(ctx,
		fmt.Sprintf(snapshotKeyFmt, series),
		fmt.Sprintf(pointsKeyFmt, series),
		fmt.Sprintf(insertedKeyFmt, series),
	)
	pipe.SRem(ctx, SeriesIndexKey, series)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to delete series")
	}
	return nil
}

// ListSeries returns the names of every cached series
func (rc *RedisClient) ListSeries(ctx context.Context) ([]string, error) {
	names, err := rc.client.SMembers(ctx, SeriesIndexKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list series")
	}
	return names, nil
}

// StoreRunResult records a finished compute run
func (rc *RedisClient) StoreRunResult(ctx context.Context, result models.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal run result")
	}

	pipe := rc.client.TxPipeline()
	pipe.LPush(ctx, RunsListKey, data)
	pipe.LTrim(ctx, RunsListKey, 0, MaxRunsStored-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store run result")
	}
	return nil
}

// GetRecentRuns returns up to count of the newest run results
func (rc *RedisClient) GetRecentRuns(ctx context.Context, count int64) ([]models.RunResult, error) {
	data, err := rc.client.LRange(ctx, RunsListKey, 0, count-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get runs")
	}

	runs := make([]models.RunResult, 0, len(data))
	for _, d := range data {
		var r models.RunResult
		if err := json.Unmarshal([]byte(d), &r); err != nil {
			continue
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// HealthCheck checks redis connectivity
func (rc *RedisClient) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}
