package services

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"rolling-mean-service/analytics"
	"rolling-mean-service/metrics"
	"rolling-mean-service/models"
	"rolling-mean-service/stream"
	"rolling-mean-service/utils"
)

const (
	ChannelBuffer = 1000
	cacheTimeout  = 3 * time.Second
)

var (
	ErrSeriesNotFound = errors.New("series not found")
	ErrInvalidSample  = errors.New("invalid sample")
	ErrCacheDisabled  = errors.New("cache not configured")
)

// SeriesCache persists series state outside the process
type SeriesCache interface {
	StorePoints(ctx context.Context, series string, points []models.MeanPoint) error
	GetRecentPoints(ctx context.Context, series string, count int64) ([]models.MeanPoint, error)
	GetInsertedCount(ctx context.Context, series string) (int64, error)
	StoreSnapshot(ctx context.Context, snapshot models.SeriesSnapshot) error
	GetSnapshot(ctx context.Context, series string) (*models.SeriesSnapshot, error)
	DeleteSeries(ctx context.Context, series string) error
	ListSeries(ctx context.Context) ([]string, error)
	StoreRunResult(ctx context.Context, result models.RunResult) error
	GetRecentRuns(ctx context.Context, count int64) ([]models.RunResult, error)
	HealthCheck(ctx context.Context) error
}

// Options configures a MeanService
type Options struct {
	WindowSize int
	Precision  analytics.Precision
}

type series struct {
	mu        sync.Mutex
	name      string
	engine    analytics.Engine
	lastLabel string
	drift     float64
	updated   time.Time
	deleted   bool
}

// snapshot must be called with s.mu held
func (s *series) snapshot() models.SeriesSnapshot {
	return models.SeriesSnapshot{
		Name:       s.name,
		WindowSize: s.engine.WindowSize(),
		Precision:  string(s.engine.Precision()),
		Size:       s.engine.Len(),
		Mode:       s.engine.Mode().String(),
		Mean:       s.engine.Mean(),
		Inserted:   s.engine.Inserted(),
		Drift:      s.drift,
		LastLabel:  s.lastLabel,
		Updated:    s.updated,
	}
}

type cacheUpdate struct {
	series   string
	points   []models.MeanPoint
	snapshot models.SeriesSnapshot
	remove   bool
}

// MeanService keeps one rolling mean engine per named series.
// Engines are not safe for concurrent use, so every series has its own lock.
type MeanService struct {
	cache SeriesCache
	opts  Options

	mu     sync.RWMutex
	series map[string]*series

	// Channel for async cache writes
	updates  chan cacheUpdate
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMeanService creates a new mean service; cache may be nil
func NewMeanService(cache SeriesCache, opts Options) (*MeanService, error) {
	if opts.Precision == "" {
		opts.Precision = analytics.DefaultPrecision
	}
	// fail fast on settings every new series would reject
	if _, err := analytics.NewEngine(opts.Precision, opts.WindowSize); err != nil {
		return nil, err
	}

	ms := &MeanService{
		cache:    cache,
		opts:     opts,
		series:   make(map[string]*series),
		updates:  make(chan cacheUpdate, ChannelBuffer),
		stopChan: make(chan struct{}),
	}

	if cache != nil {
		ms.wg.Add(1)
		go ms.processUpdates()
	}
	return ms, nil
}

// WindowSize returns the window size new series are created with
func (ms *MeanService) WindowSize() int {
	return ms.opts.WindowSize
}

func (ms *MeanService) getOrCreate(name string) (*series, error) {
	ms.mu.RLock()
	s, ok := ms.series[name]
	ms.mu.RUnlock()
	if ok {
		return s, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if s, ok := ms.series[name]; ok {
		return s, nil
	}

	engine, err := analytics.NewEngine(ms.opts.Precision, ms.opts.WindowSize)
	if err != nil {
		return nil, err
	}
	s = &series{name: name, engine: engine}
	ms.series[name] = s
	metrics.SetActiveSeries(len(ms.series))
	utils.LogInfo("series created", zap.String("series", name), zap.Int("window_size", ms.opts.WindowSize))
	return s, nil
}

func (ms *MeanService) lookup(name string) (*series, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	s, ok := ms.series[name]
	if !ok {
		return nil, errors.Wrapf(ErrSeriesNotFound, "%q", name)
	}
	return s, nil
}

// Ingest inserts samples into a series, creating it on first use, and returns
// the mean after each sample. Nothing is inserted if any sample is invalid or
// does not fit the service precision.
func (ms *MeanService) Ingest(name string, inputs []models.SampleInput) ([]models.MeanPoint, error) {
	for i := range inputs {
		if err := inputs[i].Validate(); err != nil {
			return nil, errors.Wrapf(ErrInvalidSample, "sample %d: %v", i, err)
		}
		if !ms.opts.Precision.Fits(inputs[i].Value) {
			return nil, errors.Wrapf(ErrInvalidSample, "sample %d: value %g overflows %s", i, inputs[i].Value, ms.opts.Precision)
		}
	}

	for {
		s, err := ms.getOrCreate(name)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.deleted {
			// deleted between lookup and lock, start over on a fresh series
			s.mu.Unlock()
			continue
		}
		points := s.insert(inputs)
		snapshot := s.snapshot()
		metrics.RecordSamples(name, len(points), snapshot.Mean, snapshot.Drift)
		// queued under s.mu so cache writes and deletes keep the lock order
		ms.enqueue(cacheUpdate{series: name, points: points, snapshot: snapshot})
		s.mu.Unlock()

		return points, nil
	}
}

// insert must be called with s.mu held
func (s *series) insert(inputs []models.SampleInput) []models.MeanPoint {
	points := make([]models.MeanPoint, 0, len(inputs))
	for _, in := range inputs {
		mode := s.engine.Mode()
		s.engine.Insert(in.Value)
		points = append(points, models.MeanPoint{
			Label: in.Label,
			Mean:  s.engine.Mean(),
			Mode:  mode.String(),
			Size:  s.engine.Len(),
		})
		s.lastLabel = in.Label
	}
	if s.engine.Len() > 0 {
		s.drift = s.engine.Mean() - stat.Mean(s.engine.Samples(), nil)
	}
	s.updated = time.Now()
	return points
}

// enqueue hands u to the cache writer. A full queue blocks the caller so that
// updates are applied in the order they were queued; once the service is
// stopped updates are written synchronously.
func (ms *MeanService) enqueue(u cacheUpdate) {
	if ms.cache == nil {
		return
	}
	select {
	case <-ms.stopChan:
		ms.writeCache(u)
		return
	default:
	}
	select {
	case ms.updates <- u:
	case <-ms.stopChan:
		ms.writeCache(u)
	}
}

// processUpdates runs the background cache writer
func (ms *MeanService) processUpdates() {
	defer ms.wg.Done()
	for {
		select {
		case u := <-ms.updates:
			ms.writeCache(u)
		case <-ms.stopChan:
			// drain what is already queued
			for {
				select {
				case u := <-ms.updates:
					ms.writeCache(u)
				default:
					return
				}
			}
		}
	}
}

func (ms *MeanService) writeCache(u cacheUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if u.remove {
		if err := ms.cache.DeleteSeries(ctx, u.series); err != nil {
			utils.LogWarning("failed to delete series from cache", zap.String("series", u.series), zap.Error(err))
		}
		return
	}
	if err := ms.cache.StorePoints(ctx, u.series, u.points); err != nil {
		utils.LogWarning("failed to store points in cache", zap.String("series", u.series), zap.Error(err))
	}
	if err := ms.cache.StoreSnapshot(ctx, u.snapshot); err != nil {
		utils.LogWarning("failed to store snapshot in cache", zap.String("series", u.series), zap.Error(err))
	}
}

// Snapshot returns the current state of a series
func (ms *MeanService) Snapshot(name string) (models.SeriesSnapshot, error) {
	s, err := ms.lookup(name)
	if err != nil {
		return models.SeriesSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// SampleAt returns the buffered sample at index of a series, oldest first
func (ms *MeanService) SampleAt(name string, index int) (float64, error) {
	s, err := ms.lookup(name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.At(index)
}

// Delete drops a series; the next Ingest under the same name starts a new engine.
// The cache delete is queued behind the series' pending writes.
func (ms *MeanService) Delete(name string) error {
	ms.mu.Lock()
	s, ok := ms.series[name]
	if !ok {
		ms.mu.Unlock()
		return errors.Wrapf(ErrSeriesNotFound, "%q", name)
	}
	delete(ms.series, name)
	metrics.SetActiveSeries(len(ms.series))
	ms.mu.Unlock()

	s.mu.Lock()
	s.deleted = true
	metrics.RemoveSeries(name)
	ms.enqueue(cacheUpdate{series: name, remove: true})
	s.mu.Unlock()

	utils.LogInfo("series deleted", zap.String("series", name))
	return nil
}

// List returns the series names in sorted order
func (ms *MeanService) List() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	names := make([]string, 0, len(ms.series))
	for name := range ms.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute runs the delimited text adapter over in with a fresh engine.
// With a cache configured the run is recorded in the run history.
func (ms *MeanService) Compute(ctx context.Context, in io.Reader, out io.Writer, windowSize int) (stream.Summary, error) {
	if windowSize == 0 {
		windowSize = ms.opts.WindowSize
	}

	start := time.Now()
	summary, err := stream.Compute(ctx, in, out, stream.Options{
		WindowSize: windowSize,
		Precision:  ms.opts.Precision,
	})
	if err != nil {
		if errors.Is(err, stream.ErrParse) {
			metrics.RecordParseError()
		}
		metrics.RecordComputeRun("failed", summary.Lines)
		return summary, err
	}

	metrics.RecordComputeRun("ok", summary.Lines)
	ms.recordRun(models.RunResult{
		RunID:      uuid.NewString(),
		Input:      "http",
		Output:     "http",
		WindowSize: windowSize,
		Precision:  string(ms.opts.Precision),
		Lines:      summary.Lines,
		FinalMean:  summary.FinalMean,
		FinalMode:  summary.FinalMode.String(),
		Duration:   time.Since(start),
		Finished:   time.Now(),
	})
	return summary, nil
}

func (ms *MeanService) recordRun(result models.RunResult) {
	if ms.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := ms.cache.StoreRunResult(ctx, result); err != nil {
		utils.LogWarning("failed to store run result", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// CachedSnapshot returns the last snapshot the cache holds for a series.
// It serves series that are no longer in memory, e.g. after a restart.
func (ms *MeanService) CachedSnapshot(ctx context.Context, name string) (models.SeriesSnapshot, error) {
	if ms.cache == nil {
		return models.SeriesSnapshot{}, errors.Wrapf(ErrSeriesNotFound, "%q", name)
	}
	snapshot, err := ms.cache.GetSnapshot(ctx, name)
	if err != nil {
		return models.SeriesSnapshot{}, err
	}
	if snapshot == nil {
		return models.SeriesSnapshot{}, errors.Wrapf(ErrSeriesNotFound, "%q", name)
	}
	return *snapshot, nil
}

// CachedSeries returns the sorted names of every series in the cache
func (ms *MeanService) CachedSeries(ctx context.Context) ([]string, error) {
	if ms.cache == nil {
		return nil, ErrCacheDisabled
	}
	names, err := ms.cache.ListSeries(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// History returns up to count of the most recent cached points of a series
func (ms *MeanService) History(ctx context.Context, name string, count int64) (models.SeriesHistory, error) {
	if ms.cache == nil {
		return models.SeriesHistory{}, ErrCacheDisabled
	}
	inserted, err := ms.cache.GetInsertedCount(ctx, name)
	if err != nil {
		return models.SeriesHistory{}, err
	}
	if inserted == 0 {
		return models.SeriesHistory{}, errors.Wrapf(ErrSeriesNotFound, "%q", name)
	}
	points, err := ms.cache.GetRecentPoints(ctx, name, count)
	if err != nil {
		return models.SeriesHistory{}, err
	}
	return models.SeriesHistory{Name: name, Inserted: inserted, Points: points}, nil
}

// RecentRuns returns up to count of the newest recorded compute runs
func (ms *MeanService) RecentRuns(ctx context.Context, count int64) ([]models.RunResult, error) {
	if ms.cache == nil {
		return nil, ErrCacheDisabled
	}
	return ms.cache.GetRecentRuns(ctx, count)
}

// CacheHealthy reports the cache status: "not configured", "healthy" or "unhealthy"
func (ms *MeanService) CacheHealthy(ctx context.Context) string {
	if ms.cache == nil {
		return "not configured"
	}
	if err := ms.cache.HealthCheck(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// Stop gracefully stops the service, flushing queued cache writes
func (ms *MeanService) Stop() {
	ms.stopOnce.Do(func() {
		close(ms.stopChan)
		ms.wg.Wait()
	})
}
