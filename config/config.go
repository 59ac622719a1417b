package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rolling-mean-service/analytics"
	"rolling-mean-service/utils"
)

const EnvPrefix = "ROLLMEAN"

// Config holds every setting the CLI and the service read
type Config struct {
	WindowSize int
	Precision  analytics.Precision

	Input  string
	Output string

	BatchConcurrency int
	WatchDebounce    time.Duration

	HTTPAddr        string
	RateLimit       float64
	RateBurst       int
	HistoryLimit    int
	ShutdownTimeout time.Duration

	Redis RedisConfig
	Log   utils.LogConfig
}

// RedisConfig configures the optional cache
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window-size", analytics.DefaultWindowSize)
	v.SetDefault("precision", string(analytics.DefaultPrecision))
	v.SetDefault("input", "")
	v.SetDefault("output", "")
	v.SetDefault("batch-concurrency", 4)
	v.SetDefault("watch-debounce", 100*time.Millisecond)
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("rate-limit", 2000.0)
	v.SetDefault("rate-burst", 50000)
	v.SetDefault("history-limit", 10000)
	v.SetDefault("shutdown-timeout", 10*time.Second)
	v.SetDefault("redis-enabled", false)
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-password", "")
	v.SetDefault("redis-db", 0)
	v.SetDefault("redis-ttl", 24*time.Hour)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("log-file", "")
}

// RegisterFlags adds every setting as a flag on fs
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "optional YAML config file")
	fs.IntP("window-size", "w", analytics.DefaultWindowSize, "number of samples in the rolling window")
	fs.String("precision", string(analytics.DefaultPrecision), "sample precision: float32 or float64")
	fs.StringP("input", "i", "", "input file (label,value per line)")
	fs.StringP("output", "o", "", "output file (label,mean per line)")
	fs.Int("batch-concurrency", 4, "jobs computed at the same time in batch mode")
	fs.Duration("watch-debounce", 100*time.Millisecond, "delay before recomputing after the input changes")
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.Float64("rate-limit", 2000, "HTTP requests per second, 0 disables limiting")
	fs.Int("rate-burst", 50000, "HTTP rate limiter burst")
	fs.Int("history-limit", 10000, "recent points kept per series in redis")
	fs.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	fs.Bool("redis-enabled", false, "cache series state in redis")
	fs.String("redis-addr", "localhost:6379", "redis address")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.Duration("redis-ttl", 24*time.Hour, "TTL of cached series snapshots")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "json", "log format: json or console")
	fs.String("log-file", "", "also write logs to this rotating file")
}

// Load builds a Config.
// Precedence: flags > env (ROLLMEAN_*) > config file > defaults.
// fs may be nil.
func Load(fs *flag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	precision, err := analytics.ParsePrecision(v.GetString("precision"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WindowSize:       v.GetInt("window-size"),
		Precision:        precision,
		Input:            v.GetString("input"),
		Output:           v.GetString("output"),
		BatchConcurrency: v.GetInt("batch-concurrency"),
		WatchDebounce:    v.GetDuration("watch-debounce"),
		HTTPAddr:         v.GetString("http-addr"),
		RateLimit:        v.GetFloat64("rate-limit"),
		RateBurst:        v.GetInt("rate-burst"),
		HistoryLimit:     v.GetInt("history-limit"),
		ShutdownTimeout:  v.GetDuration("shutdown-timeout"),
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis-enabled"),
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			TTL:      v.GetDuration("redis-ttl"),
		},
		Log: utils.LogConfig{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
			File:   v.GetString("log-file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// Validate rejects settings the engine or the service cannot run with
func (c *Config) Validate() error {
	if c.WindowSize <= 0 {
		return &analytics.ConfigError{Field: "window size", Value: c.WindowSize}
	}
	if c.BatchConcurrency <= 0 {
		return &analytics.ConfigError{Field: "batch concurrency", Value: c.BatchConcurrency}
	}
	if c.HistoryLimit <= 0 {
		return &analytics.ConfigError{Field: "history limit", Value: c.HistoryLimit}
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return &analytics.ConfigError{Field: "rate burst", Value: c.RateBurst}
	}
	return nil
}
