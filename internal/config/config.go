// Package config loads hotpool settings.
//
// Precedence, lowest first: built-in defaults, hotpool.yaml, variables from a
// .env file, then HOTPOOL_* environment variables. Keys are dotted paths
// (supervisor.interval); the matching variable replaces dots with
// underscores (HOTPOOL_SUPERVISOR_INTERVAL).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hotpool/internal/observability"
)

const (
	EnvPrefix      = "HOTPOOL"
	EnvConfigFile  = "HOTPOOL_CONFIG"
	ConfigName     = "hotpool"
	DefaultEnvFile = ".env"
)

// Config is the full process configuration.
type Config struct {
	Pool       PoolConfig                  `mapstructure:"pool" yaml:"pool"`
	Supervisor SupervisorConfig            `mapstructure:"supervisor" yaml:"supervisor"`
	Worker     WorkerConfig                `mapstructure:"worker" yaml:"worker"`
	Loader     LoaderConfig                `mapstructure:"loader" yaml:"loader"`
	Logging    observability.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics    observability.MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// PoolConfig locates task sources.
type PoolConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir"`
	Extension     string `mapstructure:"extension" yaml:"extension"`
	PrivateMarker string `mapstructure:"private_marker" yaml:"private_marker"`
}

// SupervisorConfig tunes the reconcile loop.
type SupervisorConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	StopConcurrency int           `mapstructure:"stop_concurrency" yaml:"stop_concurrency"`
	Watch           bool          `mapstructure:"watch" yaml:"watch"`
	WatchDebounce   time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
	StatusFile      string        `mapstructure:"status_file" yaml:"status_file"`
	// DigestFailureLimit is the number of consecutive unreadable digests
	// after which a running task is reloaded.
	DigestFailureLimit int           `mapstructure:"digest_failure_limit" yaml:"digest_failure_limit"`
	Failure            FailureConfig `mapstructure:"failure" yaml:"failure"`
}

// FailureConfig holds the optional load-failure cooldown. MaxInWindow 0
// disables it.
type FailureConfig struct {
	MaxInWindow int           `mapstructure:"max_in_window" yaml:"max_in_window"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
	Cooldown    time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// WorkerConfig tunes task workers.
type WorkerConfig struct {
	PanicBackoff time.Duration `mapstructure:"panic_backoff" yaml:"panic_backoff"`
}

// LoaderConfig tunes the task loader.
type LoaderConfig struct {
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// Metadata records where configuration came from.
type Metadata struct {
	ConfigFile string
	EnvFile    string
	LoadedAt   time.Time
}

var defaults = map[string]any{
	"pool.dir":                         "./pool",
	"pool.extension":                   ".task",
	"pool.private_marker":              "__",
	"supervisor.interval":              "5s",
	"supervisor.stop_concurrency":      4,
	"supervisor.watch":                 true,
	"supervisor.watch_debounce":        "750ms",
	"supervisor.status_file":           "",
	"supervisor.digest_failure_limit":  3,
	"supervisor.failure.max_in_window": 0,
	"supervisor.failure.window":        "10m",
	"supervisor.failure.cooldown":      "5m",
	"worker.panic_backoff":             "1s",
	"loader.cache_size":                128,
	"logging.level":                    "info",
	"logging.format":                   "auto",
	"metrics.enabled":                  true,
	"metrics.textfile":                 "",
}

type loadOptions struct {
	configFile  string
	searchPaths []string
	envFile     string
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile reads exactly this file instead of searching.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithSearchPaths replaces the directories searched for hotpool.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithEnvFile sets the dotenv file, or disables it when path is empty.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// Load resolves configuration from every layer and validates it.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		configFile:  os.Getenv(EnvConfigFile),
		searchPaths: []string{".", "$HOME/.hotpool"},
		envFile:     DefaultEnvFile,
	}
	for _, opt := range opts {
		opt(&options)
	}
	meta := Metadata{LoadedAt: time.Now()}

	if options.envFile != "" {
		if err := godotenv.Load(options.envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, Metadata{}, fmt.Errorf("load env file %s: %w", options.envFile, err)
			}
		} else {
			meta.EnvFile = options.envFile
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, path := range options.searchPaths {
			v.AddConfigPath(path)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.configFile != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		meta.ConfigFile = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// Validate rejects settings the supervisor cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Pool.Dir) == "" {
		errs = append(errs, fmt.Errorf("pool.dir is required"))
	}
	if c.Supervisor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.interval must be positive, got %s", c.Supervisor.Interval))
	}
	if c.Supervisor.StopConcurrency < 1 {
		errs = append(errs, fmt.Errorf("supervisor.stop_concurrency must be at least 1, got %d", c.Supervisor.StopConcurrency))
	}
	if c.Supervisor.DigestFailureLimit < 1 {
		errs = append(errs, fmt.Errorf("supervisor.digest_failure_limit must be at least 1, got %d", c.Supervisor.DigestFailureLimit))
	}
	if c.Supervisor.Failure.MaxInWindow < 0 {
		errs = append(errs, fmt.Errorf("supervisor.failure.max_in_window must not be negative"))
	}
	if c.Supervisor.Failure.MaxInWindow > 0 && (c.Supervisor.Failure.Window <= 0 || c.Supervisor.Failure.Cooldown <= 0) {
		errs = append(errs, fmt.Errorf("supervisor.failure.window and cooldown must be positive when the cooldown is enabled"))
	}
	if c.Worker.PanicBackoff <= 0 {
		errs = append(errs, fmt.Errorf("worker.panic_backoff must be positive, got %s", c.Worker.PanicBackoff))
	}
	if c.Loader.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("loader.cache_size must be at least 1, got %d", c.Loader.CacheSize))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, text or json, got %q", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
