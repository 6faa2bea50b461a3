// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then RENDERQ_* environment variables (after a .env file, if
// present), then validation.
package config

import (
	"encoding/json"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

// EnvPrefix prefixes every environment override, e.g. RENDERQ_SERVER_ADDR.
const EnvPrefix = "RENDERQ"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

var drivers = []string{DriverMemory, DriverSQLite, DriverPostgres, DriverRedis, DriverMongo}

// DefaultKind is the executor key for the fallback command.
const DefaultKind = "default"

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Queue    QueueConfig    `yaml:"queue" envconfig:"QUEUE"`
	Webhook  WebhookConfig  `yaml:"webhook" envconfig:"WEBHOOK"`
	AMQP     AMQPConfig     `yaml:"amqp" envconfig:"AMQP"`
	CORS     CORSConfig     `yaml:"cors" envconfig:"CORS"`
	Executor ExecutorConfig `yaml:"executor" envconfig:"EXECUTOR"`
	// Schedules are read from the YAML file only.
	Schedules []ScheduleConfig `yaml:"schedules" ignored:"true"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" split_words:"true"`
	Mode              string        `yaml:"mode" split_words:"true"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	StreamHeartbeat   time.Duration `yaml:"stream_heartbeat" split_words:"true"`
}

type LogConfig struct {
	Level     string `yaml:"level" split_words:"true"`
	Format    string `yaml:"format" split_words:"true"`
	AddSource bool   `yaml:"add_source" split_words:"true"`
}

// StoreConfig selects the persistence backend. DSN is a file path for
// sqlite, a connection string for postgres and a redis:// URL for redis.
type StoreConfig struct {
	Driver string `yaml:"driver" split_words:"true"`
	DSN    string `yaml:"dsn" split_words:"true"`
	// Database names the MongoDB database. Other drivers take it from DSN.
	Database string `yaml:"database" split_words:"true"`
	Migrate  bool   `yaml:"migrate" split_words:"true"`
}

type QueueConfig struct {
	Concurrency        int           `yaml:"concurrency" split_words:"true"`
	PollInterval       time.Duration `yaml:"poll_interval" split_words:"true"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" split_words:"true"`
	StaleJobThreshold  time.Duration `yaml:"stale_job_threshold" split_words:"true"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts" split_words:"true"`
	DefaultTimeout     time.Duration `yaml:"default_timeout" split_words:"true"`
	CancelGracePeriod  time.Duration `yaml:"cancel_grace_period" split_words:"true"`
	HardTimeout        time.Duration `yaml:"hard_timeout" split_words:"true"`
	ProgressInterval   time.Duration `yaml:"progress_interval" split_words:"true"`
	RetryStrategy      string        `yaml:"retry_strategy" split_words:"true"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" split_words:"true"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay" split_words:"true"`
	RetryJitter        float64       `yaml:"retry_jitter" split_words:"true"`
	CompletedRetention time.Duration `yaml:"completed_retention" split_words:"true"`
	DeadRetention      time.Duration `yaml:"dead_retention" split_words:"true"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" split_words:"true"`
}

type WebhookConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" split_words:"true"`
	Cooldown         time.Duration `yaml:"cooldown" split_words:"true"`
	MaxCooldown      time.Duration `yaml:"max_cooldown" split_words:"true"`
	MaxAttempts      int           `yaml:"max_attempts" split_words:"true"`
	BaseDelay        time.Duration `yaml:"base_delay" split_words:"true"`
	MaxDelay         time.Duration `yaml:"max_delay" split_words:"true"`
	Jitter           float64       `yaml:"jitter" split_words:"true"`
	Timeout          time.Duration `yaml:"timeout" split_words:"true"`
	RateLimit        float64       `yaml:"rate_limit" split_words:"true"`
	RateBurst        int           `yaml:"rate_burst" split_words:"true"`
	QueueSize        int           `yaml:"queue_size" split_words:"true"`
	InboxSize        int           `yaml:"inbox_size" split_words:"true"`
	AttemptHistory   int           `yaml:"attempt_history" split_words:"true"`
	UserAgent        string        `yaml:"user_agent" split_words:"true"`
}

// AMQPConfig enables the RabbitMQ event hook when URL is set.
type AMQPConfig struct {
	URL      string   `yaml:"url" split_words:"true"`
	Exchange string   `yaml:"exchange" split_words:"true"`
	Events   []string `yaml:"events" split_words:"true"`
}

// CORSConfig enables CORS when AllowOrigins is not empty.
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" split_words:"true"`
	AllowHeaders []string      `yaml:"allow_headers" split_words:"true"`
	MaxAge       time.Duration `yaml:"max_age" split_words:"true"`
}

// ExecutorConfig maps job kinds to external commands. The DefaultKind
// entry runs jobs whose kind has no command of its own.
type ExecutorConfig struct {
	Commands map[string]string `yaml:"commands" split_words:"true"`
	WorkDir  string            `yaml:"work_dir" split_words:"true"`
}

// ScheduleConfig submits a job on a cron schedule.
type ScheduleConfig struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"`
	Kind        string `yaml:"kind"`
	Priority    string `yaml:"priority"`
	MaxAttempts int    `yaml:"max_attempts"`
	// Payload is a JSON document.
	Payload string `yaml:"payload"`
}

// Entry converts the schedule to a cron entry.
func (s ScheduleConfig) Entry() (cron.Entry, error) {
	p, err := job.ParsePriority(s.Priority)
	if err != nil {
		return cron.Entry{}, errors.Wrapf(err, "schedule %q", s.Name)
	}
	if s.Payload != "" && !json.Valid([]byte(s.Payload)) {
		return cron.Entry{}, errors.Wrapf(renderq.ErrInvalidConfig, "schedule %q: payload is not valid JSON", s.Name)
	}
	if _, err := cron.ParseSchedule(s.Schedule); err != nil {
		return cron.Entry{}, errors.Wrapf(err, "schedule %q", s.Name)
	}
	return cron.Entry{
		Name:        s.Name,
		Schedule:    s.Schedule,
		Kind:        s.Kind,
		Priority:    p,
		Payload:     []byte(s.Payload),
		MaxAttempts: s.MaxAttempts,
	}, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	rc := renderq.DefaultConfig()
	wc := webhook.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			Mode:              "release",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   rc.ShutdownTimeout,
			StreamHeartbeat:   15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Driver:  DriverSQLite,
			DSN:     "renderq.db",
			Migrate: true,
		},
		Queue: QueueConfig{
			Concurrency:        rc.Concurrency,
			PollInterval:       rc.PollInterval,
			HeartbeatInterval:  rc.HeartbeatInterval,
			StaleJobThreshold:  rc.StaleJobThreshold,
			DefaultMaxAttempts: rc.DefaultMaxAttempts,
			DefaultTimeout:     rc.DefaultTimeout,
			CancelGracePeriod:  rc.CancelGracePeriod,
			HardTimeout:        rc.HardTimeout,
			ProgressInterval:   rc.ProgressInterval,
			RetryStrategy:      rc.RetryStrategy,
			RetryBaseDelay:     rc.RetryBaseDelay,
			RetryMaxDelay:      rc.RetryMaxDelay,
			RetryJitter:        rc.RetryJitter,
			CompletedRetention: rc.CompletedRetention,
			DeadRetention:      rc.DeadRetention,
			CleanupInterval:    rc.CleanupInterval,
		},
		Webhook: WebhookConfig{
			FailureThreshold: wc.FailureThreshold,
			Cooldown:         wc.Cooldown,
			MaxCooldown:      wc.MaxCooldown,
			MaxAttempts:      wc.MaxAttempts,
			BaseDelay:        wc.BaseDelay,
			MaxDelay:         wc.MaxDelay,
			Jitter:           wc.Jitter,
			Timeout:          wc.Timeout,
			RateLimit:        wc.RateLimit,
			RateBurst:        wc.RateBurst,
			QueueSize:        wc.QueueSize,
			InboxSize:        wc.InboxSize,
			AttemptHistory:   wc.AttemptHistory,
			UserAgent:        wc.UserAgent,
		},
		AMQP: AMQPConfig{
			Exchange: "renderq.events",
		},
		CORS: CORSConfig{
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			MaxAge:       12 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "failed to load .env file")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %q", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %q", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.Wrap(renderq.ErrInvalidConfig, "server addr is required")
	}
	if !slices.Contains(drivers, c.Store.Driver) {
		return errors.Wrapf(renderq.ErrInvalidConfig, "unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		return errors.Wrapf(renderq.ErrInvalidConfig, "store dsn is required for %s", c.Store.Driver)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Wrapf(renderq.ErrInvalidConfig, "unknown log format %q", c.Log.Format)
	}
	names := make(map[string]bool, len(c.Schedules))
	for _, sc := range c.Schedules {
		if _, err := sc.Entry(); err != nil {
			return err
		}
		if names[sc.Name] {
			return errors.Wrapf(renderq.ErrInvalidConfig, "duplicate schedule %q", sc.Name)
		}
		names[sc.Name] = true
	}
	if err := c.Renderq().Validate(); err != nil {
		return err
	}
	return c.WebhookConfig().Validate()
}

// Renderq converts the queue section to an orchestrator config.
func (c *Config) Renderq() renderq.Config {
	q := c.Queue
	return renderq.Config{
		Concurrency:        q.Concurrency,
		PollInterval:       q.PollInterval,
		ShutdownTimeout:    c.Server.ShutdownTimeout,
		HeartbeatInterval:  q.HeartbeatInterval,
		StaleJobThreshold:  q.StaleJobThreshold,
		DefaultMaxAttempts: q.DefaultMaxAttempts,
		DefaultTimeout:     q.DefaultTimeout,
		CancelGracePeriod:  q.CancelGracePeriod,
		HardTimeout:        q.HardTimeout,
		ProgressInterval:   q.ProgressInterval,
		RetryStrategy:      q.RetryStrategy,
		RetryBaseDelay:     q.RetryBaseDelay,
		RetryMaxDelay:      q.RetryMaxDelay,
		RetryJitter:        q.RetryJitter,
		CompletedRetention: q.CompletedRetention,
		DeadRetention:      q.DeadRetention,
		CleanupInterval:    q.CleanupInterval,
	}
}

// WebhookConfig converts the webhook section.
func (c *Config) WebhookConfig() webhook.Config {
	w := c.Webhook
	return webhook.Config{
		FailureThreshold: w.FailureThreshold,
		Cooldown:         w.Cooldown,
		MaxCooldown:      w.MaxCooldown,
		MaxAttempts:      w.MaxAttempts,
		BaseDelay:        w.BaseDelay,
		MaxDelay:         w.MaxDelay,
		Jitter:           w.Jitter,
		Timeout:          w.Timeout,
		RateLimit:        w.RateLimit,
		RateBurst:        w.RateBurst,
		QueueSize:        w.QueueSize,
		InboxSize:        w.InboxSize,
		AttemptHistory:   w.AttemptHistory,
		UserAgent:        w.UserAgent,
	}
}
