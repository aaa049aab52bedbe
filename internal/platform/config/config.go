// Package config loads service configuration. Values start from Default, are
// overlaid by an optional YAML file and finally by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pstrings "followup/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Leadership backends.
const (
	LeaderStatic = "static"
	LeaderHTTP   = "http"
	LeaderRedis  = "redis"
)

type Config struct {
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Log         LogConfig        `yaml:"log"`
	Database    DatabaseConfig   `yaml:"database"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Redis       RedisConfig      `yaml:"redis"`
	Leader      LeaderConfig     `yaml:"leader"`
	Outbox      OutboxConfig     `yaml:"outbox"`
	Checkpoint  CheckpointConfig `yaml:"checkpoint"`
	Archive     ArchiveConfig    `yaml:"archive"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects Postgres stores when URL is set and in-memory stores
// otherwise.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	Group             string        `yaml:"group"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	EnsureTopics      bool          `yaml:"ensure_topics"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	Topics            TopicsConfig  `yaml:"topics"`
}

type TopicsConfig struct {
	NotificationSent string `yaml:"notification_sent"`
	AnswerReceived   string `yaml:"answer_received"`
	CasePeriod       string `yaml:"case_period"`
	IdentityChange   string `yaml:"identity_change"`
	Candidates       string `yaml:"candidates"`
}

// Inbound lists the consumed topics.
func (t TopicsConfig) Inbound() []string {
	return []string{t.NotificationSent, t.AnswerReceived, t.CasePeriod, t.IdentityChange}
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LeaderConfig struct {
	Mode       string        `yaml:"mode"`
	ElectorURL string        `yaml:"elector_url"`
	LeaseKey   string        `yaml:"lease_key"`
	LeaseTTL   time.Duration `yaml:"lease_ttl"`
}

type JobConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type OutboxConfig struct {
	JobConfig   `yaml:",inline"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

type CheckpointConfig struct {
	JobConfig `yaml:",inline"`
	// PilotUnits restricts checkpoints to cases owned by these units. Empty
	// means every unit takes part.
	PilotUnits []string `yaml:"pilot_units"`
}

type ArchiveConfig struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	// FallbackEnabled substitutes a placeholder reference when archival fails.
	// Rejected in production.
	FallbackEnabled bool `yaml:"fallback_enabled"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		HTTP:        HTTPConfig{Addr: ":8080"},
		Log:         LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			ClientID:          "followup",
			Group:             "followup",
			MaxBackoff:        time.Minute,
			Partitions:        3,
			ReplicationFactor: 1,
			Topics: TopicsConfig{
				NotificationSent: "followup.notification-sent",
				AnswerReceived:   "followup.answer-received",
				CasePeriod:       "followup.case-period",
				IdentityChange:   "followup.identity-change",
				Candidates:       "followup.candidates",
			},
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Leader: LeaderConfig{
			Mode:     LeaderStatic,
			LeaseKey: "followup:leader",
			LeaseTTL: 30 * time.Second,
		},
		Outbox: OutboxConfig{
			JobConfig:   JobConfig{InitialDelay: 5 * time.Minute, Interval: time.Minute, BatchSize: 100},
			GracePeriod: 10 * 24 * time.Hour,
		},
		Checkpoint: CheckpointConfig{
			JobConfig: JobConfig{InitialDelay: 5 * time.Minute, Interval: 10 * time.Minute, BatchSize: 100},
		},
		Archive: ArchiveConfig{
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv is Load without a config file.
func FromEnv() (*Config, error) {
	return Load("")
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = pstrings.DedupeAndTrim(strings.Split(v, ","))
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("ENVIRONMENT", &c.Environment)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_URL", &c.Database.URL)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_CLIENT_ID", &c.Kafka.ClientID)
	str("KAFKA_GROUP", &c.Kafka.Group)
	boolean("KAFKA_ENSURE_TOPICS", &c.Kafka.EnsureTopics)
	str("REDIS_URL", &c.Redis.URL)
	str("LEADER_MODE", &c.Leader.Mode)
	str("LEADER_ELECTOR_URL", &c.Leader.ElectorURL)
	duration("OUTBOX_INITIAL_DELAY", &c.Outbox.InitialDelay)
	duration("OUTBOX_INTERVAL", &c.Outbox.Interval)
	integer("OUTBOX_BATCH_SIZE", &c.Outbox.BatchSize)
	duration("CHECKPOINT_INITIAL_DELAY", &c.Checkpoint.InitialDelay)
	duration("CHECKPOINT_INTERVAL", &c.Checkpoint.Interval)
	list("PILOT_UNITS", &c.Checkpoint.PilotUnits)
	str("ARCHIVE_URL", &c.Archive.URL)
	boolean("ARCHIVE_FALLBACK_ENABLED", &c.Archive.FallbackEnabled)

	return errors.Join(errs...)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.Environment == EnvProduction && c.Archive.FallbackEnabled {
		errs = append(errs, errors.New("archive fallback must not be enabled in production"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("at least one kafka broker is required"))
	}
	if c.Outbox.Interval <= 0 || c.Checkpoint.Interval <= 0 {
		errs = append(errs, errors.New("job intervals must be positive"))
	}
	if c.Outbox.InitialDelay < 0 || c.Checkpoint.InitialDelay < 0 {
		errs = append(errs, errors.New("job initial delays must not be negative"))
	}
	switch c.Leader.Mode {
	case LeaderStatic:
	case LeaderHTTP:
		if c.Leader.ElectorURL == "" {
			errs = append(errs, errors.New("leader elector url is required for http leadership"))
		}
	case LeaderRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis url is required for redis leadership"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown leader mode %q", c.Leader.Mode))
	}
	return errors.Join(errs...)
}
