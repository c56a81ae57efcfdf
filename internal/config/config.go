package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	AWS         AWSConfig         `mapstructure:"aws"`
	GCP         GCPConfig         `mapstructure:"gcp"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Credential  CredentialConfig  `mapstructure:"credential"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	State       StateConfig       `mapstructure:"state"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Run         RunConfig         `mapstructure:"run"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	APIKeys     []string          `mapstructure:"api_keys"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

type RelayConfig struct {
	Transport      string        `mapstructure:"transport"` // pubsub | kafka
	Topic          string        `mapstructure:"topic"`
	Source         string        `mapstructure:"source"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	Enabled        bool          `mapstructure:"enabled"`
}

type CredentialConfig struct {
	SecretName string        `mapstructure:"secret_name"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type CoordinatorConfig struct {
	ID            string `mapstructure:"id"`
	AppSecretName string `mapstructure:"app_secret_name"`
	TasksCount    int    `mapstructure:"tasks_count"`
	CacheEntries  int    `mapstructure:"cache_entries"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"` // dynamodb | mysql
	Table   string `mapstructure:"table"`
}

type CacheConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type AlertsConfig struct {
	SNSTopicARN string         `mapstructure:"sns_topic_arn"`
	Slack       SlackConfig    `mapstructure:"slack"`
	WhatsApp    WhatsAppConfig `mapstructure:"whatsapp"`
	Breaker     BreakerConfig  `mapstructure:"breaker"`
}

type SlackConfig struct {
	SecretName string `mapstructure:"secret_name"`
	SecretKey  string `mapstructure:"secret_key"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
	Prefix     string `mapstructure:"message_prefix"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

type WhatsAppConfig struct {
	SecretName string   `mapstructure:"secret_name"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type SyncConfig struct {
	Source       string        `mapstructure:"source"` // pubsub | kafka
	Subscription string        `mapstructure:"subscription"`
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchWait    time.Duration `mapstructure:"batch_wait"`
	Firestore    bool          `mapstructure:"firestore"`
	ClickHouse   bool          `mapstructure:"clickhouse"`
}

type RunConfig struct {
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"` // per API key per second; 0 disables
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (DCOORD_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (DCOORD_RELAY_TOPIC -> relay.topic)
	v.SetEnvPrefix("DCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings every relay entry point depends on.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Coordinator.ID) == "" {
		errs = append(errs, errors.New("coordinator.id is required"))
	}
	if c.Relay.Enabled {
		switch c.Relay.Transport {
		case "pubsub":
			if c.GCP.ProjectID == "" {
				errs = append(errs, errors.New("gcp.project_id is required for pubsub transport"))
			}
			if c.Credential.SecretName == "" {
				errs = append(errs, errors.New("credential.secret_name is required for pubsub transport"))
			}
		case "kafka":
			if len(c.Kafka.Brokers) == 0 {
				errs = append(errs, errors.New("kafka.brokers is required for kafka transport"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown relay.transport %q", c.Relay.Transport))
		}
		if c.Relay.Topic == "" {
			errs = append(errs, errors.New("relay.topic is required"))
		}
	}
	switch c.State.Backend {
	case "dynamodb", "mysql", "":
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}

	return errors.Join(errs...)
}
