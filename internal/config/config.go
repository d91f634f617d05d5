// Package config loads the process-wide configuration: defaults, an optional YAML
// file, ZENLIST_* environment variables and, optionally, secrets from AWS Secrets Manager.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const EnvPrefix = "ZENLIST"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Email    EmailConfig    `mapstructure:"email"`
	Push     PushConfig     `mapstructure:"push"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPAddr    string `mapstructure:"http_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	// DSN is empty in memory mode.
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type AuthConfig struct {
	// JWTSecret enables bearer tokens; without it the gateway's X-User-ID header is trusted.
	JWTSecret string `mapstructure:"jwt_secret"`
	// ServiceKeyHashes are the HMAC hashes of the keys allowed on /internal routes.
	ServiceKeyHashes []string `mapstructure:"service_key_hashes"`
	ServiceKeySecret string   `mapstructure:"service_key_secret"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
}

type SMTPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Encryption string        `mapstructure:"encryption"`
	SkipVerify bool          `mapstructure:"skip_verify"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Provider     string     `mapstructure:"provider"`
	From         string     `mapstructure:"from"`
	RedirectTo   string     `mapstructure:"redirect_to"`
	ResendAPIKey string     `mapstructure:"resend_api_key"`
	SMTP         SMTPConfig `mapstructure:"smtp"`
}

type PushConfig struct {
	PublicKey  string `mapstructure:"vapid_public_key"`
	PrivateKey string `mapstructure:"vapid_private_key"`
	Subject    string `mapstructure:"subject"`
	TTL        int    `mapstructure:"ttl"`
}

type DispatchConfig struct {
	RepeatCompletions bool          `mapstructure:"repeat_completions"`
	ChannelTimeout    time.Duration `mapstructure:"channel_timeout"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
}

type SweepConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Interval            time.Duration `mapstructure:"interval"`
	CleanupHour         int           `mapstructure:"cleanup_hour"`
	Retention           time.Duration `mapstructure:"retention"`
	SubscriptionMaxIdle time.Duration `mapstructure:"subscription_max_idle"`
	Timezone            string        `mapstructure:"timezone"`
}

type AssetsConfig struct {
	AppURL   string `mapstructure:"app_url"`
	IconURL  string `mapstructure:"icon_url"`
	BadgeURL string `mapstructure:"badge_url"`
}

type SecretsConfig struct {
	AWSSecretID string `mapstructure:"aws_secret_id"`
	AWSRegion   string `mapstructure:"aws_region"`
}

var defaults = map[string]any{
	"service.name":        "notifications",
	"service.version":     "0.1.0",
	"service.environment": "development",
	"service.http_addr":   ":8085",
	"service.log_level":   "info",

	"database.dsn":     "",
	"database.migrate": true,

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"rabbitmq.url":      "",
	"rabbitmq.queue":    "notifications",
	"rabbitmq.prefetch": 10,

	"kafka.brokers": []string{},
	"kafka.topic":   "todo-events",
	"kafka.group":   "notifications",

	"tracing.endpoint":     "",
	"tracing.sample_ratio": 1.0,

	"auth.jwt_secret":         "",
	"auth.service_key_hashes": []string{},
	"auth.service_key_secret": "",
	"auth.allowed_origins":    []string{},

	"email.provider":         "",
	"email.from":             "ZenList <onboarding@resend.dev>",
	"email.redirect_to":      "",
	"email.resend_api_key":   "",
	"email.smtp.host":        "",
	"email.smtp.port":        587,
	"email.smtp.username":    "",
	"email.smtp.password":    "",
	"email.smtp.encryption":  "",
	"email.smtp.skip_verify": false,
	"email.smtp.timeout":     "10s",

	"push.vapid_public_key":  "",
	"push.vapid_private_key": "",
	"push.subject":           "support@zenlist.app",
	"push.ttl":               86400,

	"dispatch.repeat_completions": true,
	"dispatch.channel_timeout":    "10s",
	"dispatch.max_in_flight":      64,
	"dispatch.task_timeout":       "1m",

	"sweep.enabled":               true,
	"sweep.interval":              "1m",
	"sweep.cleanup_hour":          2,
	"sweep.retention":             "48h",
	"sweep.subscription_max_idle": "720h",
	"sweep.timezone":              "Local",

	"assets.app_url":   "https://zenlist.app",
	"assets.icon_url":  "/icons/icon-192x192.png",
	"assets.badge_url": "/icons/badge-72x72.png",

	"secrets.aws_secret_id": "",
	"secrets.aws_region":    "",
}

// Load reads configuration. path may be empty, in which case only defaults and the
// environment apply. ZENLIST_EMAIL_SMTP_HOST sets email.smtp.host and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.HTTPAddr == "" {
		errs = append(errs, errors.New("service.http_addr is required"))
	}
	if c.Sweep.CleanupHour < 0 || c.Sweep.CleanupHour > 23 {
		errs = append(errs, fmt.Errorf("sweep.cleanup_hour %d out of range", c.Sweep.CleanupHour))
	}
	if c.Sweep.Interval < time.Second {
		errs = append(errs, fmt.Errorf("sweep.interval %s too short", c.Sweep.Interval))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if (c.Push.PublicKey == "") != (c.Push.PrivateKey == "") {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key must be set together"))
	}
	return errors.Join(errs...)
}

// Location resolves sweep.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Sweep.Timezone == "" || c.Sweep.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Sweep.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sweep.timezone: %w", err)
	}
	return loc, nil
}
