package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Server    ServerConfig    `mapstructure:"server"`
}

type StorageConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	// Values larger than this many bytes are stored snappy-compressed. 0 disables compression.
	CompressThreshold int `mapstructure:"compress_threshold" validate:"gte=0"`
}

const (
	RemoteKindNone    = "none"
	RemoteKindMySQL   = "mysql"
	RemoteKindConnect = "connect"
)

type RemoteConfig struct {
	Kind         string        `mapstructure:"kind" validate:"oneof=none mysql connect"`
	URL          string        `mapstructure:"url" validate:"required_if=Kind connect,omitempty,url"`
	UserID       string        `mapstructure:"user_id"`
	DeviceID     string        `mapstructure:"device_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Enabled reports whether a remote store should be used at all.
func (c RemoteConfig) Enabled() bool {
	return c.Kind != RemoteKindNone && c.UserID != ""
}

type DatabaseConfig struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

type SyncConfig struct {
	Debounce         time.Duration `mapstructure:"debounce"`
	ErrorThrottle    time.Duration `mapstructure:"error_throttle"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts" validate:"gte=1"`
}

type SchedulerConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeURL      string        `mapstructure:"probe_url" validate:"omitempty,url"`
	// PurgeAt is the daily time (HH:MM) at which tombstones are purged.
	PurgeAt      string        `mapstructure:"purge_at" validate:"omitempty,clock"`
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
}

type OpenAIConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	RetryAttempts uint   `mapstructure:"retry_attempts"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	// Store is where the sync server keeps documents.
	Store string     `mapstructure:"store" validate:"oneof=memory mysql"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/phrasebook")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("godotenv.Load(%s) > %w", strings.Join(existing, ","), err)
	}
	return nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("storage.path", filepath.Join("data", "phrasebook.db"))
	v.SetDefault("storage.namespace", "default")
	v.SetDefault("storage.compress_threshold", 1024)
	v.SetDefault("remote.kind", RemoteKindNone)
	v.SetDefault("remote.poll_interval", 5*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "local")
	v.SetDefault("database.username", "user")
	v.SetDefault("sync.debounce", 500*time.Millisecond)
	v.SetDefault("sync.error_throttle", 5*time.Second)
	v.SetDefault("sync.retry_max_attempts", 5)
	v.SetDefault("scheduler.probe_interval", 30*time.Second)
	v.SetDefault("scheduler.purge_at", "03:00")
	v.SetDefault("scheduler.tombstone_ttl", 30*24*time.Hour)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.retry_attempts", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.store", "memory")
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})

	// Secrets and the user identity can be provided through the environment
	if err := v.BindEnv("openai.api_key", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind OPENAI_API_KEY environment variable: %w", err)
	}
	if err := v.BindEnv("openai.model", "OPENAI_MODEL"); err != nil {
		return nil, fmt.Errorf("failed to bind OPENAI_MODEL environment variable: %w", err)
	}
	if err := v.BindEnv("database.password", "DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DB_PASSWORD environment variable: %w", err)
	}
	if err := v.BindEnv("remote.user_id", "PHRASEBOOK_USER_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind PHRASEBOOK_USER_ID environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return nil, fmt.Errorf("validator.Struct() > %w", err)
		}
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
