// Package config loads and validates server configuration from defaults,
// config files, ARKIVE_* environment variables, and CLI flags, in that order
// of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arkivehq/arkive/database"
	"github.com/arkivehq/arkive/httpapi"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for arkive.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Upload     UploadConfig       `mapstructure:"upload"`
	Storage    StorageConfig      `mapstructure:"storage"`
	Database   database.Config    `mapstructure:"database"`
	Capability CapabilityConfig   `mapstructure:"capability"`
	CORS       httpapi.CORSConfig `mapstructure:"cors"`
	Log        LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
	// ExternalURL is the origin clients reach the server at; filesystem
	// capability URLs are rooted here.
	ExternalURL   string `mapstructure:"external_url" validate:"required,url"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" validate:"min=0"`
}

// UploadConfig holds the transfer-policy knobs. Chunk size and threshold are
// configuration with validated lower bounds, not constants: stores reject
// non-final parts below their minimum.
type UploadConfig struct {
	// SmallObjectThreshold in bytes; payloads at or below it take the
	// single-shot path.
	SmallObjectThreshold int64 `mapstructure:"small_object_threshold" validate:"required,min=5242880"`
	// ChunkSize in bytes for multi-part transfers; must satisfy the store
	// minimum of 5 MiB.
	ChunkSize int64 `mapstructure:"chunk_size" validate:"required,min=5242880"`
	// CapabilityTTL in seconds.
	CapabilityTTL int `mapstructure:"capability_ttl" validate:"min=1"`
	// SessionMaxAge in seconds; older incomplete sessions are reaped.
	SessionMaxAge int `mapstructure:"session_max_age" validate:"min=1"`
	// ReapInterval in seconds between reaper sweeps.
	ReapInterval int `mapstructure:"reap_interval" validate:"min=1"`
}

// StorageConfig holds object store configuration.
type StorageConfig struct {
	// Backend selects the object store implementation.
	Backend string `mapstructure:"backend" validate:"required,oneof=fs s3"`
	// Path is the filesystem store root (fs backend).
	Path string `mapstructure:"path"`
	// Bucket, Region, and Endpoint configure the s3 backend. Endpoint is
	// optional and supports S3-compatible stores.
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// CapabilityConfig holds the HMAC secret behind filesystem capabilities.
type CapabilityConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"db-type":      "database.type",
	"db-dsn":       "database.dsn",
	"storage-path": "storage.path",
	"port":         "server.port",
	"external-url": "server.external_url",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5709)
	v.SetDefault("server.external_url", "http://localhost:5709")
	v.SetDefault("server.max_upload_size", 0) // 0 means package default

	v.SetDefault("upload.small_object_threshold", 25<<20)
	v.SetDefault("upload.chunk_size", 5<<20)
	v.SetDefault("upload.capability_ttl", 900)
	v.SetDefault("upload.session_max_age", 86400)
	v.SetDefault("upload.reap_interval", 600)

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "arkive.db")

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("ARKIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Upload.ChunkSize > cfg.Upload.SmallObjectThreshold {
		return nil, fmt.Errorf("validate config: chunk_size %d exceeds small_object_threshold %d", cfg.Upload.ChunkSize, cfg.Upload.SmallObjectThreshold)
	}
	if cfg.Storage.Backend == "fs" && cfg.Capability.Secret == "" {
		return nil, errors.New("validate config: capability.secret is required for the fs backend")
	}
	if cfg.Storage.Backend == "s3" && cfg.Storage.Bucket == "" {
		return nil, errors.New("validate config: storage.bucket is required for the s3 backend")
	}

	return &cfg, nil
}
