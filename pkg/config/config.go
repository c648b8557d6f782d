// Copyright © 2018 One Concern

// Package config loads the settings of the datacache command line tool.
//
// Settings are read, by order of precedence, from command line flags,
// DATACACHE_* environment variables, and a datacache.yaml config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/oneconcern/datacache/pkg/dlogger"
)

// Supported storage backends
const (
	BackendS3      = "s3"
	BackendGCS     = "gcs"
	BackendLocalFS = "localfs"
)

// Configuration keys, as they appear in the config file and as flag names.
const (
	KeyTempRoot       = "temp-root"
	KeyStorageClass   = "storage-class"
	KeyBackend        = "backend"
	KeyRegion         = "region"
	KeyEndpoint       = "endpoint"
	KeyLocalRoot      = "local-root"
	KeyCredential     = "credential"
	KeyMaxStagingSize = "max-staging-size"
	KeyConcurrency    = "concurrency"
	KeyLogLevel       = "log-level"
)

const (
	envPrefix      = "DATACACHE"
	envConfigFile  = "DATACACHE_CONFIG"
	configFileName = "datacache"
)

// Config describes the settings of the cache and its storage backend.
//
// Field names follow the serialized names: viper unmarshals with mapstructure tags.
type Config struct {
	TempRoot       string `json:"temp-root" yaml:"temp-root" mapstructure:"temp-root"`
	StorageClass   string `json:"storage-class" yaml:"storage-class" mapstructure:"storage-class"`
	Backend        string `json:"backend" yaml:"backend" mapstructure:"backend"`
	Region         string `json:"region" yaml:"region" mapstructure:"region"`
	Endpoint       string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	LocalRoot      string `json:"local-root" yaml:"local-root" mapstructure:"local-root"`
	Credential     string `json:"credential" yaml:"credential" mapstructure:"credential"` // credentials file for GCS
	MaxStagingSize string `json:"max-staging-size" yaml:"max-staging-size" mapstructure:"max-staging-size"`
	Concurrency    int    `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	LogLevel       string `json:"log-level" yaml:"log-level" mapstructure:"log-level"`
}

// New viper instance, with defaults, environment and config file search paths set up
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyBackend, BackendS3)
	v.SetDefault(KeyStorageClass, "STANDARD")
	v.SetDefault(KeyLocalRoot, ".")
	v.SetDefault(KeyLogLevel, dlogger.LogLevelInfo)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// explicit bindings let Unmarshal pick environment values for keys without defaults
	for _, key := range []string{
		KeyTempRoot, KeyStorageClass, KeyBackend, KeyRegion, KeyEndpoint,
		KeyLocalRoot, KeyCredential, KeyMaxStagingSize, KeyConcurrency, KeyLogLevel,
	} {
		_ = v.BindEnv(key)
	}

	if file := os.Getenv(envConfigFile); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.datacache")
		v.AddConfigPath("/etc/datacache")
		v.SetConfigName(configFileName)
	}
	return v
}

// RegisterFlags declares the configuration flags on a flag set
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyTempRoot, "", "Directory under which staging areas are created (defaults to the system temp dir)")
	flags.String(KeyStorageClass, "STANDARD", "Storage class of uploaded objects")
	flags.String(KeyBackend, BackendS3, "Remote storage backend: s3, gcs or localfs")
	flags.String(KeyRegion, "", "AWS region, for the s3 backend")
	flags.String(KeyEndpoint, "", "Custom S3 endpoint, e.g. for minio")
	flags.String(KeyLocalRoot, ".", "Root directory of buckets, for the localfs backend")
	flags.String(KeyCredential, "", "Credentials file, for the gcs backend")
	flags.String(KeyMaxStagingSize, "", "Cap on the staging budget, e.g. 512MiB (defaults to the free disk space)")
	flags.Int(KeyConcurrency, 0, "Max number of parallel uploads or deletions (defaults to 2 x #cpus)")
	flags.String(KeyLogLevel, dlogger.LogLevelInfo, "Log level: none, debug, info, warn or error")
}

// Load the configuration. Flags, if not nil, take precedence over other sources.
//
// A missing config file is not an error.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendS3, BackendGCS, BackendLocalFS:
	default:
		return fmt.Errorf("unsupported backend %q: expected one of %s, %s, %s", c.Backend, BackendS3, BackendGCS, BackendLocalFS)
	}

	if _, err := c.MaxStagingBytes(); err != nil {
		return err
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", c.Concurrency)
	}

	switch c.LogLevel {
	case dlogger.LogLevelNone, dlogger.LogLevelDebug, dlogger.LogLevelInfo, dlogger.LogLevelWarn, dlogger.LogLevelError:
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// MaxStagingBytes parses the human-readable cap on the staging budget. It is 0 when unset.
func (c *Config) MaxStagingBytes() (int64, error) {
	if c.MaxStagingSize == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(c.MaxStagingSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max staging size %q: %w", c.MaxStagingSize, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid max staging size %q: must be positive", c.MaxStagingSize)
	}
	return size, nil
}
