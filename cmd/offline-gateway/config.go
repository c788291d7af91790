package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	category "github.com/always-cache/offline-gateway/pkg/request-category"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var errNoOrigin = errors.New("please specify origin")

// Config is the gateway configuration as read from the config file.
type Config struct {
	Origin         string               `yaml:"origin"`
	OriginHost     string               `yaml:"originHost"`
	Port           int                  `yaml:"port"`
	DB             string               `yaml:"db"`
	Version        string               `yaml:"version"`
	Manifest       []string             `yaml:"manifest"`
	Classifier     *category.Classifier `yaml:"classifier"`
	SyncTag        string               `yaml:"syncTag"`
	SyncPathMarker string               `yaml:"syncPathMarker"`
	AppName        string               `yaml:"appName"`
	OtelEndpoint   string               `yaml:"otelEndpoint"`
}

// envConfig holds the environment overrides.
type envConfig struct {
	Origin         string   `env:"OFFLINE_GATEWAY_ORIGIN"`
	OriginHost     string   `env:"OFFLINE_GATEWAY_ORIGIN_HOST"`
	Port           int      `env:"OFFLINE_GATEWAY_PORT"`
	DB             string   `env:"OFFLINE_GATEWAY_DB"`
	Version        string   `env:"OFFLINE_GATEWAY_VERSION"`
	Manifest       []string `env:"OFFLINE_GATEWAY_MANIFEST"         envSeparator:","`
	SyncTag        string   `env:"OFFLINE_GATEWAY_SYNC_TAG"`
	SyncPathMarker string   `env:"OFFLINE_GATEWAY_SYNC_PATH_MARKER"`
	AppName        string   `env:"OFFLINE_GATEWAY_APP_NAME"`
	OtelEndpoint   string   `env:"OFFLINE_GATEWAY_OTEL_ENDPOINT"`
}

// defaultConfig is the base the config file is decoded onto,
// so classifier patterns missing from the file keep their defaults.
func defaultConfig() Config {
	classifier := category.NewClassifier()
	return Config{
		Port:       8080,
		DB:         "cache.db",
		Version:    "v1",
		Classifier: &classifier,
	}
}

// loadConfig reads the config file, if any, and applies environment overrides.
func loadConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}
	if config.Classifier != nil {
		if err := config.Classifier.Validate(); err != nil {
			return config, fmt.Errorf("classifier: %w", err)
		}
	}
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	config.applyEnv(raw)
	return config, nil
}

func (c *Config) applyEnv(raw envConfig) {
	setString(&c.Origin, raw.Origin)
	setString(&c.OriginHost, raw.OriginHost)
	setString(&c.DB, raw.DB)
	setString(&c.Version, raw.Version)
	setString(&c.SyncTag, raw.SyncTag)
	setString(&c.SyncPathMarker, raw.SyncPathMarker)
	setString(&c.AppName, raw.AppName)
	setString(&c.OtelEndpoint, raw.OtelEndpoint)
	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if len(raw.Manifest) > 0 {
		c.Manifest = raw.Manifest
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// originURL returns the origin to fetch from.
// A bare address is assumed to be an HTTPS origin.
func (c Config) originURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, errNoOrigin
	}
	originURL, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if originURL.Scheme == "" {
		originURL, err = url.Parse("https://" + c.Origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin: %w", err)
		}
	}
	return originURL, nil
}

// dbFilename maps the configured db to a file name for the SQLite cache.
func (c Config) dbFilename() string {
	if c.DB == "memory" {
		return ""
	}
	return c.DB
}
