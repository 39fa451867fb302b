// Package config loads httpx-fetch settings from defaults, a YAML file and
// environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dqx0.com/go/httpmux/httpx"
	"dqx0.com/go/httpmux/internal/obs"
)

// Config is the full configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client" env:"CLIENT"`
	Log     obs.LogConfig `yaml:"log" env:"LOG"`
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ClientConfig holds client defaults.
type ClientConfig struct {
	Timeout            time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	MaxHostConnections int               `yaml:"max_host_connections" env:"MAX_HOST_CONNECTIONS"`
	MaxPendingPushes   int               `yaml:"max_pending_pushes" env:"MAX_PENDING_PUSHES"`
	Buffer             bool              `yaml:"buffer" env:"BUFFER"`
	Retries            int               `yaml:"retries" env:"RETRIES"`
	Headers            map[string]string `yaml:"headers" env:"-"`
	Conn               httpx.ConnOptions `yaml:"conn" env:"CONN"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:            httpx.DefaultTimeout,
			MaxHostConnections: httpx.DefaultMaxHostConnections,
			MaxPendingPushes:   httpx.DefaultMaxPendingPushes,
			Buffer:             true,
			Retries:            1,
		},
		Log: obs.LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Namespace: "httpx",
		},
	}
}

// Apply copies the client settings onto c.
func (cc ClientConfig) Apply(c *httpx.Client) {
	c.Timeout = cc.Timeout
	c.MaxHostConnections = cc.MaxHostConnections
	c.MaxPendingPushes = cc.MaxPendingPushes
	c.Conn = cc.Conn
	if cc.Buffer {
		c.Buffer = httpx.BufferAlways()
	} else {
		c.Buffer = httpx.BufferNever()
	}
}

// Validate rejects settings the client cannot use.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Client.Timeout < 0 {
		errs = append(errs, errors.New("client.timeout must not be negative"))
	}
	if cfg.Client.MaxHostConnections <= 0 {
		errs = append(errs, errors.New("client.max_host_connections must be positive"))
	}
	if cfg.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, console", cfg.Log.Format))
	}
	return errors.Join(errs...)
}

// Loader builds a Config.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "HTTPX",
		validators: []func(*Config) error{Validate},
	}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load applies defaults, then the file, then the environment, and runs
// the validators. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}
		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
