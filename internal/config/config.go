package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaxFileSize is the upload limit when none is configured (10 MiB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Queue   QueueConfig   `mapstructure:"queue" yaml:"queue"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Profile is the capture profile that was applied, if any.
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`
}

type ServerConfig struct {
	Port        string        `mapstructure:"port" yaml:"port"`
	MaxFileSize int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
	UploadDir   string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	CORSOrigin  string        `mapstructure:"cors_origin" yaml:"cors_origin"`
	// RateLimit caps /api requests per client IP within RateWindow; 0 disables it.
	RateLimit  int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
}

type ClientConfig struct {
	ServerURL      string        `mapstructure:"server_url" yaml:"server_url"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

type CaptureConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`           // "ffmpeg", "silence", "auto"
	Source      string        `mapstructure:"source" yaml:"source"`             // ffmpeg input device
	InputFormat string        `mapstructure:"input_format" yaml:"input_format"` // ffmpeg -f value: pulse, alsa, avfoundation
	TimeLimit   time.Duration `mapstructure:"time_limit" yaml:"time_limit"`
	Extension   string        `mapstructure:"extension" yaml:"extension"` // "webm" or "wav"
}

type QueueConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "sqlite" or "file"
	Path    string `mapstructure:"path" yaml:"path"`
}

type SessionConfig struct {
	Runs int `mapstructure:"runs" yaml:"runs"`
}

// rootConfig is the on-disk layout: the base settings plus named capture
// profiles, one of which may be active.
type rootConfig struct {
	Config        `mapstructure:",squash"`
	ActiveProfile string                    `mapstructure:"active_profile"`
	Profiles      map[string]*CaptureConfig `mapstructure:"profiles"`
}

// DefaultPath returns $HOME/.config/voicecollect.yaml.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/voicecollect.yaml")
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("server.port", "3001")
	v.SetDefault("server.max_file_size", DefaultMaxFileSize)
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.rate_limit", 200)
	v.SetDefault("server.rate_window", "15m")

	v.SetDefault("client.server_url", "http://localhost:3001")
	v.SetDefault("client.timeout", "30s")
	v.SetDefault("client.health_timeout", "5s")
	v.SetDefault("client.health_interval", "60s")

	v.SetDefault("capture.backend", "auto")
	v.SetDefault("capture.source", "default")
	v.SetDefault("capture.input_format", "pulse")
	v.SetDefault("capture.time_limit", "5s")
	v.SetDefault("capture.extension", "webm")

	v.SetDefault("queue.backend", "sqlite")
	v.SetDefault("queue.path", filepath.Join(home, ".local", "share", "voicecollect"))

	v.SetDefault("session.runs", 3)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("VOICECOLLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare names honoured by the recordings server since its first release.
	bindings := map[string]string{
		"server.port":          "PORT",
		"server.max_file_size": "MAX_FILE_SIZE",
		"server.upload_dir":    "UPLOAD_DIR",
	}
	for key, legacy := range bindings {
		envKey := "VOICECOLLECT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configFile (optional when it does not exist and was not
// explicitly requested), applies environment overrides and the named
// capture profile, and validates the result.
func Load(configFile, profile string) (*Config, error) {
	return load(configFile, profile, false)
}

// LoadExplicit is Load for a file the user named on the command line; a
// missing file is an error.
func LoadExplicit(configFile, profile string) (*Config, error) {
	return load(configFile, profile, true)
}

func load(configFile, profile string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		_, statErr := os.Stat(configFile)
		switch {
		case statErr == nil:
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		case errors.Is(statErr, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("config file %s: %w", configFile, statErr)
		}
	}

	var root rootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	cfg := root.Config
	name := profile
	if name == "" {
		name = root.ActiveProfile
	}
	if name != "" {
		p, ok := root.Profiles[name]
		if !ok {
			return nil, fmt.Errorf("capture profile '%s' not found", name)
		}
		cfg.Capture = mergeCapture(cfg.Capture, p)
		cfg.Profile = name
	}

	cfg.Server.UploadDir = expandPath(cfg.Server.UploadDir)
	cfg.Queue.Path = expandPath(cfg.Queue.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// mergeCapture overlays the non-zero fields of p on base.
func mergeCapture(base CaptureConfig, p *CaptureConfig) CaptureConfig {
	if p == nil {
		return base
	}
	if p.Backend != "" {
		base.Backend = p.Backend
	}
	if p.Source != "" {
		base.Source = p.Source
	}
	if p.InputFormat != "" {
		base.InputFormat = p.InputFormat
	}
	if p.TimeLimit > 0 {
		base.TimeLimit = p.TimeLimit
	}
	if p.Extension != "" {
		base.Extension = p.Extension
	}
	return base
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be a number between 1 and 65535, got: %q", c.Server.Port)
	}
	if c.Server.MaxFileSize <= 0 {
		return fmt.Errorf("server.max_file_size must be positive, got: %d", c.Server.MaxFileSize)
	}
	if c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got: %d", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server.rate_window must be positive when rate_limit is set, got: %s", c.Server.RateWindow)
	}

	if c.Client.ServerURL == "" {
		return errors.New("client.server_url is required")
	}
	if c.Client.Timeout <= 0 || c.Client.HealthTimeout <= 0 {
		return errors.New("client timeouts must be positive")
	}

	switch strings.ToLower(c.Capture.Backend) {
	case "ffmpeg", "silence", "auto", "":
	default:
		return fmt.Errorf("capture.backend must be 'ffmpeg', 'silence' or 'auto', got: %s", c.Capture.Backend)
	}
	switch c.Capture.Extension {
	case "webm", "wav":
	default:
		return fmt.Errorf("capture.extension must be 'webm' or 'wav', got: %s", c.Capture.Extension)
	}
	if c.Capture.TimeLimit <= 0 {
		return fmt.Errorf("capture.time_limit must be positive, got: %s", c.Capture.TimeLimit)
	}

	switch c.Queue.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("queue.backend must be 'sqlite' or 'file', got: %s", c.Queue.Backend)
	}
	if c.Queue.Path == "" {
		return errors.New("queue.path is required")
	}

	if c.Session.Runs < 1 {
		return fmt.Errorf("session.runs must be at least 1, got: %d", c.Session.Runs)
	}
	return nil
}

// SetActiveProfile rewrites active_profile in configFile.
func SetActiveProfile(configFile, name string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if name != "" && !v.IsSet("profiles."+name) {
		return fmt.Errorf("capture profile '%s' not found", name)
	}
	v.Set("active_profile", name)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
