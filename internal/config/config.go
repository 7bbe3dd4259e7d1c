// Package config handles configuration loading and management for chatcore.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planboard/chatcore/internal/appdir"
	"github.com/planboard/chatcore/internal/logging"
)

// PathEnv overrides the configuration file location.
const PathEnv = "CHATCORE_CONFIG"

// TokenEnv supplies the API token without touching the config file.
const TokenEnv = "CHATCORE_TOKEN"

// Transport modes accepted in transport.mode.
const (
	TransportAuto   = "auto"
	TransportDirect = "direct"
	TransportBridge = "bridge"
)

// ServerConfig describes the collaborator backend.
type ServerConfig struct {
	// BaseURL is the HTTP origin of the backend (default: http://localhost:8080)
	BaseURL string
	// APIPrefix is prepended to every REST and WebSocket path (default: /api)
	APIPrefix string
	// Token is an optional bearer token. CHATCORE_TOKEN and the keychain
	// are consulted when it is empty.
	Token string
}

// TransportConfig selects the socket backend.
type TransportConfig struct {
	// Mode is one of auto, direct, bridge (default: auto)
	Mode string
}

// ReconnectConfig is the exponential backoff policy of every channel.
type ReconnectConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// HistoryConfig controls history pagination.
type HistoryConfig struct {
	// PageSize is the number of messages per page (default: 50)
	PageSize int
}

// ApprovalsConfig locates the remembered approvals file.
type ApprovalsConfig struct {
	// File defaults to <appdir>/approvals.json when empty.
	File string
}

// LogConfig mirrors the logging flags of the CLI.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Config represents the complete chatcore configuration.
type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Reconnect ReconnectConfig
	History   HistoryConfig
	Approvals ApprovalsConfig
	Log       LogConfig
}

// rawConfig is used for YAML unmarshaling; durations stay strings until
// Parse converts them.
type rawConfig struct {
	Server struct {
		BaseURL   string `yaml:"base_url"`
		APIPrefix string `yaml:"api_prefix"`
		Token     string `yaml:"token"`
	} `yaml:"server"`
	Transport struct {
		Mode string `yaml:"mode"`
	} `yaml:"transport"`
	Reconnect struct {
		MinDelay    string `yaml:"min_delay"`
		MaxDelay    string `yaml:"max_delay"`
		MaxAttempts *int   `yaml:"max_attempts"`
	} `yaml:"reconnect"`
	History struct {
		PageSize int `yaml:"page_size"`
	} `yaml:"history"`
	Approvals struct {
		File string `yaml:"file"`
	} `yaml:"approvals"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   "http://localhost:8080",
			APIPrefix: "/api",
		},
		Transport: TransportConfig{Mode: TransportAuto},
		Reconnect: ReconnectConfig{
			MinDelay:    time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 10,
		},
		History: HistoryConfig{PageSize: 50},
		Log:     LogConfig{Level: "info"},
	}
}

// Source indicates where the configuration was loaded from.
type Source int

const (
	// SourceDefaults indicates no file was found and defaults are in use.
	SourceDefaults Source = iota
	// SourceFlag indicates the file came from --config.
	SourceFlag
	// SourceEnv indicates the file came from CHATCORE_CONFIG.
	SourceEnv
	// SourceAppDir indicates the file came from <appdir>/config.yaml.
	SourceAppDir
)

func (s Source) String() string {
	switch s {
	case SourceFlag:
		return "flag"
	case SourceEnv:
		return "env"
	case SourceAppDir:
		return "appdir"
	}
	return "defaults"
}

// LoadResult contains the loaded configuration and metadata about its source.
type LoadResult struct {
	Config *Config
	Source Source
	// Path is empty when Source is SourceDefaults.
	Path string
}

// ResolvePath returns the config file to read and where that choice came
// from. An explicit flag value always wins, then CHATCORE_CONFIG, then the
// app directory.
func ResolvePath(flagPath string) (string, Source) {
	if flagPath != "" {
		return flagPath, SourceFlag
	}
	if env := os.Getenv(PathEnv); env != "" {
		return env, SourceEnv
	}
	path, err := appdir.ConfigPath()
	if err != nil {
		return "", SourceDefaults
	}
	return path, SourceAppDir
}

// LoadFrom resolves and loads the configuration. A missing app directory
// file is not an error; a missing explicit file is.
func LoadFrom(flagPath string) (*LoadResult, error) {
	path, source := ResolvePath(flagPath)
	if source == SourceDefaults {
		return &LoadResult{Config: Default(), Source: SourceDefaults}, nil
	}

	cfg, err := Load(path)
	if err != nil {
		if source == SourceAppDir && errors.Is(err, os.ErrNotExist) {
			logging.CLI().Debug("no config file, using defaults", "path", path)
			return &LoadResult{Config: Default(), Source: SourceDefaults}, nil
		}
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: source, Path: path}, nil
}

// Load reads and parses the configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	if raw.Server.BaseURL != "" {
		cfg.Server.BaseURL = raw.Server.BaseURL
	}
	if raw.Server.APIPrefix != "" {
		cfg.Server.APIPrefix = raw.Server.APIPrefix
	}
	cfg.Server.Token = raw.Server.Token

	if raw.Transport.Mode != "" {
		cfg.Transport.Mode = raw.Transport.Mode
	}

	var err error
	if raw.Reconnect.MinDelay != "" {
		if cfg.Reconnect.MinDelay, err = time.ParseDuration(raw.Reconnect.MinDelay); err != nil {
			return nil, fmt.Errorf("invalid reconnect.min_delay %q: %w", raw.Reconnect.MinDelay, err)
		}
	}
	if raw.Reconnect.MaxDelay != "" {
		if cfg.Reconnect.MaxDelay, err = time.ParseDuration(raw.Reconnect.MaxDelay); err != nil {
			return nil, fmt.Errorf("invalid reconnect.max_delay %q: %w", raw.Reconnect.MaxDelay, err)
		}
	}
	if raw.Reconnect.MaxAttempts != nil {
		cfg.Reconnect.MaxAttempts = *raw.Reconnect.MaxAttempts
	}

	if raw.History.PageSize != 0 {
		cfg.History.PageSize = raw.History.PageSize
	}
	cfg.Approvals.File = raw.Approvals.File
	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	cfg.Log.File = raw.Log.File
	cfg.Log.JSON = raw.Log.JSON

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL)
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.api_prefix must start with '/', got %q", c.Server.APIPrefix)
	}
	switch c.Transport.Mode {
	case TransportAuto, TransportDirect, TransportBridge:
	default:
		return fmt.Errorf("transport.mode must be auto, direct or bridge, got %q", c.Transport.Mode)
	}
	if c.Reconnect.MinDelay <= 0 {
		return fmt.Errorf("reconnect.min_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.MinDelay {
		return fmt.Errorf("reconnect.max_delay (%s) is below min_delay (%s)", c.Reconnect.MaxDelay, c.Reconnect.MinDelay)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("history.page_size must be positive, got %d", c.History.PageSize)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ApprovalsPath returns the configured approvals file or the app directory default.
func (c *Config) ApprovalsPath() (string, error) {
	if c.Approvals.File != "" {
		return c.Approvals.File, nil
	}
	return appdir.ApprovalsPath()
}

// Marshal renders the configuration back to YAML, as printed by `chatcore config`.
// The token is masked.
func (c *Config) Marshal() ([]byte, error) {
	var raw rawConfig
	raw.Server.BaseURL = c.Server.BaseURL
	raw.Server.APIPrefix = c.Server.APIPrefix
	if c.Server.Token != "" {
		raw.Server.Token = "********"
	}
	raw.Transport.Mode = c.Transport.Mode
	raw.Reconnect.MinDelay = c.Reconnect.MinDelay.String()
	raw.Reconnect.MaxDelay = c.Reconnect.MaxDelay.String()
	attempts := c.Reconnect.MaxAttempts
	raw.Reconnect.MaxAttempts = &attempts
	raw.History.PageSize = c.History.PageSize
	raw.Approvals.File = c.Approvals.File
	raw.Log.Level = c.Log.Level
	raw.Log.File = c.Log.File
	raw.Log.JSON = c.Log.JSON
	return yaml.Marshal(&raw)
}
