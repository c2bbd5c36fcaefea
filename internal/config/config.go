package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/emuctl/internal/env"
	"github.com/loykin/emuctl/internal/health"
	"github.com/loykin/emuctl/internal/logger"
	"github.com/loykin/emuctl/internal/process"
)

// DefaultWorkDir is where binaries, PID files, logs and generated configs live.
const DefaultWorkDir = "/tmp/choria-emulator"

// EnvPrefix namespaces environment overrides, e.g. EMUCTL_WORK_DIR.
const EnvPrefix = "EMUCTL"

// Config represents the top-level TOML structure.
type Config struct {
	WorkDir   string                     `mapstructure:"work_dir"`
	Identity  string                     `mapstructure:"identity"`
	Env       []string                   `mapstructure:"env"`
	EnvFiles  []string                   `mapstructure:"env_files"`
	Poll      health.Policy              `mapstructure:"poll"`
	Stop      StopConfig                 `mapstructure:"stop"`
	Health    HealthConfig               `mapstructure:"health"`
	Download  DownloadConfig             `mapstructure:"download"`
	Log       logger.Config              `mapstructure:"log"`
	History   HistoryConfig              `mapstructure:"history"`
	Server    ServerConfig               `mapstructure:"server"`
	Processes map[string]ProcessOverride `mapstructure:"processes"`
}

type StopConfig struct {
	Signal   string        `mapstructure:"signal"`
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type DownloadConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig serves the status server over HTTPS. Explicit cert/key files win
// over Dir, where tls.crt and tls.key are looked up (and created when
// AutoGenerate is set).
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"` // "1.2" or "1.3"
}

// ProcessOverride replaces parts of a kind's built-in description.
type ProcessOverride struct {
	Binary    string `mapstructure:"binary"`
	HealthURL string `mapstructure:"health_url"`
}

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()
	v.SetDefault("work_dir", DefaultWorkDir)
	v.SetDefault("identity", host)
	v.SetDefault("poll.attempts", 10)
	v.SetDefault("poll.interval", "200ms")
	v.SetDefault("poll.exponential", false)
	v.SetDefault("poll.max_interval", "2s")
	v.SetDefault("stop.signal", "TERM")
	v.SetDefault("stop.attempts", 10)
	v.SetDefault("stop.interval", "100ms")
	v.SetDefault("health.timeout", "2s")
	v.SetDefault("download.timeout", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "127.0.0.1:9281")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
}

// Load reads the optional TOML file at path, applies EMUCTL_* environment
// overrides on top and validates the result. An empty path yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		// defaults are static; only a broken EMUCTL_* variable gets here
		return &Config{WorkDir: DefaultWorkDir, Poll: health.DefaultPolicy()}
	}
	return c
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work_dir must not be empty")
	}
	if !filepath.IsAbs(c.WorkDir) {
		abs, err := filepath.Abs(c.WorkDir)
		if err != nil {
			return fmt.Errorf("work_dir: %w", err)
		}
		c.WorkDir = abs
	}
	if c.Poll.Attempts < 1 {
		return fmt.Errorf("poll.attempts must be at least 1")
	}
	if c.Stop.Attempts < 1 {
		return fmt.Errorf("stop.attempts must be at least 1")
	}
	if _, err := process.ParseSignal(c.Stop.Signal); err != nil {
		return fmt.Errorf("stop.signal: %w", err)
	}
	for name := range c.Processes {
		if _, err := process.ParseKind(name); err != nil {
			return fmt.Errorf("processes: %w", err)
		}
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		return fmt.Errorf("server.tls needs cert_file and key_file or dir")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	return nil
}

// StopPolicy bounds each wait for a signalled process to go away.
func (c *Config) StopPolicy() health.Policy {
	return health.Policy{Attempts: c.Stop.Attempts, Interval: c.Stop.Interval}
}

// Override returns the override for kind, accepting kind aliases as keys.
func (c *Config) Override(kind process.Kind) ProcessOverride {
	for name, o := range c.Processes {
		if k, err := process.ParseKind(name); err == nil && k == kind {
			return o
		}
	}
	return ProcessOverride{}
}

// ProcessEnv layers env_files (in order) and then the env list into the
// extra environment handed to every managed process. Later keys win and
// ${VAR} references between them are expanded.
func (c *Config) ProcessEnv() ([]string, error) {
	layers := make([][]string, 0, len(c.EnvFiles)+1)
	for _, p := range c.EnvFiles {
		kvs, err := env.ParseFile(p)
		if err != nil {
			return nil, err
		}
		layers = append(layers, kvs)
	}
	layers = append(layers, c.Env)
	return env.Merge(nil, layers...), nil
}
