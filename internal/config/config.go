package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 守护进程配置
type Config struct {
	StorePath       string         `yaml:"store_path"`        // 任务列表文件
	SocketPath      string         `yaml:"socket_path"`       // unix socket 路径
	PIDFile         string         `yaml:"pid_file"`          // 进程锁文件
	Tick            string         `yaml:"tick"`              // 调度检查间隔，例如 "1s"
	LogLines        int            `yaml:"log_lines"`         // 内存中保留的日志行数
	DefaultDestRoot string         `yaml:"default_dest_root"` // 未指定目标目录时的根目录
	Archiver        ArchiverConfig `yaml:"archiver"`
	History         HistoryConfig  `yaml:"history"`
	Logging         LoggingConfig  `yaml:"logging"`
}

// ArchiverConfig describes the external compression tool.
// Args may contain the {archive} and {source} placeholders.
type ArchiverConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// HistoryConfig controls the run history store.
// Driver values: "sqlite", "none".
type HistoryConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

const MinTick = time.Second

// Default 返回默认配置
func Default() *Config {
	base := baseDir()
	return &Config{
		StorePath:       filepath.Join(base, "AutoBackup.ini"),
		SocketPath:      "/tmp/watchman.sock",
		PIDFile:         "/tmp/watchman.pid",
		Tick:            "1s",
		LogLines:        1000,
		DefaultDestRoot: filepath.Join(homeDir(), "BackUp"),
		Archiver: ArchiverConfig{
			Command: "7z",
			Args:    []string{"a", "-tzip", "{archive}", "{source}"},
		},
		History: HistoryConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(base, "history.db"),
			BusyTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// DefaultPath returns the config file location, honoring WATCHMAN_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("WATCHMAN_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(baseDir(), "config.yaml")
}

// Load 从文件加载配置，文件不存在时使用默认值
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse reads path over the defaults without env overrides or validation.
func Parse(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save 保存配置到文件
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path is required")
	}
	if strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("socket_path is required")
	}
	if _, err := c.TickDuration(); err != nil {
		return err
	}
	if c.LogLines < 0 {
		return fmt.Errorf("log_lines must be >= 0")
	}
	if strings.TrimSpace(c.Archiver.Command) == "" {
		return fmt.Errorf("archiver.command is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.History.Driver)) {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.History.Path) == "" {
			return fmt.Errorf("history.path is required for driver %q", c.History.Driver)
		}
		if _, err := parseDuration("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown history driver: %s", c.History.Driver)
	}
	return nil
}

// TickDuration parses Tick. Values below one second are rejected because the
// cron scheduler cannot fire faster than that.
func (c *Config) TickDuration() (time.Duration, error) {
	d, err := parseDuration("tick", c.Tick)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return MinTick, nil
	}
	if d < MinTick {
		return 0, fmt.Errorf("tick: must be at least %s", MinTick)
	}
	return d, nil
}

// BusyTimeoutDuration parses BusyTimeout; zero means driver default.
func (h HistoryConfig) BusyTimeoutDuration() time.Duration {
	d, _ := parseDuration("history.busy_timeout", h.BusyTimeout)
	return d
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WATCHMAN_STORE"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("WATCHMAN_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "."
}

func baseDir() string {
	return filepath.Join(homeDir(), ".watchman")
}
