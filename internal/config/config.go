package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable for one invocation. It is built once in the
// command layer and passed down explicitly; nothing below reads viper or the
// environment after Load returns.
type Config struct {
	StateDir   string `mapstructure:"state_dir"`
	BackupRoot string `mapstructure:"backup_root"`
	DBPath     string `mapstructure:"db_path"`
	DaemonPort int    `mapstructure:"daemon_port"`

	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	IdleThreshold  time.Duration `mapstructure:"idle_threshold"`

	LockAbandonAfter time.Duration `mapstructure:"lock_abandon_after"`
	ForceGrace       time.Duration `mapstructure:"force_grace"`

	HeartbeatStaleAfter time.Duration `mapstructure:"heartbeat_stale_after"`
	WatchdogInterval    time.Duration `mapstructure:"watchdog_interval"`
	FailureCeiling      int           `mapstructure:"failure_ceiling"`

	IgnoreList  []string `mapstructure:"ignore_list"`
	PipelineCmd []string `mapstructure:"pipeline_cmd"`

	ServicePrefix string `mapstructure:"service_prefix"`
	BufferSize    int    `mapstructure:"buffer_size"`
}

var Default = Config{
	DaemonPort:          9210,
	DebounceWindow:      2 * time.Minute,
	MinInterval:         time.Hour,
	IdleThreshold:       4 * time.Hour,
	LockAbandonAfter:    6 * time.Hour,
	ForceGrace:          5 * time.Second,
	HeartbeatStaleAfter: 2 * time.Hour,
	WatchdogInterval:    5 * time.Minute,
	FailureCeiling:      3,
	IgnoreList:          []string{".git", "node_modules", ".DS_Store", "*.tmp", "*.swp"},
	PipelineCmd:         []string{"packrat-backup"},
	ServicePrefix:       "packrat-",
	BufferSize:          100,
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}

	configDir := filepath.Join(home, ".packrat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("state_dir", filepath.Join(configDir, "state"))
	viper.SetDefault("backup_root", filepath.Join(home, "Backups"))
	viper.SetDefault("db_path", filepath.Join(configDir, "packrat.db"))
	viper.SetDefault("daemon_port", Default.DaemonPort)
	viper.SetDefault("debounce_window", Default.DebounceWindow)
	viper.SetDefault("min_interval", Default.MinInterval)
	viper.SetDefault("idle_threshold", Default.IdleThreshold)
	viper.SetDefault("lock_abandon_after", Default.LockAbandonAfter)
	viper.SetDefault("force_grace", Default.ForceGrace)
	viper.SetDefault("heartbeat_stale_after", Default.HeartbeatStaleAfter)
	viper.SetDefault("watchdog_interval", Default.WatchdogInterval)
	viper.SetDefault("failure_ceiling", Default.FailureCeiling)
	viper.SetDefault("ignore_list", Default.IgnoreList)
	viper.SetDefault("pipeline_cmd", Default.PipelineCmd)
	viper.SetDefault("service_prefix", Default.ServicePrefix)
	viper.SetDefault("buffer_size", Default.BufferSize)

	viper.SetEnvPrefix("PACKRAT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if ok := errors.As(err, &notFound); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	return &cfg, nil
}
