package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/rankvisor/internal/env"
	"github.com/loykin/rankvisor/internal/logger"
	"github.com/spf13/viper"
)

// RequiredEnv lists the environment variables the supervisor insists on before
// it will launch the worker.
var RequiredEnv = []string{
	"DISCORD_TOKEN",
	"APPLICATION_ID",
	"ROBLOX_COOKIE",
	"ROBLOX_GROUP_ID",
	"DATABASE_URL",
}

// Defaults for the supervisor loop.
const (
	DefaultRestartDelay      = 10 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Minute
	DefaultShutdownGrace     = 10 * time.Second
	DefaultDrainTimeout      = 2 * time.Second
	DefaultSampleInterval    = 15 * time.Second
)

// Config is the top-level TOML structure. Secrets normally arrive through the
// environment; the file only carries tuning.
type Config struct {
	EnvFiles   []string         `mapstructure:"env_files"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	History    HistoryConfig    `mapstructure:"history"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Roblox     RobloxConfig     `mapstructure:"roblox"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

type SupervisorConfig struct {
	// Command is the worker command line. Empty means "<self> worker".
	Command           []string      `mapstructure:"command"`
	WorkDir           string        `mapstructure:"workdir"`
	Env               []string      `mapstructure:"env"`
	RequiredEnv       []string      `mapstructure:"required_env"`
	SyncCommands      bool          `mapstructure:"sync_commands"`
	RestartDelay      time.Duration `mapstructure:"restart_delay"`
	RestartMaxDelay   time.Duration `mapstructure:"restart_max_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

type MetricsConfig struct {
	Listen         string        `mapstructure:"listen"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

type DiscordConfig struct {
	Token         string `mapstructure:"token"`
	ApplicationID string `mapstructure:"application_id"`
	GuildID       string `mapstructure:"guild_id"`
}

type RobloxConfig struct {
	Cookie    string        `mapstructure:"cookie"`
	GroupID   string        `mapstructure:"group_id"`
	UsersURL  string        `mapstructure:"users_url"`
	GroupsURL string        `mapstructure:"groups_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads the optional TOML file at path, applies env_files to the process
// environment and binds the well known environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if files := v.GetStringSlice("env_files"); len(files) > 0 {
		if _, err := env.ApplyFiles(files...); err != nil {
			return nil, fmt.Errorf("load env_files: %w", err)
		}
	}
	binds := map[string]string{
		"discord.token":          "DISCORD_TOKEN",
		"discord.application_id": "APPLICATION_ID",
		"discord.guild_id":       "DISCORD_GUILD_ID",
		"roblox.cookie":          "ROBLOX_COOKIE",
		"roblox.group_id":        "ROBLOX_GROUP_ID",
		"database.url":           "DATABASE_URL",
	}
	for key, name := range binds {
		if err := v.BindEnv(key, name); err != nil {
			return nil, err
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.required_env", RequiredEnv)
	v.SetDefault("supervisor.sync_commands", true)
	v.SetDefault("supervisor.restart_delay", DefaultRestartDelay)
	v.SetDefault("supervisor.poll_interval", DefaultPollInterval)
	v.SetDefault("supervisor.heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("supervisor.shutdown_grace", DefaultShutdownGrace)
	v.SetDefault("supervisor.drain_timeout", DefaultDrainTimeout)
	v.SetDefault("metrics.sample_interval", DefaultSampleInterval)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("roblox.users_url", "https://users.roblox.com")
	v.SetDefault("roblox.groups_url", "https://groups.roblox.com")
	v.SetDefault("roblox.timeout", 10*time.Second)
}

// Validate rejects values the supervisor loop cannot run with.
func (c *Config) Validate() error {
	s := c.Supervisor
	if s.RestartDelay <= 0 {
		return errors.New("supervisor.restart_delay must be positive")
	}
	if s.RestartMaxDelay != 0 && s.RestartMaxDelay < s.RestartDelay {
		return fmt.Errorf("supervisor.restart_max_delay (%s) must not be below restart_delay (%s)", s.RestartMaxDelay, s.RestartDelay)
	}
	if s.PollInterval <= 0 {
		return errors.New("supervisor.poll_interval must be positive")
	}
	if s.HeartbeatInterval <= 0 {
		return errors.New("supervisor.heartbeat_interval must be positive")
	}
	if s.ShutdownGrace < 0 || s.DrainTimeout < 0 {
		return errors.New("supervisor.shutdown_grace and drain_timeout must not be negative")
	}
	return nil
}

// CheckEnvironment reports whether every required name has a non-empty value.
// It logs one line per name: info when found, error when missing.
func CheckEnvironment(required []string, lookup func(string) (string, bool), log *slog.Logger) bool {
	log.Info("checking environment variables")
	ok := true
	for _, name := range required {
		if v, found := lookup(name); !found || v == "" {
			log.Error("missing required environment variable", "name", name)
			ok = false
			continue
		}
		log.Info("[OK] found environment variable", "name", name)
	}
	return ok
}
