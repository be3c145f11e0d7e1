package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Models ModelsConfig `mapstructure:"models"`
	Limits LimitsConfig `mapstructure:"limits"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
}

// ServerConfig configures the HTTP listener. The gateway is local-only,
// so the host must resolve to a loopback address.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxConnections int    `mapstructure:"max_connections"`
	Mode           string `mapstructure:"mode"` // release, debug
}

// EngineConfig configures the llama-server subprocess.
type EngineConfig struct {
	Binary    string `mapstructure:"binary"`
	Port      int    `mapstructure:"port"`
	Threads   int    `mapstructure:"threads"`
	GPULayers int    `mapstructure:"gpu_layers"`
}

// ModelsConfig locates model weights and the registry file.
type ModelsConfig struct {
	Directory    string `mapstructure:"directory"`
	RegistryFile string `mapstructure:"registry_file"`
	DefaultModel string `mapstructure:"default_model"`
}

// LimitsConfig holds the rate limiter knobs.
type LimitsConfig struct {
	PerIPPerMinute     int           `mapstructure:"per_ip_per_minute"`
	MaxConcurrentPerIP int           `mapstructure:"max_concurrent_per_ip"`
	GlobalPerMinute    int           `mapstructure:"global_per_minute"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig configures structured logging and file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StoreConfig configures the usage ledger.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // sqlite, postgres
	DSN     string `mapstructure:"dsn"`
}

// Load reads configuration in layers: defaults, then the global
// ~/.chatsafe config file, then a config file in the working directory,
// then CHATSAFE_* environment variables. A non-empty path skips the
// file search and reads that file only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(HomeDir())
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read global config: %w", err)
			}
		}

		for _, local := range []string{"config.yaml", "config.json", "chatsafe.yaml", "chatsafe.json"} {
			if _, err := os.Stat(local); err == nil {
				v2 := viper.New()
				v2.SetConfigFile(local)
				if err := v2.ReadInConfig(); err == nil {
					_ = v.MergeConfigMap(v2.AllSettings())
				}
				break
			}
		}
	}

	v.SetEnvPrefix("CHATSAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyPathDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPathDefaults fills path fields where the empty string means
// "derive from the ChatSafe home directory".
func (c *Config) applyPathDefaults() {
	if c.Models.Directory == "" {
		c.Models.Directory = filepath.Join(HomeDir(), "models")
	}
	if c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(HomeDir(), "chatsafe.db")
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures. The loopback check is a hard guarantee: the gateway
// never binds a routable interface.
func (c *Config) Validate() error {
	if !isLoopbackHost(c.Server.Host) {
		return fmt.Errorf("server.host %q is not a loopback address", c.Server.Host)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.Port < 1 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port %d out of range", c.Engine.Port)
	}
	if c.Server.Port == c.Engine.Port {
		return fmt.Errorf("server.port and engine.port both set to %d", c.Server.Port)
	}
	if c.Server.Mode != "release" && c.Server.Mode != "debug" {
		return fmt.Errorf("server.mode %q must be release or debug", c.Server.Mode)
	}
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine.binary must not be empty")
	}
	if c.Limits.PerIPPerMinute < 1 {
		return fmt.Errorf("limits.per_ip_per_minute must be positive")
	}
	if c.Limits.MaxConcurrentPerIP < 1 {
		return fmt.Errorf("limits.max_concurrent_per_ip must be positive")
	}
	if c.Limits.GlobalPerMinute < 1 {
		return fmt.Errorf("limits.global_per_minute must be positive")
	}
	if c.Store.Enabled && c.Store.Type != "sqlite" && c.Store.Type != "postgres" {
		return fmt.Errorf("store.type %q must be sqlite or postgres", c.Store.Type)
	}
	return nil
}

// RegistryPath resolves the registry file, defaulting to registry.json
// inside the models directory.
func (c *Config) RegistryPath() string {
	if c.Models.RegistryFile != "" {
		return c.Models.RegistryFile
	}
	return filepath.Join(c.Models.Directory, "registry.json")
}

// ServerAddr returns the host:port the HTTP server binds.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Host, fmt.Sprintf("%d", c.Server.Port))
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.mode", "release")

	v.SetDefault("engine.binary", "llama-server")
	v.SetDefault("engine.port", 8080)
	v.SetDefault("engine.threads", 4)
	v.SetDefault("engine.gpu_layers", 0)

	v.SetDefault("models.directory", "")
	v.SetDefault("models.registry_file", "")
	v.SetDefault("models.default_model", "")

	v.SetDefault("limits.per_ip_per_minute", 60)
	v.SetDefault("limits.max_concurrent_per_ip", 5)
	v.SetDefault("limits.global_per_minute", 600)
	v.SetDefault("limits.cleanup_interval", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "")
}
