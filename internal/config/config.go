// Package config loads the runtime configuration from a yaml file with
// environment overrides on top. A missing file is not an error; the
// defaults describe a working single-node setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engines EnginesConfig `yaml:"engines"`
	Auth    AuthConfig    `yaml:"auth"`
	Limits  LimitsConfig  `yaml:"limits"`
}

type ServerConfig struct {
	Port                 int      `yaml:"port"`
	AllowedOrigins       []string `yaml:"allowed_origins"`
	HeartbeatSeconds     int      `yaml:"heartbeat_seconds"`
	AuthTimeoutSeconds   int      `yaml:"auth_timeout_seconds"`
	ShutdownGraceSeconds int      `yaml:"shutdown_grace_seconds"`
}

func (s ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

func (s ServerConfig) AuthTimeout() time.Duration {
	return time.Duration(s.AuthTimeoutSeconds) * time.Second
}

func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

type EnginesConfig struct {
	BinaryDir      string `yaml:"binary_dir"`
	SuggestionPool int    `yaml:"suggestion_pool"`
	AnalysisPool   int    `yaml:"analysis_pool"`
}

// AuthConfig selects the token verifier. Mode "redis" resolves tokens
// through the shared session store; mode "static" checks the bcrypt
// hashes listed under credentials.
type AuthConfig struct {
	Mode        string             `yaml:"mode"`
	RedisAddr   string             `yaml:"redis_addr"`
	TokenPrefix string             `yaml:"token_prefix"`
	Credentials []StaticCredential `yaml:"credentials"`
}

type StaticCredential struct {
	UserID    string `yaml:"user_id"`
	Email     string `yaml:"email"`
	TokenHash string `yaml:"token_hash"`
}

type LimitsConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 8080,
			HeartbeatSeconds:     30,
			AuthTimeoutSeconds:   10,
			ShutdownGraceSeconds: 15,
		},
		Engines: EnginesConfig{
			BinaryDir:      "./engines",
			SuggestionPool: 4,
			AnalysisPool:   2,
		},
		Auth: AuthConfig{
			Mode:        "static",
			RedisAddr:   "localhost:6379",
			TokenPrefix: "chessmate:token:",
		},
		Limits: LimitsConfig{
			RequestsPerMinute: 60,
			Burst:             120,
		},
	}
}

// Load reads the yaml file at path, then applies environment overrides.
// `.env` is loaded first when present so local runs need no exports.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: open %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// applyEnv layers CHESSMATE_* variables over the file values.
func applyEnv(cfg *Config) error {
	var err error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("config: %s: %v", key, convErr)
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("CHESSMATE_PORT", &cfg.Server.Port)
	setString("CHESSMATE_ENGINE_DIR", &cfg.Engines.BinaryDir)
	setInt("CHESSMATE_SUGGESTION_POOL", &cfg.Engines.SuggestionPool)
	setInt("CHESSMATE_ANALYSIS_POOL", &cfg.Engines.AnalysisPool)
	setString("CHESSMATE_AUTH_MODE", &cfg.Auth.Mode)
	setString("CHESSMATE_REDIS_ADDR", &cfg.Auth.RedisAddr)
	setInt("CHESSMATE_REQUESTS_PER_MINUTE", &cfg.Limits.RequestsPerMinute)
	return err
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Engines.SuggestionPool < 1 || c.Engines.AnalysisPool < 1 {
		return fmt.Errorf("config: pool sizes must be at least 1")
	}
	switch c.Auth.Mode {
	case "static", "redis":
	default:
		return fmt.Errorf("config: auth mode must be static or redis, got %q", c.Auth.Mode)
	}
	return nil
}
