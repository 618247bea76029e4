package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"arena/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultJudgeURL       = "http://127.0.0.1:8080/judge"
	DefaultDataURL        = "http://127.0.0.1:5005"
	DefaultAuthURL        = "http://127.0.0.1:8080/auth"
	DefaultProblemsURL    = "http://127.0.0.1:8080/problems"
	DefaultTokenStatePath = "configs/cli_state.json"
	DefaultLanguage       = "java"
)

// Environment overrides, also read from a .env file.
const (
	EnvJudgeURL       = "ARENA_JUDGE_URL"
	EnvDataURL        = "ARENA_DATA_URL"
	EnvAuthURL        = "ARENA_AUTH_URL"
	EnvProblemsURL    = "ARENA_PROBLEMS_URL"
	EnvTokenStatePath = "ARENA_TOKEN_STATE"
	EnvRedisAddr      = "ARENA_REDIS_ADDR"
)

// Services holds the base URL of each backend.
type Services struct {
	Judge    string `yaml:"judge"`
	Data     string `yaml:"data"`
	Auth     string `yaml:"auth"`
	Problems string `yaml:"problems"`
}

// Views configures the replicated view mirror.
type Views struct {
	RedisAddr string        `yaml:"redisAddr"`
	TTL       time.Duration `yaml:"ttl"`
}

// Config holds CLI configuration.
type Config struct {
	Services       Services      `yaml:"services"`
	Timeout        time.Duration `yaml:"timeout"` // zero leaves the transport defaults in charge
	TokenStatePath string        `yaml:"tokenStatePath"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`
	Language       string        `yaml:"language"`
	Log            logger.Config `yaml:"log"`
	Views          Views         `yaml:"views"`
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadEnv loads envFile (if present) into the process environment and applies
// ARENA_* overrides on top of cfg.
func LoadEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file failed: %w", err)
		}
	}
	override(&cfg.Services.Judge, EnvJudgeURL)
	override(&cfg.Services.Data, EnvDataURL)
	override(&cfg.Services.Auth, EnvAuthURL)
	override(&cfg.Services.Problems, EnvProblemsURL)
	override(&cfg.TokenStatePath, EnvTokenStatePath)
	override(&cfg.Views.RedisAddr, EnvRedisAddr)
	return nil
}

func override(dst *string, env string) {
	if value, ok := os.LookupEnv(env); ok && value != "" {
		*dst = value
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Services.Judge == "" {
		cfg.Services.Judge = DefaultJudgeURL
	}
	if cfg.Services.Data == "" {
		cfg.Services.Data = DefaultDataURL
	}
	if cfg.Services.Auth == "" {
		cfg.Services.Auth = DefaultAuthURL
	}
	if cfg.Services.Problems == "" {
		cfg.Services.Problems = DefaultProblemsURL
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
