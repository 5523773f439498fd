package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/llm"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMaxBodySize int64 = 1 * 1024 * 1024 // 1MB
	DefaultConfigPath        = "config.yaml"
	DefaultMaxTokens   int64 = 1000
)

// LLMConfig holds the provider connection settings
type LLMConfig struct {
	Backend        string        `yaml:"backend"` // openai, langchain (default: openai)
	Model          string        `yaml:"model"`
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`         // From YAML or Env
	Timeout        time.Duration `yaml:"timeout"`         // Per-call deadline, 0 disables
	MaxConcurrency int64         `yaml:"max_concurrency"` // In-flight calls per client, 0 means unlimited
	PingOnStart    bool          `yaml:"ping_on_start"`
}

// ChatConfig holds the preamble and sampling applied by the preamble path
type ChatConfig struct {
	Preamble     string              `yaml:"preamble"`
	PreambleFile string              `yaml:"preamble_file"` // Read at load time, wins over Preamble
	Sampling     llm.SamplingOptions `yaml:"sampling"`
}

// Config holds the configuration for the chat relay
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"` // 0 for long-lived streams
		MaxBodySize  int64         `yaml:"max_body_size"`
	} `yaml:"server"`

	LLM LLMConfig `yaml:"llm"`

	Chat ChatConfig `yaml:"chat"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize

	cfg.LLM.Backend = BackendOpenAI
	cfg.LLM.Endpoint = DefaultEndpoint
	cfg.LLM.Model = llm.DefaultModel
	cfg.LLM.Timeout = 120 * time.Second
	cfg.LLM.PingOnStart = true

	cfg.Chat.Sampling.MaxTokens = llm.Int64(DefaultMaxTokens)

	configPath := getEnv(EnvConfigPath, DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", configPath, err)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Secrets and deployment knobs always come from the environment when set
	cfg.LLM.APIKey = getEnv(EnvAPIKey, getEnv(EnvOpenAIKey, cfg.LLM.APIKey))
	cfg.LLM.Model = getEnv(EnvModel, cfg.LLM.Model)
	cfg.LLM.Endpoint = getEnv(EnvEndpoint, cfg.LLM.Endpoint)
	cfg.LLM.Backend = getEnv(EnvBackend, cfg.LLM.Backend)
	cfg.Chat.Preamble = getEnv(EnvPreamble, cfg.Chat.Preamble)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}

	if cfg.Chat.PreambleFile != "" {
		preamble, err := os.ReadFile(cfg.Chat.PreambleFile)
		if err != nil {
			return nil, fmt.Errorf("read preamble file: %w", err)
		}
		cfg.Chat.Preamble = strings.TrimSpace(string(preamble))
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, EnvAPIKey+" is required")
	}

	if c.LLM.Model == "" {
		errs = append(errs, "llm model is required")
	}

	switch c.LLM.Backend {
	case BackendOpenAI, BackendLangChain:
	default:
		errs = append(errs, fmt.Sprintf("unknown llm backend: %q", c.LLM.Backend))
	}

	if c.LLM.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("invalid llm timeout: %v", c.LLM.Timeout))
	}

	if c.LLM.MaxConcurrency < 0 {
		errs = append(errs, fmt.Sprintf("invalid llm max_concurrency: %d", c.LLM.MaxConcurrency))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	if err := c.Chat.Sampling.Validate(); err != nil {
		errs = append(errs, "chat sampling: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
