package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chat-relay/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points CONFIG_PATH at a missing file and pins the LLM variables
// so tests do not pick up the developer's environment.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigPath, filepath.Join(dir, "missing.yaml"))
	t.Setenv(EnvAPIKey, "test-key")
	for _, key := range []string{EnvModel, EnvEndpoint, EnvBackend, EnvPreamble, "PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultMaxBodySize, cfg.Server.MaxBodySize)
	assert.Equal(t, BackendOpenAI, cfg.LLM.Backend)
	assert.Equal(t, llm.DefaultModel, cfg.LLM.Model)
	assert.Equal(t, DefaultEndpoint, cfg.LLM.Endpoint)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.LLM.PingOnStart)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	require.NotNil(t, cfg.Chat.Sampling.MaxTokens)
	assert.Equal(t, DefaultMaxTokens, *cfg.Chat.Sampling.MaxTokens)
	assert.Nil(t, cfg.Chat.Sampling.Temperature)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_OpenAIKeyFallback(t *testing.T) {
	isolateEnv(t)
	os.Unsetenv(EnvAPIKey)
	t.Setenv(EnvOpenAIKey, "sk-fallback")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := isolateEnv(t)

	preamblePath := filepath.Join(dir, "preamble.txt")
	require.NoError(t, os.WriteFile(preamblePath, []byte("  You are a helpful course assistant.\n"), 0o600))

	yamlContent := `
log:
  level: DEBUG
server:
  port: 1234
llm:
  backend: langchain
  model: custom-model
  timeout: 30s
  max_concurrency: 4
chat:
  preamble_file: ` + preamblePath + `
  sampling:
    max_tokens: 256
    temperature: 0.7
    top_p: 0.9
`
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o600))
	t.Setenv(EnvConfigPath, configPath)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, BackendLangChain, cfg.LLM.Backend)
	assert.Equal(t, "custom-model", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, int64(4), cfg.LLM.MaxConcurrency)
	assert.Equal(t, "You are a helpful course assistant.", cfg.Chat.Preamble)
	assert.Equal(t, int64(256), *cfg.Chat.Sampling.MaxTokens)
	assert.InDelta(t, 0.7, *cfg.Chat.Sampling.Temperature, 1e-9)
	assert.InDelta(t, 0.9, *cfg.Chat.Sampling.TopP, 1e-9)
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	dir := isolateEnv(t)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: from-yaml\n  api_key: yaml-key\n"), 0o600))
	t.Setenv(EnvConfigPath, configPath)
	t.Setenv(EnvModel, "from-env")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := isolateEnv(t)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unterminated"), 0o600))
	t.Setenv(EnvConfigPath, configPath)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Server.Port = 8080
		cfg.LLM.Backend = BackendOpenAI
		cfg.LLM.Model = "gpt-4o"
		cfg.LLM.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Valid", func(*Config) {}, ""},
		{"MissingKey", func(c *Config) { c.LLM.APIKey = "" }, EnvAPIKey + " is required"},
		{"MissingModel", func(c *Config) { c.LLM.Model = "" }, "llm model is required"},
		{"UnknownBackend", func(c *Config) { c.LLM.Backend = "bedrock" }, "unknown llm backend"},
		{"BadPort", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"NegativeTimeout", func(c *Config) { c.LLM.Timeout = -time.Second }, "invalid llm timeout"},
		{"BadSampling", func(c *Config) { c.Chat.Sampling.TopP = llm.Float(1.5) }, "chat sampling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
