package config

// Backend types
const (
	BackendOpenAI    = "openai"
	BackendLangChain = "langchain"
)

// Environment variables
const (
	EnvConfigPath = "CONFIG_PATH"
	EnvAPIKey     = "LLM_API_KEY"
	// EnvOpenAIKey is honoured when LLM_API_KEY is unset.
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvModel     = "LLM_MODEL"
	EnvEndpoint  = "LLM_ENDPOINT"
	EnvBackend   = "LLM_BACKEND"
	EnvPreamble  = "CHAT_PREAMBLE"
)

// DefaultEndpoint is the OpenAI API base URL.
const DefaultEndpoint = "https://api.openai.com/v1"
