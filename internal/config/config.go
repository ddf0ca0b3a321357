package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

const (
	UIWeb      = "web"
	UITerminal = "terminal"
)

// Backends lists every supported backend name.
var Backends = []string{BackendOpenAI, BackendGrok, BackendAnthropic, BackendOllama}

// DefaultModels maps a backend to the model used when none is configured.
var DefaultModels = map[string]string{
	BackendOpenAI:    "gpt-4o",
	BackendGrok:      "grok-2-latest",
	BackendAnthropic: "claude-sonnet-4-20250514",
	BackendOllama:    "llama3:latest",
}

// Config holds application configuration
type Config struct {
	Backend string `env:"NEXUS_BACKEND,default=openai"`
	Model   string `env:"NEXUS_MODEL"`
	UI      string `env:"NEXUS_UI,default=web"`
	Debug   bool   `env:"NEXUS_DEBUG"`
	Color   bool   `env:"NEXUS_COLOR,default=true"` // terminal UI only

	ListenAddr   string        `env:"NEXUS_LISTEN_ADDR,default=:8080"`
	LogDir       string        `env:"NEXUS_LOG_DIR,default=logs"`
	TranscriptDB string        `env:"NEXUS_TRANSCRIPT_DB"` // empty disables the archive
	HTTPTimeout  time.Duration `env:"NEXUS_HTTP_TIMEOUT,default=60s" validate:"gte=0"`

	// Backend credentials and endpoints
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	GrokAPIKey      string `env:"GROK_API_KEY"`
	GrokBaseURL     string `env:"GROK_BASE_URL,default=https://api.x.ai/v1" validate:"omitempty,url"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicURL    string `env:"ANTHROPIC_BASE_URL" validate:"omitempty,url"`
	OllamaURL       string `env:"OLLAMA_URL,default=http://localhost:11434" validate:"omitempty,url"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// ModelOrDefault returns the configured model or the backend default.
func (c Config) ModelOrDefault() string {
	if c.Model != "" {
		return c.Model
	}
	return DefaultModels[c.Backend]
}

// APIKey returns the credential for the configured backend.
func (c Config) APIKey() string {
	switch c.Backend {
	case BackendOpenAI:
		return c.OpenAIAPIKey
	case BackendGrok:
		return c.GrokAPIKey
	case BackendAnthropic:
		return c.AnthropicAPIKey
	}
	return ""
}

// Validate checks the backend name, UI mode, required credentials and the
// shape of the endpoint URLs.
func (c Config) Validate() error {
	if !IsBackend(c.Backend) {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.UI != UIWeb && c.UI != UITerminal {
		return fmt.Errorf("unknown ui: %s (web|terminal)", c.UI)
	}
	if c.Backend != BackendOllama && c.APIKey() == "" {
		return fmt.Errorf("no API key configured for %s backend", c.Backend)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsBackend reports whether name is a supported backend.
func IsBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}
