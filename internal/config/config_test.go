package config_test

import (
	"os"
	"testing"
	"time"

	"NexusChat/internal/config"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here
	for _, k := range []string{"NEXUS_BACKEND", "NEXUS_MODEL", "NEXUS_UI", "NEXUS_LISTEN_ADDR", "NEXUS_HTTP_TIMEOUT"} {
		unsetenv(t, k)
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.BackendOpenAI, cfg.Backend)
	require.Equal(t, config.UIWeb, cfg.UI)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	require.Equal(t, "gpt-4o", cfg.ModelOrDefault())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NEXUS_BACKEND", "anthropic")
	t.Setenv("NEXUS_MODEL", "claude-test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.BackendAnthropic, cfg.Backend)
	require.Equal(t, "claude-test", cfg.ModelOrDefault())
	require.Equal(t, "sk-test", cfg.APIKey())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := config.Config{Backend: config.BackendOpenAI, UI: config.UIWeb, OpenAIAPIKey: "k"}
	require.NoError(t, base.Validate())

	unknown := base
	unknown.Backend = "gemini"
	require.ErrorContains(t, unknown.Validate(), "unknown backend")

	noKey := base
	noKey.OpenAIAPIKey = ""
	require.ErrorContains(t, noKey.Validate(), "no API key")

	badUI := base
	badUI.UI = "gtk"
	require.ErrorContains(t, badUI.Validate(), "unknown ui")

	badURL := base
	badURL.OllamaURL = "localhost 11434"
	require.ErrorContains(t, badURL.Validate(), "invalid configuration")

	negative := base
	negative.HTTPTimeout = -time.Second
	require.ErrorContains(t, negative.Validate(), "invalid configuration")

	ollama := config.Config{Backend: config.BackendOllama, UI: config.UITerminal, OllamaURL: "http://localhost:11434"}
	require.NoError(t, ollama.Validate())
}

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}
