package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pendo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  disabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.TurnTimeout)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Session.WindowSize)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PENDO_TEST_KEY", "sk-test-123")

	path := writeConfig(t, `
auth:
  disabled: true
llms:
  main:
    type: openai
    model: gpt-4o-mini
    api_key: ${PENDO_TEST_KEY}
    host: ${PENDO_UNSET_HOST:-https://api.openai.com}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, cfg.LLMs, "main")
	assert.Equal(t, "sk-test-123", cfg.LLMs["main"].APIKey)
	assert.Equal(t, "https://api.openai.com", cfg.LLMs["main"].Host)
	assert.Equal(t, "main", cfg.DefaultLLM, "single llm becomes the default")
}

func TestLoadRejectsUnknownProviderType(t *testing.T) {
	path := writeConfig(t, `
auth:
  disabled: true
llms:
  main:
    type: cohere
    model: command-r
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported type")
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, `
auth:
  disabled: true
store:
  driver: sqlite
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "store.dsn")
}

func TestLoadRequiresJWKSWhenAuthEnabled(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "jwks_url")
}

func TestDurationDecoding(t *testing.T) {
	path := writeConfig(t, `
auth:
  disabled: true
server:
  turn_timeout: 5s
cache:
  ttl: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Server.TurnTimeout)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
}
