package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.FastModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.AdvancedModel)
	assert.Equal(t, 4096, cfg.LLM.MaxOutputTokens)
	assert.Equal(t, 1024, cfg.LLM.ChatMaxOutputTokens)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, "paperlens-storage", cfg.Storage.Namespace)
	assert.Equal(t, int64(50*1024*1024), cfg.Upload.MaxFileSize())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PAPERLENS_LLM_PROVIDER", "ollama")
	t.Setenv("PAPERLENS_STORAGE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("PAPERLENS_LLM_PROVIDER", "carrier-pigeon")

	_, err := Load()
	assert.ErrorContains(t, err, "unsupported llm provider")
}
