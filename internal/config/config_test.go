package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 16, cfg.Session.MaxToolRounds)
	assert.Equal(t, 5, cfg.Retrieval.SchemaK)
	assert.Equal(t, 3, cfg.Retrieval.ObservationK)
}

func TestLoadFilePartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyst.yaml")
	content := `
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  timeout: 90s
warehouse:
  path: /data/warehouse.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, "/data/warehouse.db", cfg.Warehouse.Path)

	// Unset fields keep defaults.
	assert.Equal(t, 16, cfg.Session.MaxToolRounds)
	assert.NotEmpty(t, cfg.Memory.Path)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyst.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANALYST_LLM_PROVIDER", "anthropic")
	t.Setenv("ANALYST_LLM_API_KEY", "sk-test")
	t.Setenv("ANALYST_WAREHOUSE_PATH", "/env/warehouse.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "/env/warehouse.db", cfg.Warehouse.Path)
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 2*time.Minute, cfg.GetLLMTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetQueryTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetSandboxTimeout())

	cfg.Sandbox.Timeout = "not a duration"
	assert.Equal(t, 30*time.Second, cfg.GetSandboxTimeout(), "junk input falls back")
}
