package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "passthrough", cfg.Retrieval.Strategy)
	assert.Equal(t, 4, cfg.Retrieval.K)
	assert.Equal(t, 0.5, cfg.Retrieval.Threshold)
	assert.Equal(t, 20, cfg.Retrieval.MaxHistory)
	assert.False(t, cfg.Retrieval.ApplyThresholdAfterRewrite)
	assert.Equal(t, "ragline.db", cfg.Memory.Path)
	assert.Equal(t, "@hourly", cfg.Memory.CleanupSchedule)
	assert.Equal(t, "local", cfg.Memory.Embedder.Type)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	path := writeConfig(t, `
platforms:
  - name: openai
    configs:
      - api_key: ${TEST_OPENAI_KEY}
        max_retries: 3
        max_concurrency: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Platforms, 1)
	require.Len(t, cfg.Platforms[0].Configs, 1)
	cred := cfg.Platforms[0].Configs[0]
	assert.Equal(t, "sk-from-env", cred.APIKey)
	assert.Equal(t, 3, cred.MaxRetries)
	assert.Equal(t, 4, cred.MaxConcurrency)
}

func TestLoadOverridesRetrieval(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  strategy: rewrite
  k: 8
  threshold: 0.7
  apply_threshold_after_rewrite: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rewrite", cfg.Retrieval.Strategy)
	assert.Equal(t, 8, cfg.Retrieval.K)
	assert.Equal(t, 0.7, cfg.Retrieval.Threshold)
	assert.True(t, cfg.Retrieval.ApplyThresholdAfterRewrite)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unnamed platform", `
platforms:
  - configs: [{api_key: x}]
`},
		{"duplicate platform", `
platforms:
  - name: p
    configs: [{api_key: x}]
  - name: p
    configs: [{api_key: y}]
`},
		{"platform without configs", `
platforms:
  - name: p
`},
		{"unknown platform type", `
platforms:
  - name: p
    type: carrier-pigeon
    configs: [{api_key: x}]
`},
		{"unknown strategy", `
retrieval:
  strategy: clairvoyance
`},
		{"threshold out of range", `
retrieval:
  threshold: 1.5
`},
		{"non-positive k", `
retrieval:
  k: -1
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigLoad)
		})
	}
}
