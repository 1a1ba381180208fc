package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgrefine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, `
project:
  root: ./svc
analysis:
  application_only: true
  prune_depth: 3
  refine:
    policy: manual
    include: ^example\.com/
neo4j:
  uri: bolt://graph:7687
snapshot:
  db: /tmp/snaps
metrics:
  addr: :9102
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./svc", cfg.Project.Root)
	assert.True(t, cfg.Analysis.ApplicationOnly)
	assert.Equal(t, 3, cfg.Analysis.PruneDepth)
	assert.Equal(t, "manual", cfg.Analysis.Refine.Policy)
	assert.Equal(t, `^example\.com/`, cfg.Analysis.Refine.Include)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
	assert.Equal(t, "/tmp/snaps", cfg.Snapshot.DB)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeFile(t, "neo4j:\n  uri: bolt://file:7687\n  password: fromfile\n")
	t.Setenv("CGREFINE_NEO4J_URI", "bolt://env:7687")
	t.Setenv("CGREFINE_NEO4J_USER", "admin")
	t.Setenv("CGREFINE_NEO4J_PASS", "secret")
	t.Setenv("CGREFINE_REFINE_POLICY", "arrays")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt://env:7687", cfg.Neo4j.URI)
	assert.Equal(t, "admin", cfg.Neo4j.User)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.Equal(t, "arrays", cfg.Analysis.Refine.Policy)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "analysis: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown policy", func(c *Config) { c.Analysis.Refine.Policy = "greedy" }, "unknown refine policy"},
		{"negative depth", func(c *Config) { c.Analysis.PruneDepth = -1 }, "prune_depth"},
		{"bad include", func(c *Config) { c.Analysis.Refine.Include = "(" }, "invalid refine pattern"},
		{"bad exclude", func(c *Config) { c.Analysis.Refine.Exclude = "[" }, "invalid refine pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
