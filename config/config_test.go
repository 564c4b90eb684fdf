package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.ETL.StagingBatchSize)
	require.Equal(t, "append", cfg.ETL.SnapshotPolicy)
	require.Equal(t, int64(50*1024*1024), cfg.ETL.MaxFileSize())
	require.Equal(t, 1000, cfg.Query.DefaultLimit)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
etl:
  snapshot_policy: replace
  staging_batch_size: 250
query:
  statement_timeout: 5s
`), 0o644))

	t.Setenv("ETL_STAGING_BATCH_SIZE", "500")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "replace", cfg.ETL.SnapshotPolicy)
	require.Equal(t, 500, cfg.ETL.StagingBatchSize)
	require.Equal(t, 5*time.Second, cfg.Query.StatementTimeout)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("ETL_SNAPSHOT_POLICY", "upsert")

	_, err := Load("")
	require.ErrorContains(t, err, "snapshot policy")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
