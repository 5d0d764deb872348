package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/config"
)

func writeMinimalValidYAML(t *testing.T, path string) {
	t.Helper()

	content := `db:
  url: "postgres://localhost/quicklook"
s3_tile:
  endpoint: "localhost:9000"
  bucket: "quicklook"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig_MinimalFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "empty.yaml")
	writeMinimalValidYAML(t, cfgPath)

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultEnvironment, cfg.Environment)
	assert.Equal(t, config.DefaultCoordinatorBaseURL, cfg.Coordinator.BaseURL)
	assert.Equal(t, config.DefaultFrontendPort, cfg.Coordinator.FrontendPort)
	assert.Equal(t, config.DefaultHeartbeatInterval, cfg.Coordinator.HeartbeatInterval)
	assert.Equal(t, config.DefaultMaxRAMLimitStage, cfg.Job.MaxRAMLimitStage)
	assert.Equal(t, config.DefaultMaxDiskLimitStage, cfg.Job.MaxDiskLimitStage)
	assert.Equal(t, config.DefaultMaxTransferLimit, cfg.Job.MaxTransferLimitStage)
	assert.Equal(t, config.DefaultTileSize, cfg.Tile.Size)
	assert.Equal(t, config.DefaultTileMaxLevel, cfg.Tile.MaxLevel)
	assert.Equal(t, config.DefaultTilePack, cfg.Tile.Pack)
	assert.Equal(t, config.DefaultMaxStorageEntries, cfg.Storage.MaxEntries)
	assert.False(t, cfg.S3.Secure)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".quicklook.yaml")
	content := `environment: test
coordinator:
  base_url: "http://coord.internal:9501"
  frontend_port: 9600
  heartbeat_interval: 5
job:
  max_ram_limit_stage: 2
  max_disk_limit_stage: 4
  max_transfer_limit_stage: 2
  cleanup_delay_seconds: 15
tile:
  size: 512
  max_level: 10
  pack: 4
storage:
  max_entries: 50
  ttl_seconds: 3600
db:
  url: "postgres://db.internal/quicklook"
s3_tile:
  endpoint: "s3.internal:9000"
  access_key: "minioadmin"
  secret_key: "minioadmin"
  bucket: "quicklook-tiles"
  secure: true
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.EnvTest, cfg.Environment)
	assert.Equal(t, "http://coord.internal:9501", cfg.Coordinator.BaseURL)
	assert.Equal(t, 9600, cfg.Coordinator.FrontendPort)
	assert.Equal(t, 5, cfg.Coordinator.HeartbeatInterval)
	assert.Equal(t, 2, cfg.Job.MaxRAMLimitStage)
	assert.Equal(t, 4, cfg.Job.MaxDiskLimitStage)
	assert.Equal(t, 512, cfg.Tile.Size)
	assert.Equal(t, 10, cfg.Tile.MaxLevel)
	assert.Equal(t, 50, cfg.Storage.MaxEntries)
	assert.Equal(t, "postgres://db.internal/quicklook", cfg.DB.URL)
	assert.Equal(t, "s3.internal:9000", cfg.S3.Endpoint)
	assert.Equal(t, "quicklook-tiles", cfg.S3.Bucket)
	assert.True(t, cfg.S3.Secure)
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	content := `tile:
  size: [invalid yaml
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_MissingRequiredFields_ReturnsValidationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".quicklook.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(""), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadConfig_PartialConfig_MergesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".quicklook.yaml")
	content := `tile:
  max_level: 12
db:
  url: "postgres://localhost/quicklook"
s3_tile:
  endpoint: "localhost:9000"
  bucket: "quicklook"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Tile.MaxLevel)
	assert.Equal(t, config.DefaultTileSize, cfg.Tile.Size)
	assert.Equal(t, config.DefaultCoordinatorBaseURL, cfg.Coordinator.BaseURL)
}

func TestLoadConfig_EnvOverride_CoordinatorBaseURL(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "empty.yaml")
	writeMinimalValidYAML(t, cfgPath)

	t.Setenv("QUICKLOOK_COORDINATOR_BASE_URL", "http://coord-override:9501")

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "http://coord-override:9501", cfg.Coordinator.BaseURL)
}

func TestLoadConfig_EnvOverride_NestedKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "empty.yaml")
	writeMinimalValidYAML(t, cfgPath)

	t.Setenv("QUICKLOOK_TILE_MAX_LEVEL", "11")

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 11, cfg.Tile.MaxLevel)
}

func TestLoadConfig_ExplicitPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
}
