package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  api_key: secret
database:
  host: db.local
  name: vidtrack
  user: u
  password: p
core:
  batch_size: 10
  video_root: /videos
detection:
  url: http://det:8003
  model_name: herring
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 10, cfg.Core.BatchSize)
	assert.Equal(t, "/videos", cfg.Core.VideoRoot)
	assert.Equal(t, "herring", cfg.Detection.ModelName)
	assert.Equal(t, "postgres://u:p@db.local:5432/vidtrack?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Core.BatchSize)
	assert.Equal(t, 640, cfg.Core.OutputWidth)
	assert.Equal(t, 360, cfg.Core.OutputHeight)
	assert.Equal(t, time.Second, cfg.Core.PollTimeout)
	assert.Equal(t, 256, cfg.Core.QueueSize)
	assert.Equal(t, "fishy", cfg.Detection.ModelName)
	assert.Equal(t, "http://127.0.0.1:8003", cfg.Detection.URL)
	assert.Equal(t, "http://127.0.0.1:8001", cfg.Tracking.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VT_SERVER_PORT", "7001")
	t.Setenv("VT_BATCH_SIZE", "25")
	t.Setenv("VT_DETECTION_URL", "http://env-det:9000")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Core.BatchSize)
	assert.Equal(t, "http://env-det:9000", cfg.Detection.URL)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Core.BatchSize)
}
