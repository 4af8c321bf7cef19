package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 4, cfg.Scanner.ConcurrentProbes)
	assert.Equal(t, 2, cfg.Transcode.HLSSegmentDuration)
	assert.Equal(t, "auto", cfg.Transcode.HWAccel)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferrite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
scanner:
  concurrent_probes: 8
transcode:
  hw_accel: vaapi
`), 0o644))

	t.Setenv("FERRITE_PORT", "7070")
	t.Setenv("FERRITE_METADATA_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file beats default.
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Scanner.ConcurrentProbes)
	assert.Equal(t, "vaapi", cfg.Transcode.HWAccel)
	assert.Equal(t, "secret", cfg.Metadata.APIKey)
	// Untouched values keep defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejections(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Database.Type = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transcode.HWAccel = "metal"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transcode.HLSSegmentMimeMode = "weird"
	assert.Error(t, cfg.Validate())
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.Database.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "ferrite.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data", "cache", "transcode", "hls"), cfg.HLSDir())
	assert.Equal(t, filepath.Join("/data", "cache", "images"), cfg.ImageCacheDir())
	assert.Equal(t, filepath.Join("/data", "cache", "subtitles"), cfg.SubtitleCacheDir())
}
