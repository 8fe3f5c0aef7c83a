package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeshift:
  window: 60s
mp3:
  kbps: 256
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Timeshift.Window)
	assert.Equal(t, 256, cfg.MP3.KBPS)

	// Everything else falls back to the default.
	def := Default()
	assert.Equal(t, def.Timeshift.MaxCatchupLag, cfg.Timeshift.MaxCatchupLag)
	assert.Equal(t, def.SAM, cfg.SAM)
	assert.Equal(t, def.WebRTC, cfg.WebRTC)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultChunkSamplesMatchesSpecFrameSize(t *testing.T) {
	assert.Equal(t, 1152, Default().SIP.ChunkSamples)
}
