package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaultsAndFile(t *testing.T) {
	chdir(t, t.TempDir())
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("sample_size: 250\nlog_format: json\n"), 0o644))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 250, c.SampleSize)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, "openrouter", c.DefaultProvider)
	assert.Equal(t, "127.0.0.1:8080", c.ServerAddr)
	assert.Equal(t, "first", c.HistogramColumn)
	require.NoError(t, c.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("log_level: warn\n"), 0o644))
	t.Setenv("CLEANLOOM_LOG_LEVEL", "debug")
	t.Setenv("CLEANLOOM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "sk-fallback")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "sk-fallback", c.APIKey)
}

func TestDotEnvLoaded(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLEANLOOM_SERVER_ADDR=0.0.0.0:9999\n"), 0o644))
	t.Setenv("CLEANLOOM_SERVER_ADDR", "")
	os.Unsetenv("CLEANLOOM_SERVER_ADDR")

	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", c.ServerAddr)
}

func TestSetAndSave(t *testing.T) {
	c := &Global{}
	require.NoError(t, c.Set("sample_size", "42"))
	require.NoError(t, c.Set("temperature", "0.5"))
	require.NoError(t, c.Set("seq_url", "http://localhost:5341"))
	assert.Equal(t, 42, c.SampleSize)
	assert.Equal(t, 0.5, c.Temperature)
	assert.Equal(t, "http://localhost:5341", c.SeqURL)

	assert.Error(t, c.Set("sample_size", "many"))
	assert.ErrorContains(t, c.Set("nope", "1"), "unknown config key")

	p := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, Save(c, p))
	back, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 42, back.SampleSize)
}

func TestValidate(t *testing.T) {
	c := &Global{LogFormat: "xml", HistogramColumn: "median", Temperature: 3}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "histogram_column")
	assert.Contains(t, err.Error(), "temperature")
}

func TestRedacted(t *testing.T) {
	c := Global{APIKey: "sk-or-1234567890"}
	assert.Equal(t, "sk-o********7890", c.Redacted().APIKey)
	assert.Equal(t, "sk-or-1234567890", c.APIKey)
}
