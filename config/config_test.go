package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeTempConfig(t, "stores.yaml", `
params:
  tenant: acme
stores:
  - root: "file:///srv/${tenant}/"
    properties:
      readonly: true
      maxRetryOnFailure: 3
      sleepTimeBeforeRetryOnFailure: 250
  - root: memory:/cache/
log:
  file: /var/log/storectl.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"tenant": "acme"}, cfg.Params)
	assert.Equal(t, []string{"file:///srv/${tenant}/", "memory:/cache/"}, cfg.Roots())
	assert.Equal(t, "/var/log/storectl.log", cfg.Log.File)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
	assert.Equal(t, 10, cfg.Log.MaxBackups)
	assert.True(t, cfg.Log.Compress)

	store, ok := cfg.Lookup("file:///srv/${tenant}/")
	require.True(t, ok)
	props := store.Configuration()
	assert.Equal(t, "3", props[interfaces.KeyMaxRetryOnFailure])
	assert.Equal(t, "250", props[interfaces.KeySleepBeforeRetry])

	opts, err := props.Options()
	require.NoError(t, err)
	assert.True(t, opts.ReadOnly)
	assert.Equal(t, 3, opts.MaxRetryOnFailure)

	_, ok = cfg.Lookup("memory:/other/")
	assert.False(t, ok)
}

func TestLoad_TOML(t *testing.T) {
	path := writeTempConfig(t, "stores.toml", `
[[stores]]
root = "s3://assets/"

[stores.properties]
region = "eu-west-1"
pathStyle = "true"
baseUri = "s3://fallback/"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Stores, 1)

	props := cfg.Stores[0].Configuration()
	assert.Equal(t, "eu-west-1", props["region"])
	assert.Equal(t, "true", props["pathStyle"])
	assert.Equal(t, "s3://fallback/", props[interfaces.KeyBaseURI])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		invalid bool
	}{
		{name: "missing root", file: "a.yaml", content: "stores:\n  - properties:\n      readonly: true\n", invalid: true},
		{name: "duplicate root", file: "b.yaml", content: "stores:\n  - root: memory:/a/\n  - root: memory:/a/\n", invalid: true},
		{name: "malformed", file: "c.yaml", content: "stores: [\n"},
		{name: "unsupported extension", file: "d.conf", content: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.file, tt.content))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
