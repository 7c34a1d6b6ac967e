package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration_Options(t *testing.T) {
	cfg := Configuration{
		"readonly":                      "true",
		"maxRetryOnFailure":             "3",
		"sleepTimeBeforeRetryOnFailure": "250",
		"charset":                       "ISO-8859-1",
		"cacheManagerRef":               "shared",
		"useCaches":                     "false",
		"proxySet":                      "1",
		"proxyHost":                     "proxy.local",
		"proxyPort":                     "3128",
		"unknownKey":                    "ignored",
	}

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.True(t, opts.ReadOnly)
	assert.Equal(t, 3, opts.MaxRetryOnFailure)
	assert.Equal(t, 250, opts.SleepTimeBeforeRetryOnFailure)
	assert.Equal(t, "ISO-8859-1", opts.Charset)
	assert.Equal(t, "shared", opts.CacheManagerRef)
	assert.False(t, opts.UseCaches)
	assert.True(t, opts.ProxySet)
	assert.Equal(t, "proxy.local", opts.ProxyHost)
	assert.Equal(t, 3128, opts.ProxyPort)
	assert.Equal(t, DefaultBufferSize, opts.BufferSize)
	assert.Equal(t, DefaultClassloaderKey, opts.Classloader)
}

func TestConfiguration_Defaults(t *testing.T) {
	opts, err := Configuration(nil).Options()
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
}

func TestConfiguration_InvalidValue(t *testing.T) {
	_, err := Configuration{"maxRetryOnFailure": "many"}.Options()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConfiguration_CloneAndGet(t *testing.T) {
	cfg := Configuration{"a": "1", "blank": "  "}
	clone := cfg.Clone()
	clone["a"] = "2"
	assert.Equal(t, "1", cfg["a"])
	assert.Equal(t, "1", cfg.Get("a", "x"))
	assert.Equal(t, "x", cfg.Get("blank", "x"))
	assert.Equal(t, "x", cfg.Get("missing", "x"))
	assert.NotNil(t, Configuration(nil).Clone())
}

func TestSchemeOf(t *testing.T) {
	tests := []struct {
		uri    string
		scheme string
		ok     bool
	}{
		{"file:/data/", "file", true},
		{"FILE:/data/", "file", true},
		{"s3://bucket/key", "s3", true},
		{"svn+ssh://host/repo", "svn+ssh", true},
		{"relative/path", "", false},
		{":nope", "", false},
		{"1abc:/x", "", false},
		{"bad scheme:/x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, ok := SchemeOf(tt.uri)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.scheme, scheme)
		})
	}
	assert.True(t, MemoryType.IsBuiltin())
	assert.False(t, StoreType("s3").IsBuiltin())
}
