package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileRoot(dir string) string {
	return "file://" + filepath.ToSlash(dir) + "/"
}

func TestFileBackend_StoreAndGet(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "UTF-8", testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	uri := fileRoot(dir) + "nested/dir/config.json"
	modified := time.Date(2023, 5, 17, 8, 30, 0, 0, time.UTC)
	err = backend.Store(ctx, uri, interfaces.NewResourceFromBytes(uri, []byte(`{"a":1}`),
		interfaces.WithLastModified(modified)))
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(dir, "nested", "dir", "config.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(onDisk))

	res, err := backend.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "application/json", res.MimeType)
	assert.Equal(t, int64(7), res.Length)
	assert.Equal(t, "UTF-8", res.Charset)
	assert.True(t, modified.Equal(res.LastModified))
	text, err := res.Text()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "nested", "dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileBackend_NotFound(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "", testLogger())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	tests := []struct {
		name string
		uri  string
	}{
		{name: "missing file", uri: fileRoot(dir) + "missing.txt"},
		{name: "directory", uri: fileRoot(dir) + "sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := backend.Get(context.Background(), tt.uri)
			assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)
		})
	}

	// Removing missing files and directories is a no-op.
	assert.NoError(t, backend.Remove(context.Background(), fileRoot(dir)+"missing.txt"))
	assert.NoError(t, backend.Remove(context.Background(), fileRoot(dir)+"sub"))
	_, err = os.Stat(filepath.Join(dir, "sub"))
	assert.NoError(t, err)
}

func TestFileBackend_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "", testLogger())
	require.NoError(t, err)
	uri := fileRoot(dir) + "shared.txt"

	payloads := []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc", "dddddddddd"}
	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, backend.Store(context.Background(), uri, interfaces.NewResourceFromBytes(uri, []byte(p))))
		}(p)
	}
	wg.Wait()

	// The last write wins; content is never interleaved.
	data, err := os.ReadFile(filepath.Join(dir, "shared.txt"))
	require.NoError(t, err)
	assert.Contains(t, payloads, string(data))
}

func TestFileBackend_StaysUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	backend, err := NewFileBackend(root, "", testLogger())
	require.NoError(t, err)
	outside := filepath.Join(dir, "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("OUTSIDE"), 0o600))
	ctx := context.Background()

	uris := []string{
		fileRoot(root) + "../outside.txt",
		fileRoot(root) + "%2e%2e/outside.txt",
		fileRoot(root) + "sub/../../outside.txt",
		fileRoot(dir) + "outside.txt",
		"file:///etc/hosts",
	}
	for _, uri := range uris {
		t.Run(uri, func(t *testing.T) {
			_, err := backend.Get(ctx, uri)
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
			err = backend.Store(ctx, uri, interfaces.NewResourceFromBytes(uri, []byte("x")))
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
			assert.ErrorIs(t, backend.Remove(ctx, uri), interfaces.ErrInvalidArgument)
		})
	}

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "OUTSIDE", string(data))

	p, err := NewProvider(ProviderOptions{Log: testLogger(), Schemes: NewSchemeMatcher()})
	require.NoError(t, err)
	defer p.Close()
	s, err := p.Provides(ctx, fileRoot(root), nil)
	require.NoError(t, err)

	_, err = s.Get(ctx, "../outside.txt")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, s.Remove(ctx, "../outside.txt"), interfaces.ErrInvalidArgument)
	_, err = s.Get(ctx, fileRoot(dir)+"outside.txt")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	require.NoError(t, s.Store(ctx, "notes:2024.txt", interfaces.NewResourceFromBytes("notes:2024.txt", []byte("kept"))))
	res, err := s.Get(ctx, "notes:2024.txt")
	require.NoError(t, err)
	text, err := res.Text()
	require.NoError(t, err)
	assert.Equal(t, "kept", text)
	_, err = os.Stat(filepath.Join(root, "notes:2024.txt"))
	assert.NoError(t, err)
}

func TestFilePathOf(t *testing.T) {
	tests := []struct {
		uri         string
		expected    string
		expectError bool
	}{
		{uri: "file:///var/data/a.txt", expected: filepath.FromSlash("/var/data/a.txt")},
		{uri: "file://localhost/var/data/a.txt", expected: filepath.FromSlash("/var/data/a.txt")},
		{uri: "file:///var/my%20data/a.txt", expected: filepath.FromSlash("/var/my data/a.txt")},
		{uri: "file://remote/var/a.txt", expectError: true},
		{uri: "file://", expectError: true},
		{uri: "/no/scheme", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := filePathOf(tt.uri)
			if tt.expectError {
				assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFileStore_ThroughProvider(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(ProviderOptions{Log: testLogger(), Schemes: NewSchemeMatcher()})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	s, err := p.Provides(ctx, fileRoot(dir), interfaces.Configuration{interfaces.KeyCharset: "ISO-8859-1"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.FileType, s.Type())
	assert.False(t, s.ReadOnly())

	require.NoError(t, s.Store(ctx, "notes/readme.txt", interfaces.NewResourceFromBytes("readme.txt", []byte{'c', 'a', 'f', 0xe9})))
	res, err := s.Get(ctx, "notes/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", res.MimeType)
	text, err := res.Text()
	require.NoError(t, err)
	assert.Equal(t, "café", text)

	require.NoError(t, s.Move(ctx, "notes/readme.txt", "archive/readme.txt"))
	_, err = os.Stat(filepath.Join(dir, "notes", "readme.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "archive", "readme.txt"))
	assert.NoError(t, err)

	_, err = s.Get(ctx, "https://example.com/readme.txt")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
