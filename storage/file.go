package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// FileBackend implements a backend over the local file system. Writes go to a
// temporary file in the target directory and are renamed into place; writers
// of the same path are serialized.
type FileBackend struct {
	baseDir string
	charset string
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// directory if it doesn't exist. Resources read from disk report charset.
func NewFileBackend(baseDir, charset string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base directory", interfaces.ErrInvalidArgument)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBackend{
		baseDir: filepath.Clean(baseDir),
		charset: charset,
		log:     log,
		locks:   make(map[string]*entryLock),
	}, nil
}

func newFileBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	dir, err := filePathOf(bc.RootURI)
	if err != nil {
		return nil, err
	}
	return NewFileBackend(dir, bc.Options.Charset, bc.Log)
}

// BaseDir returns the directory of the root URI.
func (b *FileBackend) BaseDir() string {
	return b.baseDir
}

// Get opens the file named by uri. Missing files and directories are not
// found.
func (b *FileBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	filePath, err := b.pathOf(uri)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	if info.IsDir() {
		return nil, interfaces.NotFound("get", uri)
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	return interfaces.NewResource(uri, f,
		interfaces.WithMimeType(mimeTypeByExtension(filePath)),
		interfaces.WithLength(info.Size()),
		interfaces.WithLastModified(info.ModTime()),
		interfaces.WithCharset(b.charset))
}

// Store writes the resource to the file named by uri, creating parent
// directories.
func (b *FileBackend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	filePath, err := b.pathOf(uri)
	if err != nil {
		return err
	}
	unlock := b.lockEntry(filePath)
	defer unlock()

	if err := b.writeFile(ctx, filePath, res); err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	b.log.Debug("Stored resource in file", slog.String("path", filePath))
	return nil
}

func (b *FileBackend) writeFile(ctx context.Context, filePath string, res *interfaces.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info, err := os.Stat(filePath); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", filePath)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".store-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = io.Copy(tempFile, res.Reader())
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}

	if !res.LastModified.IsZero() {
		if err := os.Chtimes(filePath, time.Now(), res.LastModified); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the file named by uri. Missing files are ignored and
// directories are left alone.
func (b *FileBackend) Remove(ctx context.Context, uri string) error {
	filePath, err := b.pathOf(uri)
	if err != nil {
		return err
	}
	unlock := b.lockEntry(filePath)
	defer unlock()

	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && info.IsDir() {
		return nil
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

func (b *FileBackend) lockEntry(key string) func() {
	b.mu.Lock()
	lock := b.locks[key]
	if lock == nil {
		lock = &entryLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}
}

// pathOf returns the local path of uri. Paths outside the base directory are
// invalid arguments.
func (b *FileBackend) pathOf(uri string) (string, error) {
	p, err := filePathOf(uri)
	if err != nil {
		return "", err
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(b.baseDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", interfaces.InvalidArgument("path", uri, "path is outside of %s", b.baseDir)
	}
	return p, nil
}

// filePathOf returns the local path of a file URI. The authority, when
// present, must be empty or localhost.
func filePathOf(uri string) (string, error) {
	if _, ok := interfaces.SchemeOf(uri); !ok {
		return "", interfaces.InvalidArgument("path", uri, "missing URI scheme")
	}
	parts := splitURI(uri)
	if parts.hasAuthority && parts.authority != "" && !strings.EqualFold(parts.authority, "localhost") {
		return "", interfaces.InvalidArgument("path", uri, "remote host %s in file URI", parts.authority)
	}
	p, err := url.PathUnescape(parts.path)
	if err != nil {
		return "", interfaces.InvalidArgument("path", uri, "malformed path: %v", err)
	}
	if p == "" {
		return "", interfaces.InvalidArgument("path", uri, "empty path")
	}
	return filepath.FromSlash(p), nil
}

func mimeTypeByExtension(name string) string {
	t := mime.TypeByExtension(filepath.Ext(name))
	if t == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
