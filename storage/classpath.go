package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/ruteri/resource-store/interfaces"
)

var (
	classpathMu sync.RWMutex
	classpaths  = map[string]fs.FS{}
)

// RegisterClasspath makes fsys available to classpath stores whose
// classloader key is name. Registering a name again replaces it.
func RegisterClasspath(name string, fsys fs.FS) {
	classpathMu.Lock()
	defer classpathMu.Unlock()
	classpaths[name] = fsys
}

// UnregisterClasspath removes the file system registered under name.
func UnregisterClasspath(name string) {
	classpathMu.Lock()
	defer classpathMu.Unlock()
	delete(classpaths, name)
}

func lookupClasspath(name string) (fs.FS, bool) {
	classpathMu.RLock()
	defer classpathMu.RUnlock()
	fsys, ok := classpaths[name]
	return fsys, ok
}

// FSBackend is a read-only backend serving files of an fs.FS. The URI path,
// stripped of its leading slash, names the file.
type FSBackend struct {
	fsys    fs.FS
	charset string
	log     *slog.Logger
}

// NewFSBackend creates a read-only backend over fsys.
func NewFSBackend(fsys fs.FS, charset string, log *slog.Logger) *FSBackend {
	return &FSBackend{fsys: fsys, charset: charset, log: log}
}

func newClasspathBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	name := bc.Options.Classloader
	if name == "" {
		name = interfaces.DefaultClassloaderKey
	}
	fsys, ok := lookupClasspath(name)
	if !ok {
		return nil, fmt.Errorf("no classpath registered as %q", name)
	}
	return NewFSBackend(fsys, bc.Options.Charset, bc.Log), nil
}

func newWebappBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	root := bc.Config.Get("webappRoot", ".")
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("webapp root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("webapp root %s is not a directory", root)
	}
	return NewFSBackend(os.DirFS(root), bc.Options.Charset, bc.Log), nil
}

// Get opens the file named by the path of uri.
func (b *FSBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	name, err := fsName(uri)
	if err != nil {
		return nil, err
	}

	f, err := b.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, interfaces.NotFound("get", uri)
	}

	return interfaces.NewResource(uri, f,
		interfaces.WithMimeType(mimeTypeByExtension(name)),
		interfaces.WithLength(info.Size()),
		interfaces.WithLastModified(info.ModTime()),
		interfaces.WithCharset(b.charset))
}

// Store always fails: file system views are read-only.
func (b *FSBackend) Store(_ context.Context, uri string, _ *interfaces.Resource) error {
	return interfaces.ReadOnly("store", uri)
}

// Remove always fails: file system views are read-only.
func (b *FSBackend) Remove(_ context.Context, uri string) error {
	return interfaces.ReadOnly("remove", uri)
}

// fsName converts the path of uri to an fs.FS name.
func fsName(uri string) (string, error) {
	p, err := url.PathUnescape(uriPath(uri))
	if err != nil {
		return "", interfaces.InvalidArgument("path", uri, "malformed path: %v", err)
	}
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		name = "."
	}
	return name, nil
}
