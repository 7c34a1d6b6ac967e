package storage

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

type memoryEntry struct {
	data         []byte
	mimeType     string
	charset      string
	lastModified time.Time
}

// MemoryBackend keeps resources in process memory keyed by URI. Backends
// created with the same cache name share their entries.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

var (
	memoryCachesMu sync.Mutex
	memoryCaches   = map[string]*MemoryBackend{}
)

// NewMemoryBackend returns a private in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

// SharedMemoryBackend returns the in-memory backend registered under name,
// creating it on first use. An empty name returns a private backend.
func SharedMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		return NewMemoryBackend()
	}
	memoryCachesMu.Lock()
	defer memoryCachesMu.Unlock()
	b, ok := memoryCaches[name]
	if !ok {
		b = NewMemoryBackend()
		memoryCaches[name] = b
	}
	return b
}

func newMemoryBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	return SharedMemoryBackend(bc.Options.CacheManagerRef), nil
}

// Get returns a handle reading the stored content. Entries are never
// mutated in place, so readers need no copy.
func (b *MemoryBackend) Get(_ context.Context, uri string) (*interfaces.Resource, error) {
	b.mu.RLock()
	e, ok := b.entries[uri]
	b.mu.RUnlock()
	if !ok {
		return nil, interfaces.NotFound("get", uri)
	}
	return interfaces.NewResourceFromBytes(uri, e.data,
		interfaces.WithMimeType(e.mimeType),
		interfaces.WithCharset(e.charset),
		interfaces.WithLastModified(e.lastModified)), nil
}

// Store copies the resource content into memory. The last write wins.
func (b *MemoryBackend) Store(_ context.Context, uri string, res *interfaces.Resource) error {
	data, err := io.ReadAll(res.Reader())
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	modified := res.LastModified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[uri] = memoryEntry{
		data:         data,
		mimeType:     res.MimeType,
		charset:      res.Charset,
		lastModified: modified,
	}
	return nil
}

// Remove deletes the entry for uri.
func (b *MemoryBackend) Remove(_ context.Context, uri string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, uri)
	return nil
}

// Len returns the number of stored resources.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
