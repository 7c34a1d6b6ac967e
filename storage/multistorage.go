package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// MultiStore aggregates several stores with fallback. Reads are served by
// the first store holding the resource; writes go to every writable store.
type MultiStore struct {
	stores []interfaces.Store
	log    *slog.Logger
}

// NewMultiStore creates a multi-store over stores, consulted in order.
func NewMultiStore(stores []interfaces.Store, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// Get returns the resource from the first store that has it.
func (m *MultiStore) Get(ctx context.Context, path string) (*interfaces.Resource, error) {
	start := time.Now()
	var errs []error

	for _, store := range m.stores {
		res, err := store.Get(ctx, path)
		if err == nil {
			m.log.Debug("Fetched resource",
				slog.String("root", store.RootURI()),
				slog.String("path", path),
				slog.Duration("duration", time.Since(start)))
			return res, nil
		}
		if !errors.Is(err, interfaces.ErrResourceNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", store.RootURI(), err))
		}
		m.log.Debug("Failed to fetch from store",
			slog.String("root", store.RootURI()),
			slog.String("path", path),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, interfaces.NotFound("get", path)
	}
	m.log.Error("All stores failed to fetch resource",
		slog.String("path", path),
		slog.Int("failed_stores", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", path, errors.Join(errs...))
}

// Store writes the resource to every writable store. It succeeds when at
// least one store accepted the write. The handle is consumed.
func (m *MultiStore) Store(ctx context.Context, path string, res *interfaces.Resource) error {
	start := time.Now()
	if res == nil {
		return interfaces.InvalidArgument("store", path, "nil resource")
	}
	defer res.Release()

	data, err := res.Bytes()
	if err != nil {
		return err
	}

	var stored int
	var errs []error
	for _, store := range m.stores {
		if store.ReadOnly() {
			continue
		}
		copied := interfaces.NewResourceFromBytes(res.URI, data,
			interfaces.WithMimeType(res.MimeType),
			interfaces.WithCharset(res.Charset),
			interfaces.WithLastModified(res.LastModified))
		if err := store.Store(ctx, path, copied); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.RootURI(), err))
			m.log.Debug("Failed to store to store",
				slog.String("root", store.RootURI()),
				slog.String("path", path),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		if len(errs) == 0 {
			return interfaces.ReadOnly("store", path)
		}
		m.log.Error("All stores failed to store resource",
			slog.String("path", path),
			slog.Int("failed_stores", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", path, errors.Join(errs...))
	}

	m.log.Debug("Stored resource",
		slog.String("path", path),
		slog.Int("stores", stored),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Remove deletes the resource from every writable store.
func (m *MultiStore) Remove(ctx context.Context, path string) error {
	var errs []error
	for _, store := range m.stores {
		if store.ReadOnly() {
			continue
		}
		if err := store.Remove(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.RootURI(), err))
		}
	}
	if len(errs) > 0 {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", path, errors.Join(errs...))
	}
	return nil
}

// Exists reports whether any store holds the resource. When no store has it
// and some store failed, the failures are returned.
func (m *MultiStore) Exists(ctx context.Context, path string) (bool, error) {
	var errs []error
	for _, store := range m.stores {
		ok, err := store.Exists(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.RootURI(), err))
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(errs) > 0 {
		return false, interfaces.NewStoreError(interfaces.CodeStoreFailure, "exists", path, errors.Join(errs...))
	}
	return false, nil
}

// Move replaces dest with the content of origin across the aggregate: dest
// is removed from the writable stores, origin is read from the first store
// holding it, written to every writable store and then removed from them.
// Like PolicyStore.Move it is not atomic.
func (m *MultiStore) Move(ctx context.Context, origin, dest string) error {
	if m.ReadOnly() {
		return interfaces.ReadOnly("move", origin)
	}

	exists, err := m.Exists(ctx, dest)
	if err != nil {
		return err
	}
	if exists {
		if err := m.Remove(ctx, dest); err != nil {
			return err
		}
	}

	res, err := m.Get(ctx, origin)
	if err != nil {
		return err
	}
	err = func() error {
		defer res.Release()
		return m.Store(ctx, dest, res)
	}()
	if err != nil {
		return err
	}

	if err := m.Remove(ctx, origin); err != nil {
		return err
	}
	m.log.Debug("Moved resource",
		slog.String("origin", origin),
		slog.String("dest", dest))
	return nil
}

// ReadOnly reports whether no aggregated store accepts writes.
func (m *MultiStore) ReadOnly() bool {
	for _, store := range m.stores {
		if !store.ReadOnly() {
			return false
		}
	}
	return true
}

// RootURI returns a combined location of all aggregated stores.
func (m *MultiStore) RootURI() string {
	roots := make([]string, 0, len(m.stores))
	for _, store := range m.stores {
		roots = append(roots, store.RootURI())
	}
	return "multi:[" + strings.Join(roots, ",") + "]"
}
