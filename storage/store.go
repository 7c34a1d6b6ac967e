package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// PolicyStore wraps a backend with the behaviour shared by every store:
// resolution of relative paths against the root URI, scheme validation,
// read-only enforcement and bounded retries of the backend primitives.
type PolicyStore struct {
	name      string
	storeType interfaces.StoreType
	schemes   []interfaces.StoreType
	backend   interfaces.Backend
	rootURI   string
	opts      interfaces.Options
	readOnly  bool
	policy    retryPolicy
	log       *slog.Logger
	metrics   *Metrics
}

var _ interfaces.Store = (*PolicyStore)(nil)

// NewPolicyStore wraps backend for rootURI. The store is read-only when the
// registration or the options say so.
func NewPolicyStore(reg Registration, backend interfaces.Backend, rootURI string, opts interfaces.Options, log *slog.Logger) *PolicyStore {
	if log == nil {
		log = slog.Default()
	}
	scheme, _ := interfaces.SchemeOf(rootURI)
	return &PolicyStore{
		name:      reg.Name,
		storeType: interfaces.StoreType(scheme),
		schemes:   reg.Schemes,
		backend:   backend,
		rootURI:   rootURI,
		opts:      opts,
		readOnly:  reg.ReadOnly || opts.ReadOnly,
		policy:    newRetryPolicy(opts),
		log:       log.With(slog.String("store", reg.Name), slog.String("root", rootURI)),
	}
}

// WithMetrics enables metric collection on the store.
func (s *PolicyStore) WithMetrics(m *Metrics) *PolicyStore {
	s.metrics = m
	return s
}

// Name returns the name of the backend registration.
func (s *PolicyStore) Name() string { return s.name }

// Type returns the store type of the root URI scheme.
func (s *PolicyStore) Type() interfaces.StoreType { return s.storeType }

// RootURI returns the normalized root URI.
func (s *PolicyStore) RootURI() string { return s.rootURI }

// ReadOnly reports whether mutating operations are rejected.
func (s *PolicyStore) ReadOnly() bool { return s.readOnly }

// Options returns the decoded options of the store.
func (s *PolicyStore) Options() interfaces.Options { return s.opts }

// Backend returns the wrapped backend.
func (s *PolicyStore) Backend() interfaces.Backend { return s.backend }

// IsURIManageable reports whether the scheme of uri is one the backend
// declares.
func (s *PolicyStore) IsURIManageable(uri string) (bool, error) {
	scheme, ok := interfaces.SchemeOf(uri)
	if !ok {
		return false, interfaces.InvalidArgument("manage", uri, "missing URI scheme")
	}
	if !slices.Contains(s.schemes, interfaces.StoreType(scheme)) {
		return false, interfaces.InvalidArgument("manage", uri, "scheme %s is not managed by %s store", scheme, s.name)
	}
	return true, nil
}

// Get opens the resource at path.
func (s *PolicyStore) Get(ctx context.Context, path string) (*interfaces.Resource, error) {
	start := time.Now()
	uri, err := s.resolve(path)
	if err != nil {
		s.metrics.observe(s.storeType, "get", err)
		return nil, err
	}

	res, err := s.get(ctx, uri)
	s.metrics.observe(s.storeType, "get", err)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Fetched resource",
		slog.String("uri", uri),
		slog.Int64("length", res.Length),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// Store writes res at path. The handle is consumed and released whatever the
// outcome.
func (s *PolicyStore) Store(ctx context.Context, path string, res *interfaces.Resource) error {
	start := time.Now()
	if res == nil {
		err := interfaces.InvalidArgument("store", path, "nil resource")
		s.metrics.observe(s.storeType, "store", err)
		return err
	}
	defer res.Release()

	uri, err := s.resolveWritable("store", path)
	if err == nil {
		err = s.store(ctx, uri, res)
	}
	s.metrics.observe(s.storeType, "store", err)
	if err != nil {
		return err
	}
	s.log.Debug("Stored resource",
		slog.String("uri", uri),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Remove deletes the resource at path. A missing resource is not an error.
func (s *PolicyStore) Remove(ctx context.Context, path string) error {
	uri, err := s.resolveWritable("remove", path)
	if err == nil {
		err = s.remove(ctx, uri)
	}
	s.metrics.observe(s.storeType, "remove", err)
	return err
}

// Move replaces dest with the content of origin, then removes origin. The
// steps are not atomic: a failure may leave dest removed or origin in place.
func (s *PolicyStore) Move(ctx context.Context, origin, dest string) error {
	err := s.move(ctx, origin, dest)
	s.metrics.observe(s.storeType, "move", err)
	return err
}

func (s *PolicyStore) move(ctx context.Context, origin, dest string) error {
	originURI, err := s.resolveWritable("move", origin)
	if err != nil {
		return err
	}
	destURI, err := s.resolve(dest)
	if err != nil {
		return err
	}

	exists, err := s.exists(ctx, destURI)
	if err != nil {
		return err
	}
	if exists {
		if err := s.remove(ctx, destURI); err != nil {
			return err
		}
	}

	res, err := s.get(ctx, originURI)
	if err != nil {
		return err
	}
	err = func() error {
		defer res.Release()
		return s.store(ctx, destURI, res)
	}()
	if err != nil {
		return err
	}

	if err := s.remove(ctx, originURI); err != nil {
		return err
	}
	s.log.Debug("Moved resource",
		slog.String("origin", originURI),
		slog.String("dest", destURI))
	return nil
}

// Exists reports whether a resource is present at path.
func (s *PolicyStore) Exists(ctx context.Context, path string) (bool, error) {
	uri, err := s.resolve(path)
	if err != nil {
		s.metrics.observe(s.storeType, "exists", err)
		return false, err
	}
	exists, err := s.exists(ctx, uri)
	s.metrics.observe(s.storeType, "exists", err)
	return exists, err
}

// Close closes the backend when it holds resources.
func (s *PolicyStore) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *PolicyStore) resolve(path string) (string, error) {
	uri, err := ResolveURI(s.rootURI, path)
	if err != nil {
		return "", err
	}
	if _, err := s.IsURIManageable(uri); err != nil {
		return "", err
	}
	return uri, nil
}

// resolveWritable rejects mutations of a read-only store before looking at
// the path.
func (s *PolicyStore) resolveWritable(op, path string) (string, error) {
	if s.readOnly {
		uri, err := ResolveURI(s.rootURI, path)
		if err != nil {
			uri = path
		}
		return "", s.annotate(interfaces.ReadOnly(op, uri))
	}
	return s.resolve(path)
}

func (s *PolicyStore) get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	res, err := withRetry(ctx, s.policy, s.log, "get", uri, s.onRetry("get"), func() (*interfaces.Resource, error) {
		res, err := s.backend.Get(ctx, uri)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, interfaces.NotFound("get", uri)
		}
		return res, nil
	})
	return res, s.annotate(err)
}

// store buffers the payload once so that every attempt receives a complete
// handle with the caller's metadata.
func (s *PolicyStore) store(ctx context.Context, uri string, res *interfaces.Resource) error {
	data, err := res.Bytes()
	if err != nil {
		return s.annotate(err)
	}
	_, err = withRetry(ctx, s.policy, s.log, "store", uri, s.onRetry("store"), func() (struct{}, error) {
		attempt := interfaces.NewResourceFromBytes(uri, data,
			interfaces.WithMimeType(res.MimeType),
			interfaces.WithCharset(res.Charset),
			interfaces.WithLastModified(res.LastModified))
		defer attempt.Release()
		return struct{}{}, s.backend.Store(ctx, uri, attempt)
	})
	return s.annotate(err)
}

func (s *PolicyStore) remove(ctx context.Context, uri string) error {
	_, err := withRetry(ctx, s.policy, s.log, "remove", uri, s.onRetry("remove"), func() (struct{}, error) {
		err := s.backend.Remove(ctx, uri)
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return s.annotate(err)
}

func (s *PolicyStore) exists(ctx context.Context, uri string) (bool, error) {
	res, err := s.get(ctx, uri)
	if errors.Is(err, interfaces.ErrResourceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := res.Release(); err != nil {
		s.log.Debug("Failed to release checked resource", slog.String("uri", uri), "err", err)
	}
	return true, nil
}

func (s *PolicyStore) onRetry(op string) func() {
	return func() { s.metrics.retried(s.storeType, op) }
}

// annotate records the backend name on a store error produced by this store.
func (s *PolicyStore) annotate(err error) error {
	var se *interfaces.StoreError
	if errors.As(err, &se) && se.Backend == "" {
		se.Backend = s.name
	}
	return err
}
