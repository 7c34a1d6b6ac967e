package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// ProviderOptions configures a Provider. Zero values select defaults.
type ProviderOptions struct {
	Log *slog.Logger
	// Schemes is the matcher consulted before any backend; DefaultSchemes
	// when nil.
	Schemes *SchemeMatcher
	// Backends is the registration table; DefaultBackends() when nil.
	Backends []Registration
	// Params are static values for ${name} placeholders in root URIs.
	Params map[string]string
	// Metrics is handed to every store built by the provider.
	Metrics *Metrics
}

// Provider resolves root URIs to stores and keeps one store per normalized
// root URI for its lifetime.
type Provider struct {
	log      *slog.Logger
	schemes  *SchemeMatcher
	backends []Registration
	params   map[string]string
	metrics  *Metrics

	mu     sync.RWMutex
	stores map[string]*PolicyStore
	group  singleflight.Group
	closed atomic.Bool
}

var _ interfaces.StoreProvider = (*Provider)(nil)

// NewProvider creates a provider. Custom schemes declared by the backend
// registrations are added to the scheme matcher.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Schemes == nil {
		opts.Schemes = DefaultSchemes
	}
	if opts.Backends == nil {
		opts.Backends = DefaultBackends()
	}

	for _, reg := range opts.Backends {
		if reg.Factory == nil || len(reg.Schemes) == 0 {
			return nil, fmt.Errorf("%w: backend %q needs a factory and at least one scheme", interfaces.ErrInvalidArgument, reg.Name)
		}
		for _, scheme := range reg.Schemes {
			if scheme.IsBuiltin() {
				continue
			}
			if err := opts.Schemes.EnsureScheme(string(scheme)); err != nil {
				return nil, err
			}
		}
	}

	params := make(map[string]string, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}

	return &Provider{
		log:      opts.Log,
		schemes:  opts.Schemes,
		backends: opts.Backends,
		params:   params,
		metrics:  opts.Metrics,
		stores:   make(map[string]*PolicyStore),
	}, nil
}

// Schemes returns the scheme matcher of the provider.
func (p *Provider) Schemes() *SchemeMatcher {
	return p.schemes
}

// Provides returns the store for rootURI, building it from cfg on first use.
// Later calls for the same normalized root return the same store and ignore
// cfg. An empty rootURI falls back to the baseUri configuration key.
func (p *Provider) Provides(ctx context.Context, rootURI string, cfg interfaces.Configuration) (interfaces.Store, error) {
	s, err := p.provides(ctx, rootURI, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Store is Provides returning the concrete store type.
func (p *Provider) Store(ctx context.Context, rootURI string, cfg interfaces.Configuration) (*PolicyStore, error) {
	return p.provides(ctx, rootURI, cfg)
}

func (p *Provider) provides(ctx context.Context, rootURI string, cfg interfaces.Configuration) (*PolicyStore, error) {
	if p.closed.Load() {
		return nil, providerFailure(rootURI, "", errors.New("provider closed"))
	}
	if rootURI == "" {
		rootURI = cfg.Get(interfaces.KeyBaseURI, "")
	}

	root, err := NormalizeRootURI(rootURI, p.params)
	if err != nil {
		return nil, err
	}
	storeType, ok := p.schemes.Match(root)
	if !ok {
		scheme, _ := interfaces.SchemeOf(root)
		return nil, providerFailure(root, "", fmt.Errorf("unmanaged scheme %s", scheme))
	}

	if s, ok := p.lookup(root); ok {
		return s, nil
	}

	v, err, _ := p.group.Do(root, func() (any, error) {
		if s, ok := p.lookup(root); ok {
			return s, nil
		}
		s, err := p.build(ctx, root, storeType, cfg)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed.Load() {
			_ = s.Close()
			return nil, providerFailure(root, s.Name(), errors.New("provider closed"))
		}
		p.stores[root] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PolicyStore), nil
}

// build walks the registration table and returns the first store that
// accepts root.
func (p *Provider) build(ctx context.Context, root string, storeType interfaces.StoreType, cfg interfaces.Configuration) (*PolicyStore, error) {
	start := time.Now()
	own := cfg.Clone()
	opts, err := own.Options()
	if err != nil {
		return nil, providerFailure(root, "", err)
	}

	for _, reg := range p.backends {
		if !slices.Contains(reg.Schemes, storeType) {
			continue
		}

		log := p.log.With(slog.String("backend", reg.Name))
		backend, err := reg.Factory(ctx, BackendContext{
			RootURI: root,
			Config:  own,
			Options: opts,
			Log:     log,
		})
		if err != nil {
			p.log.Warn("Failed to create store backend",
				slog.String("backend", reg.Name),
				slog.String("root", root),
				"err", err)
			return nil, providerFailure(root, reg.Name, err)
		}

		s := NewPolicyStore(reg, backend, root, opts, log).WithMetrics(p.metrics)
		if ok, _ := s.IsURIManageable(root); ok {
			p.log.Info("Registered store",
				slog.String("backend", reg.Name),
				slog.String("root", root),
				slog.Bool("readonly", s.ReadOnly()),
				slog.Duration("duration", time.Since(start)))
			return s, nil
		}
		if c, ok := backend.(io.Closer); ok {
			_ = c.Close()
		}
	}

	return nil, providerFailure(root, "", errors.New("unmanaged URI"))
}

// Lookup returns the store registered for rootURI, if any.
func (p *Provider) Lookup(rootURI string) (interfaces.Store, bool) {
	root, err := NormalizeRootURI(rootURI, p.params)
	if err != nil {
		return nil, false
	}
	s, ok := p.lookup(root)
	if !ok {
		return nil, false
	}
	return s, true
}

func (p *Provider) lookup(root string) (*PolicyStore, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.stores[root]
	return s, ok
}

// Evict unregisters and closes the store for rootURI. It reports whether a
// store was registered.
func (p *Provider) Evict(rootURI string) (bool, error) {
	root, err := NormalizeRootURI(rootURI, p.params)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	s, ok := p.stores[root]
	delete(p.stores, root)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	p.log.Debug("Evicted store", slog.String("root", root))
	return true, s.Close()
}

// Roots returns the registered root URIs, sorted.
func (p *Provider) Roots() []string {
	p.mu.RLock()
	roots := make([]string, 0, len(p.stores))
	for root := range p.stores {
		roots = append(roots, root)
	}
	p.mu.RUnlock()

	sort.Strings(roots)
	return roots
}

// Close closes every registered store and empties the registry. The provider
// rejects further requests.
func (p *Provider) Close() error {
	p.closed.Store(true)

	p.mu.Lock()
	stores := p.stores
	p.stores = make(map[string]*PolicyStore)
	p.mu.Unlock()

	var errs []error
	for root, s := range stores {
		if err := s.Close(); err != nil {
			p.log.Warn("Failed to close store", slog.String("root", root), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", root, err))
		}
	}
	return errors.Join(errs...)
}

func providerFailure(uri, backend string, cause error) error {
	return &interfaces.StoreError{
		Code:    interfaces.CodeProviderFailure,
		Op:      "provides",
		URI:     uri,
		Backend: backend,
		Err:     cause,
	}
}
