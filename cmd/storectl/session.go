package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/resource-store/cmd/flags"
	"github.com/ruteri/resource-store/config"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/ruteri/resource-store/storage"
	"github.com/urfave/cli/v2"
)

// resourceStore is the part of a store storectl drives. Both a single store
// and a MultiStore satisfy it.
type resourceStore interface {
	Get(ctx context.Context, path string) (*interfaces.Resource, error)
	Store(ctx context.Context, path string, res *interfaces.Resource) error
	Remove(ctx context.Context, path string) error
	Move(ctx context.Context, origin, dest string) error
	Exists(ctx context.Context, path string) (bool, error)
}

type session struct {
	log      *slog.Logger
	registry *prometheus.Registry
	provider *storage.Provider
	store    resourceStore
}

func newSession(cCtx *cli.Context, openStores bool) (*session, error) {
	var cfg config.Config
	if path := cCtx.String(flagConfig.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	logOpts := flags.LoggingOpts(cCtx)
	if logOpts.File == "" && cfg.Log.File != "" {
		logOpts.File = cfg.Log.File
		logOpts.FileMaxSizeMB = cfg.Log.MaxSizeMB
		logOpts.FileMaxBackups = cfg.Log.MaxBackups
		logOpts.FileCompress = cfg.Log.Compress
	}
	logger := flags.SetupLogger(cCtx, logOpts)

	params, err := parseAssignments(cCtx.StringSlice(flagParam.Name))
	if err != nil {
		return nil, err
	}
	overrides, err := parseAssignments(cCtx.StringSlice(flagSet.Name))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := storage.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	provider, err := storage.NewProvider(storage.ProviderOptions{
		Log:     logger,
		Params:  mergeProperties(cfg.Params, params),
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &session{log: logger, registry: registry, provider: provider}
	if !openStores {
		return s, nil
	}

	roots := cCtx.StringSlice(flagRoot.Name)
	if len(roots) == 0 {
		roots = cfg.Roots()
	}
	if len(roots) == 0 {
		provider.Close()
		return nil, errors.New("no store given, use --root or a stores file")
	}

	stores := make([]interfaces.Store, 0, len(roots))
	for _, root := range roots {
		props := overrides
		if declared, ok := cfg.Lookup(root); ok {
			props = mergeProperties(declared.Configuration(), overrides)
		}
		store, err := provider.Provides(cCtx.Context, root, props)
		if err != nil {
			provider.Close()
			return nil, err
		}
		logger.Debug("Opened store", slog.String("root", store.RootURI()), slog.String("type", store.Type().String()), slog.Bool("readonly", store.ReadOnly()))
		stores = append(stores, store)
	}

	if len(stores) == 1 {
		s.store = stores[0]
	} else {
		s.store = storage.NewMultiStore(stores, logger)
	}
	return s, nil
}

func (s *session) get(ctx context.Context, path, out string, stdout io.Writer) (err error) {
	res, err := s.store.Get(ctx, path)
	if err != nil {
		return err
	}
	defer res.Release()

	w := stdout
	if out != "" {
		f, createErr := os.Create(out)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close %s: %w", out, closeErr)
			}
		}()
		w = f
	}
	n, err := res.WriteTo(w)
	if err != nil {
		return err
	}
	s.log.Debug("Fetched resource", slog.String("uri", res.URI), slog.String("mimeType", res.MimeType), slog.Int64("bytes", n))
	return nil
}

func (s *session) put(ctx context.Context, path string, in io.Reader, opts ...interfaces.ResourceOption) error {
	res, err := interfaces.NewResource(path, in, opts...)
	if err != nil {
		return err
	}
	return s.store.Store(ctx, path, res)
}

// Close logs the operation counters and closes every opened store.
func (s *session) Close() error {
	s.logMetrics()
	return s.provider.Close()
}

func (s *session) logMetrics() {
	families, err := s.registry.Gather()
	if err != nil {
		s.log.Warn("Could not gather metrics", "err", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{slog.String("metric", mf.GetName()), slog.Float64("value", m.GetCounter().GetValue())}
			for _, label := range m.GetLabel() {
				attrs = append(attrs, slog.String(label.GetName(), label.GetValue()))
			}
			s.log.Debug("Store metric", attrs...)
		}
	}
}

// parseAssignments splits name=value pairs.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		out[name] = value
	}
	return out, nil
}

// mergeProperties returns base with overrides applied on top.
func mergeProperties(base, overrides map[string]string) interfaces.Configuration {
	out := make(interfaces.Configuration, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
