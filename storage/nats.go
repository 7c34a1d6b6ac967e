package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/ruteri/resource-store/interfaces"
)

const (
	natsMetaMimeType = "mime_type"
	natsMetaCharset  = "charset"
)

// NATSBackend implements a backend over JetStream object stores.
// nats://host:port/<bucket>/<name> URIs address objects; buckets are
// created on first use.
type NATSBackend struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	charset string
	log     *slog.Logger

	mu      sync.Mutex
	buckets map[string]jetstream.ObjectStore
}

// NewNATSBackend connects to the NATS server at serverURL.
func NewNATSBackend(serverURL, user, password string, connectTimeout time.Duration, charset string, log *slog.Logger) (*NATSBackend, error) {
	opts := []nats.Option{
		nats.Name("resource-store"),
		nats.Timeout(connectTimeout),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, password))
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSBackend{
		nc:      nc,
		js:      js,
		charset: charset,
		log:     log,
		buckets: make(map[string]jetstream.ObjectStore),
	}, nil
}

func newNATSBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	u, err := url.Parse(bc.RootURI)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: expected nats://host:port/<bucket>/", interfaces.ErrInvalidArgument)
	}
	serverURL := "nats://" + u.Host
	return NewNATSBackend(serverURL, bc.Options.User, bc.Options.Password,
		millisOr(bc.Options.ConnectTimeout, nats.DefaultTimeout), bc.Options.Charset, bc.Log)
}

// Get opens the object addressed by uri.
func (b *NATSBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	bucket, name, err := natsLocation(uri)
	if err != nil {
		return nil, err
	}
	store, err := b.bucket(ctx, bucket, false)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, interfaces.NotFound("get", uri)
	}
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	result, err := store.Get(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, interfaces.NotFound("get", uri)
	}
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	opts := []interfaces.ResourceOption{interfaces.WithCharset(b.charset)}
	if info, err := result.Info(); err == nil {
		opts = append(opts,
			interfaces.WithLength(int64(info.Size)),
			interfaces.WithLastModified(info.ModTime))
		if mt := info.Metadata[natsMetaMimeType]; mt != "" {
			opts = append(opts, interfaces.WithMimeType(mt))
		}
		if cs := info.Metadata[natsMetaCharset]; cs != "" {
			opts = append(opts, interfaces.WithCharset(cs))
		}
	}
	return interfaces.NewResource(uri, result, opts...)
}

// Store puts the resource into the object addressed by uri, creating the
// bucket when missing.
func (b *NATSBackend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	bucket, name, err := natsLocation(uri)
	if err != nil {
		return err
	}
	store, err := b.bucket(ctx, bucket, true)
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	meta := jetstream.ObjectMeta{
		Name:     name,
		Metadata: map[string]string{},
	}
	if res.MimeType != "" {
		meta.Metadata[natsMetaMimeType] = res.MimeType
	}
	if res.Charset != "" {
		meta.Metadata[natsMetaCharset] = res.Charset
	}
	info, err := store.Put(ctx, meta, res.Reader())
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	b.log.Debug("Stored object in NATS",
		slog.String("bucket", bucket),
		slog.String("name", name),
		slog.Uint64("size", info.Size))
	return nil
}

// Remove deletes the object addressed by uri.
func (b *NATSBackend) Remove(ctx context.Context, uri string) error {
	bucket, name, err := natsLocation(uri)
	if err != nil {
		return err
	}
	store, err := b.bucket(ctx, bucket, false)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil
	}
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	if err := store.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

// Close drains the NATS connection.
func (b *NATSBackend) Close() error {
	return b.nc.Drain()
}

func (b *NATSBackend) bucket(ctx context.Context, name string, create bool) (jetstream.ObjectStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if store, ok := b.buckets[name]; ok {
		return store, nil
	}
	store, err := b.js.ObjectStore(ctx, name)
	if errors.Is(err, jetstream.ErrBucketNotFound) && create {
		b.log.Info("Creating object store bucket", slog.String("bucket", name))
		store, err = b.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{Bucket: name})
	}
	if err != nil {
		return nil, err
	}
	b.buckets[name] = store
	return store, nil
}

// natsLocation splits the path of a nats URI into bucket and object name.
func natsLocation(uri string) (bucket, name string, err error) {
	p := strings.TrimPrefix(uriPath(uri), "/")
	bucket, name, ok := strings.Cut(p, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", interfaces.InvalidArgument("locate", uri, "expected nats://host:port/<bucket>/<name>")
	}
	return bucket, name, nil
}
