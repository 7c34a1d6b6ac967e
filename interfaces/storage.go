package interfaces

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Configuration keys recognized by every store.
const (
	KeyBaseURI            = "baseUri"
	KeyReadOnly           = "readonly"
	KeyMaxRetryOnFailure  = "maxRetryOnFailure"
	KeySleepBeforeRetry   = "sleepTimeBeforeRetryOnFailure"
	KeyBufferSize         = "bufferSize"
	KeyCharset            = "charset"
	KeyClassloader        = "classloader"
	KeyCacheManagerRef    = "cacheManagerRef"
	KeyUser               = "user"
	KeyPassword           = "password"
	KeyUseCaches          = "useCaches"
	KeyConnectTimeout     = "connectTimeout"
	KeyReadTimeout        = "readTimeout"
	KeyProxySet           = "proxySet"
	KeyProxyHost          = "proxyHost"
	KeyProxyPort          = "proxyPort"
	KeyProxyUser          = "proxyUser"
	KeyProxyPassword      = "proxyPassword"
	KeyNonProxyHosts      = "nonProxyHosts"
	DefaultBufferSize     = 4096
	DefaultClassloaderKey = "default"
)

// Configuration is the flat property map a store is constructed with.
// A store never mutates the map it receives; it keeps its own copy.
type Configuration map[string]string

// Clone returns an independent copy of c. A nil map clones to an empty one.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Get returns the value for key, or def when the key is absent or blank.
func (c Configuration) Get(key, def string) string {
	if v, ok := c[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Decode decodes the configuration into target, a pointer to a struct tagged
// with `mapstructure`. String values are converted to booleans and numbers.
func (c Configuration) Decode(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]string(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// Options is the typed view of the configuration keys shared by all stores.
type Options struct {
	BaseURI  string `mapstructure:"baseUri"`
	ReadOnly bool   `mapstructure:"readonly"`
	// MaxRetryOnFailure is the total number of attempts for an operation.
	// Zero or less means a single attempt.
	MaxRetryOnFailure int `mapstructure:"maxRetryOnFailure"`
	// SleepTimeBeforeRetryOnFailure is the pause between attempts in
	// milliseconds.
	SleepTimeBeforeRetryOnFailure int    `mapstructure:"sleepTimeBeforeRetryOnFailure"`
	BufferSize                    int    `mapstructure:"bufferSize"`
	Charset                       string `mapstructure:"charset"`
	Classloader                   string `mapstructure:"classloader"`
	CacheManagerRef               string `mapstructure:"cacheManagerRef"`
	User                          string `mapstructure:"user"`
	Password                      string `mapstructure:"password"`
	UseCaches                     bool   `mapstructure:"useCaches"`
	ConnectTimeout                int    `mapstructure:"connectTimeout"`
	ReadTimeout                   int    `mapstructure:"readTimeout"`
	ProxySet                      bool   `mapstructure:"proxySet"`
	ProxyHost                     string `mapstructure:"proxyHost"`
	ProxyPort                     int    `mapstructure:"proxyPort"`
	ProxyUser                     string `mapstructure:"proxyUser"`
	ProxyPassword                 string `mapstructure:"proxyPassword"`
	NonProxyHosts                 string `mapstructure:"nonProxyHosts"`
}

// DefaultOptions returns the options used for keys absent from a
// configuration.
func DefaultOptions() Options {
	return Options{
		BufferSize:  DefaultBufferSize,
		Classloader: DefaultClassloaderKey,
		UseCaches:   true,
	}
}

// Options decodes the shared store options from c on top of DefaultOptions.
func (c Configuration) Options() (Options, error) {
	opts := DefaultOptions()
	if err := c.Decode(&opts); err != nil {
		return Options{}, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SleepTimeBeforeRetryOnFailure < 0 {
		opts.SleepTimeBeforeRetryOnFailure = 0
	}
	return opts, nil
}

// Backend is the raw transport for one or more URI schemes. Every method
// receives a fully resolved URI.
//
// Get returns ErrResourceNotFound (or a nil Resource) when nothing exists at
// the URI. Remove of a missing resource is not an error. Read-only backends
// return ErrReadOnly from Store and Remove.
type Backend interface {
	Get(ctx context.Context, uri string) (*Resource, error)
	Store(ctx context.Context, uri string, res *Resource) error
	Remove(ctx context.Context, uri string) error
}

// Store is a backend wrapped with path resolution, read-only enforcement and
// retries. Paths are relative to the root URI; an absolute URI is accepted
// only when it lies under the root. Paths never reach above the root. A Store
// is safe for concurrent use.
type Store interface {
	// Type returns the store type matched for the root URI scheme.
	Type() StoreType

	// RootURI returns the normalized root URI the store was created for.
	RootURI() string

	// ReadOnly reports whether mutating operations are rejected.
	ReadOnly() bool

	// Options returns the decoded store options.
	Options() Options

	// IsURIManageable reports whether uri has a scheme this store handles.
	// It returns false together with an ErrInvalidArgument error otherwise.
	IsURIManageable(uri string) (bool, error)

	// Get opens the resource at path. The caller must release the result.
	Get(ctx context.Context, path string) (*Resource, error)

	// Store writes res at path. The handle is consumed and released.
	Store(ctx context.Context, path string, res *Resource) error

	// Remove deletes the resource at path. Missing resources are ignored.
	Remove(ctx context.Context, path string) error

	// Move copies origin to dest, replacing dest, then removes origin.
	// It is not atomic.
	Move(ctx context.Context, origin, dest string) error

	// Exists reports whether a resource is present at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// StoreProvider resolves root URIs to shared Store instances.
type StoreProvider interface {
	// Provides returns the store registered for rootURI, constructing and
	// registering it with cfg on first use.
	Provides(ctx context.Context, rootURI string, cfg Configuration) (Store, error)
}
