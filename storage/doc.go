// Package storage provides URI-addressed resource stores with pluggable
// backends.
//
// A store is obtained from a Provider for a root URI and a flat
// configuration map. The Provider picks the backend from the URI scheme,
// wraps it in a PolicyStore and keeps one store per normalized root URI:
//
//   - classpath:/ embedded files registered with RegisterClasspath (read-only)
//   - file:///var/lib/app/ local file system
//   - webapp:/static/ files below the webappRoot directory (read-only)
//   - http://host/path/ and https://host/path/ (read-only)
//   - ftp://host/path/ (read-only)
//   - sftp://host/path/ (read-only)
//   - memory:/ process memory, shared by cacheManagerRef
//   - jdbc:<driver>:<dsn> and jpa:<unit>/ rows of a SQL table
//   - s3://bucket/prefix/ Amazon S3 or a compatible service
//   - ipfs://host:5001/path/ the MFS of an IPFS node
//   - vault://host:8200/<mount>/<path>/ a Vault KV version 2 engine
//   - nats://host:4222/<bucket>/ a JetStream object store
//
// # Root URIs
//
// Root URIs may reference ${name} placeholders, resolved from the provider
// parameters and then from the environment. Schemes are case-insensitive and
// "." and ".." segments of hierarchical paths are collapsed, so
// "FILE:///data/./cache/" and "file:///data/cache/" name the same store.
//
// # Policy
//
// Every PolicyStore applies the same rules on top of its backend:
//
//   - relative paths are joined to the root URI with exactly one slash
//   - absolute URIs must lie under the root, and ".." segments are rejected
//   - URIs with a scheme the backend does not declare are rejected
//   - read-only stores reject Store, Remove and Move before touching the backend
//   - failed primitives are retried up to maxRetryOnFailure attempts in total,
//     sleeping sleepTimeBeforeRetryOnFailure milliseconds in between
//   - not-found, read-only and invalid argument failures are never retried
//
// # Usage Example
//
//	provider, err := storage.NewProvider(storage.ProviderOptions{Log: logger})
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	store, err := provider.Provides(ctx, "file:///var/lib/app/", interfaces.Configuration{
//	    "maxRetryOnFailure":             "3",
//	    "sleepTimeBeforeRetryOnFailure": "200",
//	})
//	if err != nil {
//	    return err
//	}
//
//	res, err := store.Get(ctx, "conf/app.json")
//	if err != nil {
//	    return err
//	}
//	defer res.Release()
//
// # Multi-Store Example
//
//	// Read from the local cache first, fall back to the remote origin
//	multi := storage.NewMultiStore([]interfaces.Store{cacheStore, originStore}, logger)
//	res, err := multi.Get(ctx, "img/logo.svg")
package storage
