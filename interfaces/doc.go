// Package interfaces defines core interfaces and types for the resource store,
// separating contracts from their implementations.
//
// The package provides interfaces for the key components of the system:
//
// # Store Interfaces
//
// Store: The policy-wrapped store handed to callers. It resolves relative
// resource paths against a root URI, enforces read-only rules and retries
// transient backend failures.
//
// Backend: The raw primitives (get, store, remove) a transport implements for
// one or more URI schemes (file, classpath, http, memory, jdbc, ...).
//
// StoreProvider: Resolves a root URI and a configuration into a shared Store
// instance, one per normalized root URI.
//
// # Resource Handle
//
// Resource wraps a single-use byte stream with its metadata (URI, MIME type,
// length, last modification time, charset). Every handle returned by a Store
// must be released by the caller on every exit path:
//
//	res, err := store.Get(ctx, "conf/app.json")
//	if err != nil {
//	    return err
//	}
//	defer res.Release()
//
// # Configuration
//
// Configuration is the flat string-keyed property map a store receives at
// construction. Options is its typed form, decoded with mapstructure.
//
// # Errors
//
// All failures are StoreError values carrying a stable Code and the URI
// involved. Use errors.Is with ErrResourceNotFound, ErrStoreFailure,
// ErrReadOnly, ErrInvalidArgument, ErrProviderFailure or ErrReleaseFailed to
// branch on the failure kind.
package interfaces
