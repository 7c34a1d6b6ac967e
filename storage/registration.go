package storage

import (
	"context"
	"log/slog"

	"github.com/ruteri/resource-store/interfaces"
)

// BackendContext carries what a backend factory needs to build a backend for
// one root URI.
type BackendContext struct {
	// RootURI is the normalized root URI of the store.
	RootURI string
	// Config is the store's own copy of the configuration map.
	Config interfaces.Configuration
	// Options is the decoded form of Config.
	Options interfaces.Options
	Log     *slog.Logger
}

// BackendFactory constructs a backend for a root URI.
type BackendFactory func(ctx context.Context, bc BackendContext) (interfaces.Backend, error)

// Registration describes a backend known to a Provider.
type Registration struct {
	// Name identifies the backend in logs and errors.
	Name string
	// Schemes lists the URI schemes the backend handles.
	Schemes []interfaces.StoreType
	// ReadOnly forces stores built on the backend to reject writes.
	ReadOnly bool
	Factory  BackendFactory
}

// Schemes registered on the matcher by providers that use the default
// backends.
const (
	S3Type    interfaces.StoreType = "s3"
	IPFSType  interfaces.StoreType = "ipfs"
	VaultType interfaces.StoreType = "vault"
	NATSType  interfaces.StoreType = "nats"
)

// DefaultBackends returns the registration table of every backend shipped
// with the package, in lookup order.
func DefaultBackends() []Registration {
	return []Registration{
		{
			Name:     "classpath",
			Schemes:  []interfaces.StoreType{interfaces.ClasspathType},
			ReadOnly: true,
			Factory:  newClasspathBackendFromContext,
		},
		{
			Name:    "file",
			Schemes: []interfaces.StoreType{interfaces.FileType},
			Factory: newFileBackendFromContext,
		},
		{
			Name:     "webapp",
			Schemes:  []interfaces.StoreType{interfaces.WebappType},
			ReadOnly: true,
			Factory:  newWebappBackendFromContext,
		},
		{
			Name:     "http",
			Schemes:  []interfaces.StoreType{interfaces.HTTPType, interfaces.HTTPSType},
			ReadOnly: true,
			Factory:  newHTTPBackendFromContext,
		},
		{
			Name:     "ftp",
			Schemes:  []interfaces.StoreType{interfaces.FTPType},
			ReadOnly: true,
			Factory:  newFTPBackendFromContext,
		},
		{
			Name:     "sftp",
			Schemes:  []interfaces.StoreType{interfaces.SFTPType},
			ReadOnly: true,
			Factory:  newSFTPBackendFromContext,
		},
		{
			Name:    "memory",
			Schemes: []interfaces.StoreType{interfaces.MemoryType},
			Factory: newMemoryBackendFromContext,
		},
		{
			Name:    "blob",
			Schemes: []interfaces.StoreType{interfaces.JDBCType, interfaces.JPAType},
			Factory: newBlobBackendFromContext,
		},
		{
			Name:    "s3",
			Schemes: []interfaces.StoreType{S3Type},
			Factory: newS3BackendFromContext,
		},
		{
			Name:    "ipfs",
			Schemes: []interfaces.StoreType{IPFSType},
			Factory: newIPFSBackendFromContext,
		},
		{
			Name:    "vault",
			Schemes: []interfaces.StoreType{VaultType},
			Factory: newVaultBackendFromContext,
		},
		{
			Name:    "nats",
			Schemes: []interfaces.StoreType{NATSType},
			Factory: newNATSBackendFromContext,
		},
	}
}
