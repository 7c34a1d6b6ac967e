package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/resource-store/interfaces"
)

// IPFSBackend implements a backend over the mutable file system (MFS) of an
// IPFS node. ipfs://host:port/path URIs address MFS paths on the node.
type IPFSBackend struct {
	shell   *shell.Shell
	apiAddr string
	charset string
	log     *slog.Logger
}

// NewIPFSBackend creates an IPFS backend talking to the node API at apiAddr
// (host:port).
func NewIPFSBackend(apiAddr string, timeout time.Duration, charset string, log *slog.Logger) *IPFSBackend {
	sh := shell.NewShell(apiAddr)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &IPFSBackend{
		shell:   sh,
		apiAddr: apiAddr,
		charset: charset,
		log:     log,
	}
}

func newIPFSBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	u, err := url.Parse(bc.RootURI)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: expected ipfs://host[:port]/path", interfaces.ErrInvalidArgument)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = u.Hostname() + ":5001"
	}
	return NewIPFSBackend(addr, millisOr(bc.Options.ReadTimeout, defaultHTTPTimeout), bc.Options.Charset, bc.Log), nil
}

// Get reads the MFS file addressed by uri.
func (b *IPFSBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	start := time.Now()
	mfsPath, err := b.mfsPath(uri)
	if err != nil {
		return nil, err
	}

	stat, err := b.shell.FilesStat(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	if stat.Type == "directory" {
		return nil, interfaces.NotFound("get", uri)
	}

	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.NotFound("get", uri)
		}
		b.log.Error("Failed to read from IPFS",
			slog.String("path", mfsPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	b.log.Debug("Opened resource in IPFS",
		slog.String("path", mfsPath),
		slog.String("cid", stat.Hash),
		slog.Duration("duration", time.Since(start)))
	return interfaces.NewResource(uri, reader,
		interfaces.WithMimeType(mimeTypeByExtension(mfsPath)),
		interfaces.WithLength(int64(stat.Size)),
		interfaces.WithCharset(b.charset))
}

// Store writes the resource to the MFS path addressed by uri, creating
// parent directories and truncating existing content.
func (b *IPFSBackend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	mfsPath, err := b.mfsPath(uri)
	if err != nil {
		return err
	}
	err = b.shell.FilesWrite(ctx, mfsPath, res.Reader(),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	b.log.Debug("Stored resource in IPFS", slog.String("path", mfsPath))
	return nil
}

// Remove deletes the MFS file addressed by uri.
func (b *IPFSBackend) Remove(ctx context.Context, uri string) error {
	mfsPath, err := b.mfsPath(uri)
	if err != nil {
		return err
	}
	if err := b.shell.FilesRm(ctx, mfsPath, true); err != nil && !isIPFSNotFound(err) {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

func (b *IPFSBackend) mfsPath(uri string) (string, error) {
	p := uriPath(uri)
	if p == "" || p == "/" {
		return "", interfaces.InvalidArgument("locate", uri, "empty MFS path")
	}
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return "", interfaces.InvalidArgument("locate", uri, "malformed path: %v", err)
	}
	return unescaped, nil
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
