package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/resource-store/interfaces"
)

// vaultOptions are the configuration keys specific to Vault stores.
type vaultOptions struct {
	Token         string `mapstructure:"token"`
	TLS           bool   `mapstructure:"tls"`
	TLSSkipVerify bool   `mapstructure:"tlsSkipVerify"`
}

// VaultBackend implements a backend over a HashiCorp Vault KV version 2
// secrets engine. vault://host:port/<mount>/<path> URIs address secrets;
// the content is kept base64 encoded under the "content" field.
type VaultBackend struct {
	client  *api.Client
	charset string
	log     *slog.Logger
}

// NewVaultBackend creates a Vault backend for the server at address
// (e.g. https://vault.example.com:8200) authenticating with token.
func NewVaultBackend(address, token string, tlsSkipVerify bool, timeout time.Duration, charset string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = timeout
	// Retries belong to the store policy.
	config.MaxRetries = 0
	if tlsSkipVerify {
		if err := config.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultBackend{
		client:  client,
		charset: charset,
		log:     log,
	}, nil
}

func newVaultBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	var vo vaultOptions
	if err := bc.Config.Decode(&vo); err != nil {
		return nil, err
	}
	u, err := url.Parse(bc.RootURI)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: expected vault://host:port/<mount>/<path>", interfaces.ErrInvalidArgument)
	}
	scheme := "http"
	if vo.TLS {
		scheme = "https"
	}
	address := scheme + "://" + u.Host
	return NewVaultBackend(address, vo.Token, vo.TLSSkipVerify,
		millisOr(bc.Options.ReadTimeout, defaultHTTPTimeout), bc.Options.Charset, bc.Log)
}

// Get reads the latest version of the secret addressed by uri.
func (b *VaultBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	start := time.Now()
	mount, secretPath, err := vaultLocation(uri)
	if err != nil {
		return nil, err
	}
	path := mount + "/data/" + secretPath

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.NotFound("get", uri)
	}

	// Deleted versions come back with a nil data section.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.NotFound("get", uri)
	}
	encoded, ok := data["content"].(string)
	if !ok {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri,
			fmt.Errorf("content key not found in Vault data"))
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri,
			fmt.Errorf("invalid content encoding: %w", err))
	}

	mimeType, _ := data["mime_type"].(string)
	charset, _ := data["charset"].(string)
	if charset == "" {
		charset = b.charset
	}
	opts := []interfaces.ResourceOption{
		interfaces.WithMimeType(mimeType),
		interfaces.WithCharset(charset),
	}
	if metadata, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if created, ok := metadata["created_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
				opts = append(opts, interfaces.WithLastModified(t))
			}
		}
	}

	b.log.Debug("Fetched resource from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	return interfaces.NewResourceFromBytes(uri, content, opts...), nil
}

// Store writes a new version of the secret addressed by uri.
func (b *VaultBackend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	mount, secretPath, err := vaultLocation(uri)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(res.Reader())
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	path := mount + "/data/" + secretPath
	_, err = b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"content":   base64.StdEncoding.EncodeToString(content),
			"mime_type": res.MimeType,
			"charset":   res.Charset,
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	return nil
}

// Remove deletes every version of the secret addressed by uri.
func (b *VaultBackend) Remove(ctx context.Context, uri string) error {
	mount, secretPath, err := vaultLocation(uri)
	if err != nil {
		return err
	}
	if _, err := b.client.Logical().DeleteWithContext(ctx, mount+"/metadata/"+secretPath); err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

// vaultLocation splits the path of a vault URI into the mount and the secret
// path below it.
func vaultLocation(uri string) (mount, secretPath string, err error) {
	p := strings.Trim(uriPath(uri), "/")
	mount, secretPath, ok := strings.Cut(p, "/")
	if !ok || mount == "" || secretPath == "" {
		return "", "", interfaces.InvalidArgument("locate", uri, "expected vault://host:port/<mount>/<path>")
	}
	return mount, secretPath, nil
}
