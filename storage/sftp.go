package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruteri/resource-store/interfaces"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpOptions are the configuration keys specific to SFTP stores.
type sftpOptions struct {
	KnownHosts      string `mapstructure:"knownHosts"`
	InsecureHostKey bool   `mapstructure:"insecureHostKey"`
}

// SFTPBackend is a read-only backend reading files over SFTP with password
// authentication. Each read opens its own SSH session.
type SFTPBackend struct {
	user            string
	password        string
	hostKeyCallback ssh.HostKeyCallback
	connectTimeout  time.Duration
	charset         string
	log             *slog.Logger
}

// NewSFTPBackend creates an SFTP backend verifying server keys with
// hostKeyCallback.
func NewSFTPBackend(user, password string, hostKeyCallback ssh.HostKeyCallback, connectTimeout time.Duration, charset string, log *slog.Logger) *SFTPBackend {
	return &SFTPBackend{
		user:            user,
		password:        password,
		hostKeyCallback: hostKeyCallback,
		connectTimeout:  connectTimeout,
		charset:         charset,
		log:             log,
	}
}

func newSFTPBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	var so sftpOptions
	if err := bc.Config.Decode(&so); err != nil {
		return nil, err
	}

	var callback ssh.HostKeyCallback
	switch {
	case so.KnownHosts != "":
		cb, err := knownhosts.New(so.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		callback = cb
	case so.InsecureHostKey:
		bc.Log.Warn("SFTP host key verification disabled", slog.String("root", bc.RootURI))
		callback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("sftp store requires knownHosts or insecureHostKey=true")
	}

	return NewSFTPBackend(bc.Options.User, bc.Options.Password, callback,
		millisOr(bc.Options.ConnectTimeout, defaultHTTPTimeout), bc.Options.Charset, bc.Log), nil
}

// Get opens the remote file named by uri.
func (b *SFTPBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, interfaces.InvalidArgument("get", uri, "malformed SFTP URL")
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "22")
	}

	user, password := b.user, b.password
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			password = p
		}
	}

	dialer := &net.Dialer{Timeout: b.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: b.hostKeyCallback,
		Timeout:         b.connectTimeout,
	})
	if err != nil {
		netConn.Close()
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	f, err := client.Open(u.Path)
	if err != nil {
		client.Close()
		sshClient.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	opts := []interfaces.ResourceOption{
		interfaces.WithMimeType(mimeTypeByExtension(u.Path)),
		interfaces.WithCharset(b.charset),
	}
	if info, err := f.Stat(); err == nil {
		if info.IsDir() {
			f.Close()
			client.Close()
			sshClient.Close()
			return nil, interfaces.NotFound("get", uri)
		}
		opts = append(opts,
			interfaces.WithLength(info.Size()),
			interfaces.WithLastModified(info.ModTime()))
	}

	b.log.Debug("Opened resource over SFTP", slog.String("uri", redactURI(uri)))
	return interfaces.NewResource(uri, &sftpBody{File: f, client: client, ssh: sshClient}, opts...)
}

// Store always fails: SFTP resources are read-only.
func (b *SFTPBackend) Store(_ context.Context, uri string, _ *interfaces.Resource) error {
	return interfaces.ReadOnly("store", uri)
}

// Remove always fails: SFTP resources are read-only.
func (b *SFTPBackend) Remove(_ context.Context, uri string) error {
	return interfaces.ReadOnly("remove", uri)
}

// sftpBody closes the remote file and the sessions carrying it.
type sftpBody struct {
	*sftp.File
	client *sftp.Client
	ssh    *ssh.Client
}

func (s *sftpBody) Close() error {
	err := s.File.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	if cerr := s.ssh.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
