package storage

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/ruteri/resource-store/interfaces"
)

// FTPBackend is a read-only backend retrieving files over FTP. Each read
// uses its own control connection, closed when the resource is released.
type FTPBackend struct {
	user           string
	password       string
	connectTimeout time.Duration
	charset        string
	log            *slog.Logger
}

// NewFTPBackend creates an FTP backend. Credentials in a URI take precedence
// over user and password; without either the backend logs in anonymously.
func NewFTPBackend(user, password string, connectTimeout time.Duration, charset string, log *slog.Logger) *FTPBackend {
	return &FTPBackend{
		user:           user,
		password:       password,
		connectTimeout: connectTimeout,
		charset:        charset,
		log:            log,
	}
}

func newFTPBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	return NewFTPBackend(bc.Options.User, bc.Options.Password,
		millisOr(bc.Options.ConnectTimeout, defaultHTTPTimeout), bc.Options.Charset, bc.Log), nil
}

// Get retrieves the file named by uri with RETR. A 550 reply is not found.
func (b *FTPBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, interfaces.InvalidArgument("get", uri, "malformed FTP URL")
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(b.connectTimeout))
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	user, password := b.credentials(u)
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	opts := []interfaces.ResourceOption{
		interfaces.WithMimeType(mimeTypeByExtension(u.Path)),
		interfaces.WithCharset(b.charset),
	}
	if size, err := conn.FileSize(u.Path); err == nil {
		opts = append(opts, interfaces.WithLength(size))
	}
	if modified, err := conn.GetTime(u.Path); err == nil {
		opts = append(opts, interfaces.WithLastModified(modified))
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		if isFTPNotFound(err) {
			return nil, interfaces.NotFound("get", uri)
		}
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	b.log.Debug("Retrieving resource over FTP", slog.String("uri", redactURI(uri)))
	return interfaces.NewResource(uri, &ftpBody{resp: resp, conn: conn}, opts...)
}

// Store always fails: FTP resources are read-only.
func (b *FTPBackend) Store(_ context.Context, uri string, _ *interfaces.Resource) error {
	return interfaces.ReadOnly("store", uri)
}

// Remove always fails: FTP resources are read-only.
func (b *FTPBackend) Remove(_ context.Context, uri string) error {
	return interfaces.ReadOnly("remove", uri)
}

func (b *FTPBackend) credentials(u *url.URL) (string, string) {
	if u.User != nil {
		password, _ := u.User.Password()
		return u.User.Username(), password
	}
	if b.user != "" {
		return b.user, b.password
	}
	return "anonymous", "anonymous"
}

func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}

// ftpBody closes the data transfer, then the control connection.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpBody) Read(p []byte) (int, error) {
	return f.resp.Read(p)
}

func (f *ftpBody) Close() error {
	err := f.resp.Close()
	if qerr := f.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
