package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPBackend is a read-only backend fetching resources with HTTP GET.
type HTTPBackend struct {
	client      *http.Client
	readTimeout time.Duration
	user        string
	password    string
	useCaches   bool
	charset     string
	log         *slog.Logger
}

// NewHTTPBackend creates an HTTP backend from store options: connect and
// read timeouts, basic authentication, cache control and proxy settings.
func NewHTTPBackend(opts interfaces.Options, log *slog.Logger) (*HTTPBackend, error) {
	connectTimeout := millisOr(opts.ConnectTimeout, defaultHTTPTimeout)
	readTimeout := millisOr(opts.ReadTimeout, defaultHTTPTimeout)

	transport := &http.Transport{
		Proxy:                 proxyFunc(opts),
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &HTTPBackend{
		client:      &http.Client{Transport: transport},
		readTimeout: readTimeout,
		user:        opts.User,
		password:    opts.Password,
		useCaches:   opts.UseCaches,
		charset:     opts.Charset,
		log:         log,
	}, nil
}

func newHTTPBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	return NewHTTPBackend(bc.Options, bc.Log)
}

// Get fetches uri. 404 and 410 responses are not found; any other non-2xx
// status is a store failure. Reading the body fails once a single read waits
// longer than the read timeout.
func (b *HTTPBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	start := time.Now()
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		cancel()
		return nil, interfaces.InvalidArgument("get", uri, "malformed URL: %v", err)
	}
	if b.user != "" && req.URL.User == nil {
		req.SetBasicAuth(b.user, b.password)
	}
	if !b.useCaches {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		cancel()
		b.log.Debug("HTTP request failed",
			slog.String("uri", redactURI(uri)),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		cancel()
		return nil, interfaces.NotFound("get", uri)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		cancel()
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	mimeType, charset := parseContentType(resp.Header.Get("Content-Type"))
	if charset == "" {
		charset = b.charset
	}
	opts := []interfaces.ResourceOption{
		interfaces.WithMimeType(mimeType),
		interfaces.WithLength(resp.ContentLength),
		interfaces.WithCharset(charset),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			opts = append(opts, interfaces.WithLastModified(t))
		}
	}
	if mimeType == "" {
		opts[0] = interfaces.WithMimeType(mimeTypeByExtension(path.Base(req.URL.Path)))
	}

	b.log.Debug("Fetched resource over HTTP",
		slog.String("uri", redactURI(uri)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))
	body := &readTimeoutBody{
		body:    resp.Body,
		timeout: b.readTimeout,
		timer:   time.AfterFunc(b.readTimeout, cancel),
		cancel:  cancel,
	}
	body.timer.Stop()
	return interfaces.NewResource(uri, body, opts...)
}

// readTimeoutBody cancels the request when a single Read blocks for longer
// than timeout.
type readTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
}

func (r *readTimeoutBody) Read(p []byte) (int, error) {
	r.timer.Reset(r.timeout)
	n, err := r.body.Read(p)
	if !r.timer.Stop() && err != nil && err != io.EOF {
		err = fmt.Errorf("read timed out after %s: %w", r.timeout, err)
	}
	return n, err
}

func (r *readTimeoutBody) Close() error {
	r.timer.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}

// Store always fails: HTTP resources are read-only.
func (b *HTTPBackend) Store(_ context.Context, uri string, _ *interfaces.Resource) error {
	return interfaces.ReadOnly("store", uri)
}

// Remove always fails: HTTP resources are read-only.
func (b *HTTPBackend) Remove(_ context.Context, uri string) error {
	return interfaces.ReadOnly("remove", uri)
}

// Close releases idle connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func parseContentType(header string) (mimeType, charset string) {
	if header == "" {
		return "", ""
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.TrimSpace(strings.Split(header, ";")[0]), ""
	}
	return mediaType, params["charset"]
}

// proxyFunc builds the proxy selector from the proxy options. Without
// proxySet the environment decides.
func proxyFunc(opts interfaces.Options) func(*http.Request) (*url.URL, error) {
	if !opts.ProxySet || opts.ProxyHost == "" {
		return http.ProxyFromEnvironment
	}

	host := opts.ProxyHost
	if opts.ProxyPort > 0 {
		host = net.JoinHostPort(opts.ProxyHost, strconv.Itoa(opts.ProxyPort))
	}
	proxyURL := &url.URL{Scheme: "http", Host: host}
	if opts.ProxyUser != "" {
		proxyURL.User = url.UserPassword(opts.ProxyUser, opts.ProxyPassword)
	}

	var bypass []string
	for _, h := range strings.Split(opts.NonProxyHosts, "|") {
		if h = strings.TrimSpace(h); h != "" {
			bypass = append(bypass, strings.ToLower(h))
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		if matchesNonProxyHost(req.URL.Hostname(), bypass) {
			return nil, nil
		}
		return proxyURL, nil
	}
}

// matchesNonProxyHost matches host against patterns with an optional leading
// or trailing '*' wildcard.
func matchesNonProxyHost(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "*"):
			if strings.HasSuffix(host, p[1:]) {
				return true
			}
		case strings.HasSuffix(p, "*"):
			if strings.HasPrefix(host, p[:len(p)-1]) {
				return true
			}
		case host == p:
			return true
		}
	}
	return false
}

// redactURI hides the password of a URI's user info in logs.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
