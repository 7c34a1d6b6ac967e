package interfaces

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

// DefaultCharset is used to decode text when neither the resource nor the
// caller names a charset.
const DefaultCharset = "UTF-8"

// Resource is a single-use handle on a resource's byte stream and metadata.
//
// The stream may be consumed exactly once. Release must be called on every
// exit path; it is idempotent and safe to call when the stream was never read.
// Bytes, Text and WriteTo release the handle after draining it.
//
// A Resource is not safe for concurrent use.
type Resource struct {
	// URI is the resolved URI identifying the resource.
	URI string
	// MimeType is the media type, empty when unknown.
	MimeType string
	// Length is the content length in bytes, -1 when unknown.
	Length int64
	// LastModified is the last modification time, zero when unknown.
	LastModified time.Time
	// Charset names the text encoding, empty when unknown.
	Charset string

	body       io.Reader
	closer     io.Closer
	released   bool
	releaseErr error
}

// ResourceOption sets optional resource metadata.
type ResourceOption func(*Resource)

// WithMimeType sets the media type.
func WithMimeType(mimeType string) ResourceOption {
	return func(r *Resource) { r.MimeType = mimeType }
}

// WithLength sets the content length.
func WithLength(length int64) ResourceOption {
	return func(r *Resource) { r.Length = length }
}

// WithLastModified sets the last modification time.
func WithLastModified(t time.Time) ResourceOption {
	return func(r *Resource) { r.LastModified = t }
}

// WithCharset sets the text encoding.
func WithCharset(charset string) ResourceOption {
	return func(r *Resource) { r.Charset = charset }
}

// NewResource wraps body in a resource handle. If body implements io.Closer it
// is closed on release.
func NewResource(uri string, body io.Reader, opts ...ResourceOption) (*Resource, error) {
	if body == nil {
		return nil, InvalidArgument("resource", uri, "nil resource stream")
	}
	r := &Resource{
		URI:    uri,
		Length: -1,
		body:   body,
	}
	if c, ok := body.(io.Closer); ok {
		r.closer = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewResourceFromBytes wraps an in-memory payload. The length is set from data.
func NewResourceFromBytes(uri string, data []byte, opts ...ResourceOption) *Resource {
	r := &Resource{
		URI:    uri,
		Length: int64(len(data)),
		body:   bytes.NewReader(data),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reader returns the resource stream. It never returns nil; once the handle is
// released, reads fail with ErrResourceReleased.
func (r *Resource) Reader() io.Reader {
	if r.released {
		return releasedReader{}
	}
	return resourceReader{r}
}

// Bytes drains the stream and releases the handle. A failure to release after
// a complete read does not fail the call; it is reported by Release.
func (r *Resource) Bytes() ([]byte, error) {
	if r.released {
		return nil, NewStoreError(CodeStoreFailure, "read", r.URI, ErrResourceReleased)
	}
	data, err := io.ReadAll(r.body)
	r.Release()
	if err != nil {
		return nil, NewStoreError(CodeStoreFailure, "read", r.URI, err)
	}
	return data, nil
}

// Text drains the stream, decodes it with the resource charset (or
// DefaultCharset) and releases the handle.
func (r *Resource) Text() (string, error) {
	return r.TextWithCharset(r.Charset)
}

// TextWithCharset drains the stream, decodes it with charset and releases the
// handle. An empty charset selects DefaultCharset.
func (r *Resource) TextWithCharset(charset string) (string, error) {
	if charset == "" {
		charset = DefaultCharset
	}
	// Resolve the decoder before draining so an unknown charset leaves the
	// stream untouched.
	var decode func([]byte) ([]byte, error)
	if !isUTF8(charset) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return "", InvalidArgument("read", r.URI, "unsupported charset %q", charset)
		}
		decode = enc.NewDecoder().Bytes
	}

	data, err := r.Bytes()
	if err != nil {
		return "", err
	}
	if decode == nil {
		return string(data), nil
	}
	decoded, err := decode(data)
	if err != nil {
		return "", NewStoreError(CodeStoreFailure, "read", r.URI, fmt.Errorf("decode %s: %w", charset, err))
	}
	return string(decoded), nil
}

// WriteTo streams the resource into w and releases the handle.
func (r *Resource) WriteTo(w io.Writer) (int64, error) {
	if r.released {
		return 0, NewStoreError(CodeStoreFailure, "read", r.URI, ErrResourceReleased)
	}
	n, err := io.Copy(w, r.body)
	r.Release()
	if err != nil {
		return n, NewStoreError(CodeStoreFailure, "read", r.URI, err)
	}
	return n, nil
}

// Released reports whether the handle has been released.
func (r *Resource) Released() bool {
	return r.released
}

// Release closes the underlying stream. Calling it again returns the result
// of the first call.
func (r *Resource) Release() error {
	if r.released {
		return r.releaseErr
	}
	r.released = true
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			r.releaseErr = NewStoreError(CodeReleaseFailed, "release", r.URI, err)
		}
	}
	return r.releaseErr
}

func isUTF8(charset string) bool {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "")) {
	case "utf8", "unicode11utf8":
		return true
	}
	return false
}

type resourceReader struct {
	r *Resource
}

func (rr resourceReader) Read(p []byte) (int, error) {
	if rr.r.released {
		return 0, ErrResourceReleased
	}
	return rr.r.body.Read(p)
}

type releasedReader struct{}

func (releasedReader) Read([]byte) (int, error) {
	return 0, ErrResourceReleased
}

// IsReleaseError reports whether err is a handle release failure.
func IsReleaseError(err error) bool {
	return errors.Is(err, ErrReleaseFailed)
}
