package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/resource-store/interfaces"
)

// s3Options are the configuration keys specific to S3 stores.
type s3Options struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"pathStyle"`
}

// S3Backend implements a backend over Amazon S3 or a compatible service.
// s3://bucket/key URIs address objects; the host names the bucket.
type S3Backend struct {
	client  s3iface.S3API
	charset string
	log     *slog.Logger
}

// NewS3Backend creates an S3 backend. Without accessKey and secretKey the
// default credential chain of the SDK applies.
func NewS3Backend(region, endpoint string, pathStyle bool, accessKey, secretKey, charset string, log *slog.Logger) (*S3Backend, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg := aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(pathStyle),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	} else {
		log.Debug("No static S3 credentials configured, using the default chain")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewS3BackendWithClient(s3.New(sess), charset, log), nil
}

// NewS3BackendWithClient creates an S3 backend over an existing client.
func NewS3BackendWithClient(client s3iface.S3API, charset string, log *slog.Logger) *S3Backend {
	return &S3Backend{client: client, charset: charset, log: log}
}

func newS3BackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	var so s3Options
	if err := bc.Config.Decode(&so); err != nil {
		return nil, err
	}
	if _, _, err := s3Location(bc.RootURI); err != nil {
		return nil, err
	}
	return NewS3Backend(so.Region, so.Endpoint, so.PathStyle,
		bc.Options.User, bc.Options.Password, bc.Options.Charset, bc.Log)
}

// Get fetches the object addressed by uri.
func (b *S3Backend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	start := time.Now()
	bucket, key, err := s3Location(uri)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Object not found in S3",
				slog.String("bucket", bucket),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.NotFound("get", uri)
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	mimeType, charset := parseContentType(aws.StringValue(result.ContentType))
	if charset == "" {
		charset = b.charset
	}
	opts := []interfaces.ResourceOption{
		interfaces.WithMimeType(mimeType),
		interfaces.WithCharset(charset),
		interfaces.WithLength(-1),
	}
	if result.ContentLength != nil {
		opts = append(opts, interfaces.WithLength(*result.ContentLength))
	}
	if result.LastModified != nil {
		opts = append(opts, interfaces.WithLastModified(*result.LastModified))
	}
	return interfaces.NewResource(uri, result.Body, opts...)
}

// Store uploads the resource to the object addressed by uri.
func (b *S3Backend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	bucket, key, err := s3Location(uri)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(res.Reader())
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if ct := contentTypeOf(res); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := b.client.PutObjectWithContext(ctx, input); err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	b.log.Debug("Stored object in S3",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))
	return nil
}

// Remove deletes the object addressed by uri.
func (b *S3Backend) Remove(ctx context.Context, uri string) error {
	bucket, key, err := s3Location(uri)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

// s3Location splits an s3://bucket/key URI.
func s3Location(uri string) (bucket, key string, err error) {
	u, perr := url.Parse(uri)
	if perr != nil || u.Host == "" {
		return "", "", interfaces.InvalidArgument("locate", uri, "expected s3://bucket/key")
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

// contentTypeOf renders the MIME type and charset of res as a Content-Type
// value.
func contentTypeOf(res *interfaces.Resource) string {
	if res.MimeType == "" {
		return ""
	}
	if res.Charset == "" {
		return res.MimeType
	}
	return res.MimeType + "; charset=" + res.Charset
}
