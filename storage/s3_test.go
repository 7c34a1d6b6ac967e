package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// fakeS3 keeps objects in memory. Methods not overridden panic through the
// nil embedded interface.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]s3Object
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]s3Object{}}
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
	}
	if obj.contentType != "" {
		out.ContentType = aws.String(obj.contentType)
	}
	return out, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = s3Object{
		data:        data,
		contentType: aws.StringValue(in.ContentType),
		modified:    time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newS3TestStore(t *testing.T, client s3iface.S3API, cfg interfaces.Configuration) *PolicyStore {
	t.Helper()
	opts, err := cfg.Options()
	require.NoError(t, err)
	reg := Registration{Name: "s3", Schemes: []interfaces.StoreType{S3Type}}
	return NewPolicyStore(reg, NewS3BackendWithClient(client, "", testLogger()), "s3://assets/img/", opts, testLogger())
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	s := newS3TestStore(t, client, nil)
	ctx := context.Background()

	err := s.Store(ctx, "logo.svg", interfaces.NewResourceFromBytes("logo.svg", []byte("<svg/>"),
		interfaces.WithMimeType("image/svg+xml"),
		interfaces.WithCharset("UTF-8")))
	require.NoError(t, err)

	obj, ok := client.objects["assets/img/logo.svg"]
	require.True(t, ok)
	assert.Equal(t, "image/svg+xml; charset=UTF-8", obj.contentType)

	res, err := s.Get(ctx, "logo.svg")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", res.MimeType)
	assert.Equal(t, "UTF-8", res.Charset)
	assert.Equal(t, int64(6), res.Length)
	data, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("<svg/>"), data)

	_, err = s.Get(ctx, "missing.png")
	assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)

	require.NoError(t, s.Move(ctx, "logo.svg", "old/logo.svg"))
	_, ok = client.objects["assets/img/old/logo.svg"]
	assert.True(t, ok)
	_, ok = client.objects["assets/img/logo.svg"]
	assert.False(t, ok)
}

func TestS3Store_PutFailureRetried(t *testing.T) {
	client := newFakeS3()
	client.putErr = awserr.New("RequestTimeout", "timeout", nil)
	s := newS3TestStore(t, client, interfaces.Configuration{interfaces.KeyMaxRetryOnFailure: "2"})

	err := s.Store(context.Background(), "a.txt", interfaces.NewResourceFromBytes("a.txt", []byte("x")))
	var se *interfaces.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, interfaces.CodeStoreFailure, se.Code)
	assert.Equal(t, 2, se.Attempts)
}

func TestS3Location(t *testing.T) {
	bucket, key, err := s3Location("s3://assets/img/logo.svg")
	require.NoError(t, err)
	assert.Equal(t, "assets", bucket)
	assert.Equal(t, "img/logo.svg", key)

	_, _, err = s3Location("s3:///no-bucket")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)))
	assert.True(t, isS3NotFound(awserr.New("NotFound", "missing", nil)))
	assert.True(t, isS3NotFound(awserr.NewRequestFailure(awserr.New("Unknown", "x", nil), 404, "req")))
	assert.False(t, isS3NotFound(awserr.New("AccessDenied", "denied", nil)))
}
