package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockS3Client implements S3ClientAPI
type MockS3Client struct {
	Objects      map[string][]byte
	ContentTypes map[string]string
	Fail         error
}

func (m *MockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(params.Body)
	m.Objects[*params.Key] = buf.Bytes()
	if params.ContentType != nil {
		m.ContentTypes[*params.Key] = *params.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	if content, ok := m.Objects[*params.Key]; ok {
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(content))}, nil
	}
	return nil, &types.NoSuchKey{}
}

func (m *MockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	delete(m.Objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newMockS3() *MockS3Client {
	return &MockS3Client{Objects: map[string][]byte{}, ContentTypes: map[string]string{}}
}

func TestS3BlobStore(t *testing.T) {
	ctx := context.Background()
	mockClient := newMockS3()
	store := &S3BlobStore{Client: mockClient, Bucket: "test-bucket"}

	require.NoError(t, store.Save(ctx, "file1", []byte("content"), "text/plain"))
	assert.Equal(t, "content", string(mockClient.Objects["file1"]))
	assert.Equal(t, "text/plain", mockClient.ContentTypes["file1"])

	got, err := store.Get(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	require.NoError(t, store.Delete(ctx, "file1"))
	assert.NotContains(t, mockClient.Objects, "file1")

	_, err = store.Get(ctx, "file1")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestS3BlobStoreErrors(t *testing.T) {
	ctx := context.Background()
	mockClient := newMockS3()
	mockClient.Fail = errors.New("throttled")
	store := &S3BlobStore{Client: mockClient, Bucket: "test-bucket"}

	assert.Error(t, store.Save(ctx, "k", []byte("x"), ""))
	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlobNotFound)
	assert.Error(t, store.Delete(ctx, "k"))
}
