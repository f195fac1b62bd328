package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/storage"
)

// fakeClient is an in-memory stand-in for the S3 API.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]map[int32][]byte
	aborted int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := strings.SplitN(aws.ToString(in.CopySource), "/", 2)[1]
	data, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.uploads[aws.ToString(in.UploadId)][aws.ToInt32(in.PartNumber)] = data
	f.mu.Unlock()
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	f.aborted++
	delete(f.uploads, aws.ToString(in.UploadId))
	f.mu.Unlock()
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newTestBackend(t *testing.T, client Client) *Backend {
	t.Helper()
	b, err := New(client, Config{Bucket: "sendme", Prefix: "blobs"}, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestBackend_SmallObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := newTestBackend(t, client)

	n, err := b.Save(ctx, "f1", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Contains(t, client.objects, "blobs/f1")

	rc, err := b.Load(ctx, "f1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	size, ok, err := b.GetSize(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), size)
}

func TestBackend_MultipartUpload(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := newTestBackend(t, client)

	payload := bytes.Repeat([]byte{0xAB}, MinPartSize*2+100)
	n, err := b.Save(ctx, "big", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, client.objects["blobs/big"])
	assert.Empty(t, client.uploads)
}

func TestBackend_NotFoundMapping(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, newFakeClient())

	_, err := b.Load(ctx, "missing")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	_, ok, err := b.GetSize(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := b.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = b.Move(ctx, storage.TempKey("missing"), "final")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestBackend_Move(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := newTestBackend(t, client)

	_, err := b.Save(ctx, storage.TempKey("u1"), strings.NewReader("payload"))
	require.NoError(t, err)

	ok, err := b.Move(ctx, storage.TempKey("u1"), storage.BlobKey("3", "u1"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NotContains(t, client.objects, "blobs/tmp/u1")
	assert.Equal(t, []byte("payload"), client.objects["blobs/users/3/u1"])
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(newFakeClient(), Config{}, zerolog.Nop())
	require.Error(t, err)
}
