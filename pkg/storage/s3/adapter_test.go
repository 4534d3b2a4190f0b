package s3

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"binstore/pkg/storage"
	"binstore/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. 测试辅助工具 (内存版 S3)
// -----------------------------------------------------------------------------

type fakeObject struct {
	data     []byte
	modified time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	puts    int
	now     time.Time
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string]fakeObject), now: time.Now()}
}

func (f *fakeS3) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeS3) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modified: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := strings.TrimPrefix(aws.ToString(in.CopySource), f.bucket+"/")
	obj, ok := f.objects[src]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: obj.data, modified: f.now}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false), KeyCount: aws.Int32(int32(len(names)))}
	for _, k := range names {
		obj := f.objects[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
	}
	return out, nil
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeS3) {
	t.Helper()
	fake := newFakeS3("binstore-test")
	a, err := NewWithClient(fake, Config{
		Bucket:  fake.bucket,
		TempDir: t.TempDir(),
		LockDir: t.TempDir(),
		Clock:   fake.Now,
	})
	require.NoError(t, err)
	return a, fake
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// -----------------------------------------------------------------------------
// 2. 单元测试
// -----------------------------------------------------------------------------

func TestS3Adapter_PutGetDedup(t *testing.T) {
	s, fake := newTestAdapter(t)
	ctx := context.Background()
	data := randomBytes(t, 10000)

	h1, err := s.Put(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	h2, err := s.Put(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, h1.Equal(h2))
	assert.Equal(t, 1, fake.puts, "重复内容不应该再次上传")

	hex := h1.Key().String()
	_, ok := fake.objects[hex[:2]+"/"+hex[2:4]+"/"+hex[4:6]+"/"+hex]
	assert.True(t, ok, "对象 Key 使用和磁盘一样的分片布局")

	rc, err := s.Get(ctx, h1.Key())
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	// 小内容不上传
	small, err := s.Put(ctx, strings.NewReader("tiny"))
	require.NoError(t, err)
	assert.True(t, small.IsInline())
	assert.Equal(t, 1, fake.puts)
}

func TestS3Adapter_QuarantineLifecycle(t *testing.T) {
	s, fake := newTestAdapter(t)
	ctx := context.Background()

	a, err := s.Put(ctx, bytes.NewReader(randomBytes(t, 5000)))
	require.NoError(t, err)
	b, err := s.Put(ctx, bytes.NewReader(randomBytes(t, 6000)))
	require.NoError(t, err)

	// 1. 隔离 a，两小时后隔离 b
	require.NoError(t, s.MarkUnused(ctx, []types.Key{a.Key()}))
	fake.Advance(2 * time.Hour)
	require.NoError(t, s.MarkUnused(ctx, []types.Key{b.Key()}))

	ok, err := s.Has(ctx, a.Key())
	require.NoError(t, err)
	assert.True(t, ok, "隔离区中的对象仍然存在")

	// 2. 一小时后清扫：只删除 a
	fake.Advance(time.Hour)
	res, err := s.SweepUnused(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []types.Key{a.Key()}, res.Removed)
	assert.Equal(t, int64(5000), res.Bytes)

	_, err = s.Get(ctx, a.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 3. Get 复活 b
	rc, err := s.Get(ctx, b.Key())
	require.NoError(t, err)
	rc.Close()
	_, inTrash := fake.objects[s.trashKey(b.Key())]
	assert.False(t, inTrash)
	_, live := fake.objects[s.objectKey(b.Key())]
	assert.True(t, live)
}

// -----------------------------------------------------------------------------
// 3. 集成测试 (需要本地 MinIO)
// -----------------------------------------------------------------------------

// 检查本地 MinIO 端口是否开放 (9000)
func isMinIOAvailable(t *testing.T) bool {
	host := "localhost:9000"
	conn, err := net.DialTimeout("tcp", host, 1*time.Second)
	if err != nil {
		t.Logf("MinIO not reachable at %s. Skipping integration tests.", host)
		return false
	}
	conn.Close()
	return true
}

func TestS3Adapter_Integration(t *testing.T) {
	if !isMinIOAvailable(t) {
		t.Skip("Skipping S3 integration tests (MinIO down)")
	}

	ctx := context.Background()
	store, err := NewAdapter(ctx, Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "binstore-test-bucket",
		AccessKeyID:     "admin",
		SecretAccessKey: "password",
		TempDir:         t.TempDir(),
		LockDir:         t.TempDir(),
	})
	require.NoError(t, err, "Failed to connect to MinIO")

	data := randomBytes(t, 8192)
	h, err := store.Put(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	exists, err := store.Has(ctx, h.Key())
	assert.NoError(t, err)
	assert.True(t, exists, "Object should exist in S3")

	reader, err := store.Get(ctx, h.Key())
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, data, content, "Content read from S3 should match")
}
