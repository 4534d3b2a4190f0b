package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/lock"
	"binstore/pkg/storage"
	"binstore/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// trashPrefix 隔离区前缀，和磁盘引擎的 trash/ 目录对应
const trashPrefix = storage.TrashDir + "/"

// API 是 Adapter 用到的 S3 操作子集，*s3.Client 满足它
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	storage.Base

	client API
	bucket string

	digest      core.Digest
	layout      storage.Layout
	tempDir     string
	lockDir     string
	registry    *lock.Registry
	lockTimeout time.Duration
	observer    storage.Observer
	now         func() time.Time

	pending storage.Pending
}

var _ storage.Store = (*Adapter)(nil)

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// 发布前在本地落盘计算摘要
	TempDir string
	// 锁文件仍然在本地：只协调共享这个目录的进程
	LockDir string

	Digest               core.Digest
	Layout               storage.Layout
	MinimumPersistedSize int64
	LockTimeout          time.Duration
	Locks                *lock.Registry
	Logger               *slog.Logger
	Observer             storage.Observer
	Clock                func() time.Time
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	a, err := NewWithClient(client, cfg)
	if err != nil {
		return nil, err
	}

	// 3. 自动创建 Bucket
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
			// 可能因为并发创建或权限问题报错，继续
			a.Logger.Warn("failed to ensure bucket exists", slog.String("bucket", cfg.Bucket), slog.Any("err", err))
		}
	}
	return a, nil
}

// NewWithClient 使用已有的客户端构造 Adapter
func NewWithClient(client API, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not set")
	}
	digest := cfg.Digest
	if digest == "" {
		digest = core.DefaultDigest
	}
	if err := digest.Validate(); err != nil {
		return nil, err
	}
	layout := cfg.Layout
	if layout == (storage.Layout{}) {
		layout = storage.DefaultLayout
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("store", "s3"), slog.String("bucket", cfg.Bucket))

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), "binstore-locks", cfg.Bucket)
	}
	registry := cfg.Locks
	if registry == nil {
		registry = lock.NewRegistry(logger)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	a := &Adapter{
		client:      client,
		bucket:      cfg.Bucket,
		digest:      digest,
		layout:      layout,
		tempDir:     tempDir,
		lockDir:     lockDir,
		registry:    registry,
		lockTimeout: cfg.LockTimeout,
		observer:    cfg.Observer,
		now:         now,
	}
	a.Base.Init(cfg.MinimumPersistedSize, logger)
	return a, nil
}

// objectKey 将 Key 转换为 S3 Key (Sharding)
// Logic: "aabbccdd..." -> "aa/bb/cc/aabbccdd..."
func (s *Adapter) objectKey(key types.Key) string {
	return strings.Join(s.layout.Segments(key), "/")
}

func (s *Adapter) trashKey(key types.Key) string {
	return trashPrefix + s.objectKey(key)
}

func (s *Adapter) lockPath(key types.Key) string {
	return filepath.Join(append([]string{s.lockDir}, s.layout.LockSegments(key)...)...)
}

// Put 上传对象
func (s *Adapter) Put(ctx context.Context, r io.Reader) (*core.Handle, error) {
	sp, err := storage.Spool(ctx, r, s.digest, s.tempDir)
	if err != nil {
		return nil, err
	}
	defer sp.Remove(s.Logger)

	if sp.Size < s.MinimumPersistedSize() {
		data, err := sp.ReadAll()
		if err != nil {
			return nil, err
		}
		s.observe(ctx, storage.EventInlined, sp.Key, sp.Size)
		return core.NewInline(sp.Key, data), nil
	}

	l, err := s.acquireWrite(ctx, sp.Key)
	if err != nil {
		return nil, err
	}
	defer s.release(l)

	// 1. 幂等性检查 (去重)：Head 请求比 Put 便宜且快
	if _, ok, err := s.head(ctx, s.objectKey(sp.Key)); err != nil {
		return nil, storage.Failure("head", sp.Key, err)
	} else if ok {
		s.Logger.Debug("dedup hit", slog.String("key", sp.Key.String()))
		s.observe(ctx, storage.EventDeduplicated, sp.Key, sp.Size)
		return core.NewStored(sp.Key, sp.Size, s), nil
	}

	restored, err := s.restoreLocked(ctx, sp.Key)
	if err != nil {
		return nil, err
	}
	if !restored {
		// 2. 执行上传
		f, err := os.Open(sp.Path)
		if err != nil {
			return nil, storage.Failure("open spool", sp.Path, err)
		}
		defer f.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.objectKey(sp.Key)),
			Body:          f,
			ContentLength: aws.Int64(sp.Size),
			ContentType:   aws.String("application/octet-stream"),
		})
		if err != nil {
			return nil, storage.Failure("s3 put", sp.Key, err)
		}
		s.observe(ctx, storage.EventStored, sp.Key, sp.Size)
	}
	return core.NewStored(sp.Key, sp.Size, s), nil
}

// Get 下载对象。隔离区中的对象先被复活。
func (s *Adapter) Get(ctx context.Context, key types.Key) (io.ReadCloser, error) {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		if err == nil {
			return resp.Body, nil
		}
		if !isNotFound(err) {
			return nil, storage.Failure("s3 get", key, err)
		}
		if err := s.ensureLive(ctx, key); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
}

// Has 检查对象是否存在 (存活或隔离)
func (s *Adapter) Has(ctx context.Context, key types.Key) (bool, error) {
	for _, k := range []string{s.objectKey(key), s.trashKey(key)} {
		_, ok, err := s.head(ctx, k)
		if err != nil {
			return false, storage.Failure("head", key, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Adapter) ensureLive(ctx context.Context, key types.Key) error {
	l, err := s.acquireWrite(ctx, key)
	if err != nil {
		return err
	}
	defer s.release(l)

	if _, ok, err := s.head(ctx, s.objectKey(key)); err != nil {
		return storage.Failure("head", key, err)
	} else if ok {
		return nil
	}
	restored, err := s.restoreLocked(ctx, key)
	if err != nil {
		return err
	}
	if !restored {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return nil
}

// restoreLocked 调用方必须持有 key 的写锁
func (s *Adapter) restoreLocked(ctx context.Context, key types.Key) (bool, error) {
	src := s.trashKey(key)
	head, ok, err := s.head(ctx, src)
	if err != nil {
		return false, storage.Failure("head", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := s.move(ctx, src, s.objectKey(key)); err != nil {
		return false, storage.Failure("restore", key, err)
	}
	s.Logger.Info("restored from quarantine", slog.String("key", key.String()))
	s.observe(ctx, storage.EventRestored, key, aws.ToInt64(head.ContentLength))
	return true, nil
}

// move S3 没有 rename：CopyObject 之后删除源对象
func (s *Adapter) move(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", src, err)
	}
	return nil
}

func (s *Adapter) head(ctx context.Context, objectKey string) (*s3.HeadObjectOutput, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		return out, true, nil
	}
	if isNotFound(err) {
		return nil, false, nil
	}
	return nil, false, err
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "StatusCode: 404")
}

func (s *Adapter) acquireWrite(ctx context.Context, key types.Key) (*lock.Lock, error) {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	l, err := s.registry.AcquireWriteContext(ctx, s.lockPath(key))
	if err != nil && !storage.IsRetryable(err) {
		return nil, storage.Failure("lock", key, err)
	}
	return l, err
}

func (s *Adapter) release(l *lock.Lock) {
	if err := l.Release(); err != nil {
		s.Logger.Warn("failed to release lock", slog.String("path", l.Path()), slog.Any("err", err))
	}
}

func (s *Adapter) observe(ctx context.Context, kind storage.EventKind, key types.Key, size int64) {
	if s.observer == nil {
		return
	}
	s.observer.Observe(ctx, storage.Event{Kind: kind, Key: key, Size: size, At: s.now()})
}
