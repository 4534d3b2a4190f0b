package s3

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"binstore/pkg/lock"
	"binstore/pkg/storage"
	"binstore/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MarkUnused 把对象复制到 trash/ 前缀 (复制会刷新 LastModified) 再删除原对象
func (s *Adapter) MarkUnused(ctx context.Context, keys []types.Key) error {
	batch := s.pending.Drain(keys)

	var errs []error
	for i, key := range batch {
		if err := ctx.Err(); err != nil {
			s.pending.Add(batch[i:]...)
			errs = append(errs, err)
			break
		}
		err := s.quarantine(ctx, key)
		switch {
		case errors.Is(err, lock.ErrWouldBlock):
			s.Logger.Debug("content busy, quarantine deferred", slog.String("key", key.String()))
			s.pending.Add(key)
		case err != nil:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Adapter) Pending() int { return s.pending.Len() }

func (s *Adapter) quarantine(ctx context.Context, key types.Key) error {
	l, err := s.registry.TryAcquireWrite(s.lockPath(key))
	if err != nil {
		if errors.Is(err, lock.ErrWouldBlock) {
			return err
		}
		return storage.Failure("lock", key, err)
	}
	defer s.release(l)

	head, ok, err := s.head(ctx, s.objectKey(key))
	if err != nil {
		return storage.Failure("head", key, err)
	}
	if !ok {
		return nil
	}
	if err := s.move(ctx, s.objectKey(key), s.trashKey(key)); err != nil {
		return storage.Failure("quarantine", key, err)
	}
	s.observe(ctx, storage.EventQuarantined, key, aws.ToInt64(head.ContentLength))
	return nil
}

// SweepUnused 分页列出 trash/，删除 LastModified 早于截止时间的对象
func (s *Adapter) SweepUnused(ctx context.Context, olderThan time.Duration) (storage.SweepResult, error) {
	var (
		res  storage.SweepResult
		errs []error
	)
	if s.Pending() > 0 {
		if err := s.MarkUnused(ctx, nil); err != nil {
			errs = append(errs, err)
		}
	}

	cutoff := s.now().Add(-olderThan)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(trashPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			errs = append(errs, storage.Failure("s3 list", trashPrefix, err))
			break
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			key, err := types.ParseKey(path.Base(aws.ToString(obj.Key)))
			if err != nil {
				continue
			}
			size, removed, err := s.sweepOne(ctx, key, cutoff)
			switch {
			case errors.Is(err, lock.ErrWouldBlock):
				res.Skipped++
			case err != nil:
				errs = append(errs, err)
			case removed:
				res.Removed = append(res.Removed, key)
				res.Bytes += size
			}
		}
	}

	if len(res.Removed) > 0 || res.Skipped > 0 {
		s.Logger.Info("sweep finished",
			slog.Int("removed", len(res.Removed)),
			slog.Int64("bytes", res.Bytes),
			slog.Int("skipped", res.Skipped))
	}
	return res, errors.Join(errs...)
}

func (s *Adapter) sweepOne(ctx context.Context, key types.Key, cutoff time.Time) (int64, bool, error) {
	l, err := s.registry.TryAcquireWrite(s.lockPath(key))
	if err != nil {
		if errors.Is(err, lock.ErrWouldBlock) {
			return 0, false, err
		}
		return 0, false, storage.Failure("lock", key, err)
	}
	defer s.release(l)

	// 加锁后重新检查
	head, ok, err := s.head(ctx, s.trashKey(key))
	if err != nil {
		return 0, false, storage.Failure("head", key, err)
	}
	if !ok || head.LastModified == nil || !head.LastModified.Before(cutoff) {
		return 0, false, nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.trashKey(key)),
	}); err != nil {
		return 0, false, storage.Failure("s3 delete", key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	s.observe(ctx, storage.EventSwept, key, size)
	return size, true, nil
}
