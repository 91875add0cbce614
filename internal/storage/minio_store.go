package storage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
)

const tempPrefix = "tmp/"

// MinioStore keeps blobs as objects in one bucket. Temporary blobs live under
// the tmp/ prefix; Commit is a server-side copy followed by removal.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore wraps an initialized client and bucket.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// WriteTemp uploads r under a fresh tmp/ key.
func (s *MinioStore) WriteTemp(ctx context.Context, r io.Reader) (*TempBlob, error) {
	key := tempPrefix + uuid.NewString()
	cr := newCountingReader(ctx, r)
	_, err := s.client.PutObject(ctx, s.bucket, key, cr, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		// A multipart upload aborted mid-stream leaves no object, but a
		// completed one racing the cancellation might.
		_ = s.client.RemoveObject(context.WithoutCancel(ctx), s.bucket, key, minio.RemoveObjectOptions{})
		return nil, errors.Wrap(err, "failed to upload to MinIO")
	}
	return &TempBlob{Key: key, Size: cr.bytes}, nil
}

// Commit copies the temporary object to finalKey and removes the original.
func (s *MinioStore) Commit(ctx context.Context, tmp *TempBlob, finalKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: finalKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: tmp.Key},
	)
	if err != nil {
		return errors.Wrapf(err, "could not copy %s to %s", tmp.Key, finalKey)
	}
	// The final object exists; a stale temp object is left to PurgeTemp.
	_ = s.client.RemoveObject(ctx, s.bucket, tmp.Key, minio.RemoveObjectOptions{})
	return nil
}

// DeleteIfExists removes key. S3 semantics make a missing key a no-op.
func (s *MinioStore) DeleteIfExists(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return errors.Wrapf(err, "could not delete %s", key)
	}
	return nil
}

// Read opens the object stored under key.
func (s *MinioStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to retrieve %s", key)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, errors.Wrapf(err, "unable to retrieve %s", key)
	}
	return obj, nil
}

// PurgeTemp removes tmp/ objects last modified before olderThan.
func (s *MinioStore) PurgeTemp(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: tempPrefix, Recursive: true}) {
		if info.Err != nil {
			return removed, errors.Wrap(info.Err, "could not list temporary objects")
		}
		if !info.LastModified.Before(olderThan) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, errors.Wrapf(err, "could not delete temporary object %s", info.Key)
		}
		removed++
	}
	return removed, nil
}
