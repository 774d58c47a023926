// Package storage uploads finished reports to S3 compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// objectStore is the subset of *miniogo.Client used here.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts miniogo.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

// Uploader copies report directories into a bucket.
type Uploader struct {
	client objectStore
	bucket string
}

// NewUploader creates a minio client. No network traffic happens until use.
func NewUploader(cfg Config) (*Uploader, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when missing.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
		slog.Info("bucket created", "bucket", u.bucket)
	}
	return nil
}

// UploadDir uploads every regular file under dir as <prefix>/<relative path>
// and returns the object keys in walk order.
func (u *Uploader) UploadDir(ctx context.Context, prefix, dir string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(prefix, rel)

		_, err = u.client.FPutObject(ctx, u.bucket, key, p, miniogo.PutObjectOptions{
			ContentType: contentType(p),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}

	slog.Info("report uploaded", "bucket", u.bucket, "prefix", prefix, "objects", len(keys))
	return keys, nil
}

// ObjectKey joins prefix and a relative OS path with forward slashes.
func ObjectKey(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
