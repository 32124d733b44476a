// Package storage persists captured screenshots in S3-compatible object
// storage. The stored object key is what threads reference as image_path.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Screenshots struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the screenshot bucket
// exists.
func New(ctx context.Context, cfg Config) (*Screenshots, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Screenshots{client: client, bucket: cfg.Bucket}, nil
}

// PutScreenshot uploads one captured viewer image and returns its object
// key.
func (s *Screenshots) PutScreenshot(ctx context.Context, projectID, filename string, data []byte) (string, error) {
	key := ObjectKey(projectID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("upload screenshot %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey builds a safe object key from a project id and the viewer's
// displayed filename.
func ObjectKey(projectID, filename string) string {
	name := sanitize(filename)
	if name == "" {
		name = "screenshot"
	}
	if !strings.Contains(name, ".") {
		name += ".png"
	}
	return sanitize(projectID) + "/" + name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
