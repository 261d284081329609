// Package media stores activity proof files in an S3-compatible bucket.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"civicconnect/api/internal/util"
)

// MaxProofSize bounds a single proof upload.
const MaxProofSize = 10 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service uploads proof objects and mints short-lived download links.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and ensures the bucket exists.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// PutProof uploads one proof file for a user and returns its object key.
// Keys are server-generated so callers cannot overwrite each other's objects.
func (s *Service) PutProof(ctx context.Context, userID, contentType string, body io.Reader, size int64) (string, error) {
	ext, ok := allowedContentTypes[normalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported proof content type %q", contentType)
	}
	if size <= 0 || size > MaxProofSize {
		return "", fmt.Errorf("proof size must be between 1 and %d bytes", MaxProofSize)
	}

	key := path.Join("proof", userID, util.NewID("prf")+ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: normalizeContentType(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload proof: %w", err)
	}
	return key, nil
}

// ProofURL returns a presigned GET link for a stored proof object.
func (s *Service) ProofURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign proof url: %w", err)
	}
	return u.String(), nil
}

// RemoveProof deletes a stored proof object.
func (s *Service) RemoveProof(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove proof: %w", err)
	}
	return nil
}

func normalizeContentType(value string) string {
	if i := strings.Index(value, ";"); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
