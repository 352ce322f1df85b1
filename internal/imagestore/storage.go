// Package imagestore wraps MinIO/S3 interactions for scan images and
// generated reports.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/imagemedix/imagemedix/internal/config"
)

// Storage holds the MinIO client plus the two bucket names.
type Storage struct {
	client        *minio.Client
	scansBucket   string
	reportsBucket string
	region        string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		scansBucket:   cfg.ScansBucket,
		reportsBucket: cfg.ReportsBucket,
		region:        cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the scans/reports buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.scansBucket, s.reportsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadScan stores the raw scan image.
func (s *Storage) UploadScan(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.scansBucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload scan image: %w", err)
	}
	return nil
}

// UploadReport stores a generated report.
func (s *Storage) UploadReport(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	if _, err := s.client.PutObject(ctx, s.reportsBucket, objectKey, reader, int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	return nil
}

// DownloadReport fetches a stored report.
func (s *Storage) DownloadReport(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.reportsBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return buf, nil
}

// PresignScanURL returns a signed GET URL for the scan image, used both by
// clients viewing the image and by the model services fetching it.
func (s *Storage) PresignScanURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.scansBucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign scan image: %w", err)
	}
	return u.String(), nil
}
