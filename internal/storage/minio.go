// Package storage uploads patient images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	defaultBucket        = "diagnosis-images"
	defaultPresignExpiry = 7 * 24 * time.Hour
	objectPrefix         = "diagnoses"
)

// objectAPI is the subset of the MinIO client the image store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ImageStore writes images to a single bucket under date-partitioned keys.
type ImageStore struct {
	client        objectAPI
	bucket        string
	region        string
	publicBaseURL string
	presignExpiry time.Duration
	logger        *logrus.Logger
	now           func() time.Time
	newID         func() string
}

// NewImageStore creates a MinIO-backed image store
func NewImageStore(config domain.StorageConfig, logger *logrus.Logger) (*ImageStore, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: storage endpoint is required", domain.ErrInvalidInput)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newImageStore(client, config, logger), nil
}

func newImageStore(client objectAPI, config domain.StorageConfig, logger *logrus.Logger) *ImageStore {
	if config.Bucket == "" {
		config.Bucket = defaultBucket
	}
	if config.PresignExpiry <= 0 {
		config.PresignExpiry = defaultPresignExpiry
	}
	return &ImageStore{
		client:        client,
		bucket:        config.Bucket,
		region:        config.Region,
		publicBaseURL: strings.TrimSuffix(config.PublicBaseURL, "/"),
		presignExpiry: config.PresignExpiry,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.New().String() },
	}
}

// EnsureBucket creates the bucket if it does not exist
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.WithField("bucket", s.bucket).Info("Created image bucket")
	return nil
}

// Put uploads an image and returns where it can be fetched from
func (s *ImageStore) Put(ctx context.Context, name, contentType string, data []byte) (*domain.StoredImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectName := s.objectName(name)
	info, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-filename": filepath.Base(name),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload image %s: %w", objectName, err)
	}

	imageURL, err := s.objectURL(ctx, objectName)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"object": objectName,
		"size":   info.Size,
	}).Debug("Image uploaded")

	return &domain.StoredImage{URL: imageURL, StorageID: objectName}, nil
}

func (s *ImageStore) objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(objectPrefix, s.now().Format("2006/01/02"), s.newID()+ext)
}

func (s *ImageStore) objectURL(ctx context.Context, objectName string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + objectName, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", objectName, err)
	}
	return u.String(), nil
}
