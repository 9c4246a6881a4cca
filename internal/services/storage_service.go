// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/revshare-backend/internal/config"
)

// ProofArchive stores serialized proof bundles outside the database.
type ProofArchive interface {
	Enabled() bool
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	GeneratePresignedURL(key string, expiration time.Duration) (string, error)
}

type StorageService struct {
	s3Client *s3.S3
	bucket   string
}

// NewStorageService returns a service without S3 when no credentials are
// configured; Enabled then reports false and archiving is skipped.
func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.AccessKeyID == "" {
		return &StorageService{bucket: cfg.ProofBucket}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		bucket:   cfg.ProofBucket,
	}, nil
}

func (s *StorageService) Enabled() bool {
	return s != nil && s.s3Client != nil
}

// ProofKey is the object key of a bundle: content prefix, then bundle hash.
func ProofKey(contentID, bundleHash string) string {
	return path.Join("proofs", contentID, bundleHash+".json")
}

func (s *StorageService) Put(ctx context.Context, key string, payload []byte) error {
	if !s.Enabled() {
		logrus.WithField("key", key).Debug("S3 not configured, skipping proof archive")
		return nil
	}

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *StorageService) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("S3 client not configured")
	}

	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *StorageService) GeneratePresignedURL(key string, expiration time.Duration) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("S3 client not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}
