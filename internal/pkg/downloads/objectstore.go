package downloads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/nurseshelf/nurseshelf/internal/pkg/config"
)

// Presigner issues short-lived GET URLs for stored product files.
type Presigner interface {
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// ObjectStore serves product files from an S3 compatible bucket.
type ObjectStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewObjectStore builds an S3 client from static credentials. A custom
// endpoint (MinIO, Backblaze B2) switches to path-style addressing.
func NewObjectStore(ctx context.Context, cfg config.S3) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Downloads] Object store ready for bucket: %s", cfg.Bucket)
	return &ObjectStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// PresignGet signs a GET for key that downloads as filename.
func (s *ObjectStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}
	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

// downloadName is the file name offered to the browser for key.
func downloadName(slug, key string) string {
	ext := path.Ext(key)
	if slug == "" {
		return path.Base(key)
	}
	return slug + ext
}
