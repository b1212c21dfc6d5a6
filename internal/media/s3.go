// internal/media/s3.go
// Package media stores evidence blobs. S3 (or any S3-compatible service such
// as MinIO) is used in production; a local directory backs development.
package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/custody"
)

// BlobStore is the blob half of the storage collaborator.
type BlobStore interface {
	// PutBlob stores content under key and returns a URL that resolves to it.
	PutBlob(ctx context.Context, key string, content []byte, contentType string) (string, error)
}

// BlobKey names an uploaded evidence file: evidence/<uuid>-<base name>.
func BlobKey(filename string) string {
	return path.Join("evidence", uuid.NewString()+"-"+filepath.Base(filename))
}

// DefaultURLExpiry is how long a presigned download URL stays valid.
const DefaultURLExpiry = 7 * 24 * time.Hour

// S3Client wraps the AWS S3 client for evidence blobs.
type S3Client struct {
	client    *s3.Client // AWS S3 client
	bucket    string     // S3 bucket name for evidence storage
	urlExpiry time.Duration
}

// NewS3Client creates a new S3 client for evidence storage.
// An empty endpoint uses AWS; empty keys fall back to the default credential chain.
func NewS3Client(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Client{
		client:    client,
		bucket:    bucket,
		urlExpiry: DefaultURLExpiry,
	}, nil
}

// PutBlob uploads content and returns a presigned GET URL for it. The
// SHA-256 of the content is kept in the object metadata.
func (s *S3Client) PutBlob(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"sha256": custody.Hash(content)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.DownloadURL(ctx, key)
}

// DownloadURL generates a presigned URL for reading key.
func (s *S3Client) DownloadURL(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignResult.URL, nil
}
