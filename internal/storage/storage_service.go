// Package storage keeps encoded thumbnails in S3-compatible object storage
// (AWS S3 or MinIO), one object per check-in under a common prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kosumphisai/koshare/backend/internal/config"
)

// DefaultPrefix is the key prefix for thumbnail objects
const DefaultPrefix = "thumbnails/"

// deleteBatchSize is the S3 limit for DeleteObjects
const deleteBatchSize = 1000

// StorageService handles S3/MinIO operations for thumbnail storage
type StorageService struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewStorageService creates a new storage service with S3/MinIO client
func NewStorageService(cfg *config.StorageConfig) (*StorageService, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is not configured")
	}

	// Build endpoint URL - handle case where endpoint already includes protocol
	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true, // Required for MinIO
		// MinIO and older gateways reject the default trailing checksums.
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &StorageService{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Key returns the object key for a check-in id
func (s *StorageService) Key(checkInID string) string {
	return s.prefix + checkInID
}

// IDFromKey is the inverse of Key
func (s *StorageService) IDFromKey(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *StorageService) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Ping checks that the bucket is reachable
func (s *StorageService) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Put stores the encoded thumbnail for checkInID
func (s *StorageService) Put(ctx context.Context, checkInID, data string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(checkInID)),
		Body:          strings.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload thumbnail %s: %w", checkInID, err)
	}
	return nil
}

// Get returns the encoded thumbnail or "" when there is none
func (s *StorageService) Get(ctx context.Context, checkInID string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(checkInID)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to download thumbnail %s: %w", checkInID, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read thumbnail %s: %w", checkInID, err)
	}
	return string(body), nil
}

// Delete removes the thumbnail object. Deleting a missing object succeeds.
func (s *StorageService) Delete(ctx context.Context, checkInID string) error {
	return s.DeleteObject(ctx, s.Key(checkInID))
}

// DeleteObject deletes a single object from S3
func (s *StorageService) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// DeleteByKeys deletes objects in batches and returns how many were removed
func (s *StorageService) DeleteByKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for i := 0; i < len(keys); i += deleteBatchSize {
		end := i + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		batch := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			batch = append(batch, types.ObjectIdentifier{Key: aws.String(key)})
		}

		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects: %w", err)
		}
		deleted += len(batch) - len(output.Errors)
	}
	return deleted, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
