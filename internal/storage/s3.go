package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage implements Provider on one bucket of an S3-compatible service
type S3Storage struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Storage creates a new S3-compatible storage provider
// Works with AWS S3, MinIO and other S3-compatible services
func NewS3Storage(endpoint, accessKey, secretKey, region, bucket string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("region", region).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("S3-compatible storage initialized")

	return &S3Storage{
		client: client,
		bucket: bucket,
		region: region,
	}, nil
}

// Name returns the provider name
func (s3 *S3Storage) Name() string {
	return "s3"
}

// Health checks that the bucket is reachable
func (s3 *S3Storage) Health(ctx context.Context) error {
	exists, err := s3.client.BucketExists(ctx, s3.bucket)
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("S3 bucket %q does not exist", s3.bucket)
	}
	return nil
}

// ReadFile downloads an object
func (s3 *S3Storage) ReadFile(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := s3.client.GetObject(ctx, s3.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return data, nil
}

// WriteFile uploads an object. A single PUT is atomic for S3 readers.
func (s3 *S3Storage) WriteFile(ctx context.Context, key string, data []byte) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}

	_, err = s3.client.PutObject(ctx, s3.bucket, cleaned, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  ContentTypeFor(cleaned),
		CacheControl: "public, max-age=31536000",
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().Str("bucket", s3.bucket).Str("key", cleaned).Int("size", len(data)).Msg("File uploaded to S3")
	return nil
}

// Delete removes an object and every object below key
func (s3 *S3Storage) Delete(ctx context.Context, key string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return fmt.Errorf("refusing to delete storage root")
	}

	if err := s3.client.RemoveObject(ctx, s3.bucket, cleaned, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	objects, err := s3.List(ctx, cleaned)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, strings.TrimSuffix(cleaned, "/")+"/") {
			continue
		}
		if err := s3.client.RemoveObject(ctx, s3.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("failed to delete %s from S3: %w", obj.Key, err)
		}
	}
	return nil
}

// List lists objects below prefix
func (s3 *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	cleaned, err := CleanKey(prefix)
	if err != nil {
		return nil, err
	}
	if cleaned != "" && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}

	var objects []Object
	for info := range s3.client.ListObjects(ctx, s3.bucket, minio.ListObjectsOptions{Prefix: cleaned, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", info.Err)
		}
		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}
