package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/audioscribe/pipeline/pkg/retry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	DefaultURLExpiry = 24 * time.Hour
	MaxURLExpiry     = 7 * 24 * time.Hour // S3 presign limit
	DefaultPartSize  = 16 << 20
)

// objectAPI is the subset of *minio.Client the storage client uses
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Options tunes a Client
type Options struct {
	URLExpiry time.Duration
	PartSize  uint64
	Retry     retry.Policy
}

// Client streams files to and from one bucket and mints capability URLs
type Client struct {
	api       objectAPI
	bucket    string
	urlExpiry time.Duration
	partSize  uint64
	retry     retry.Policy
}

// InitMinIOClient initializes and returns a MinIO client
func InitMinIOClient(endpoint, accessKey, secretKey, region string, useSSL bool) (*minio.Client, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minIO client init error: %w", err)
	}

	log.Printf("✓ MinIO client initialized: %s\n", endpoint)
	return minioClient, nil
}

// New creates a storage client for bucket
func New(api objectAPI, bucket string, opts Options) *Client {
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = DefaultURLExpiry
	}
	if opts.PartSize == 0 {
		opts.PartSize = DefaultPartSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	opts.Retry.Retryable = Retryable

	return &Client{
		api:       api,
		bucket:    bucket,
		urlExpiry: opts.URLExpiry,
		partSize:  opts.PartSize,
		retry:     opts.Retry,
	}
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket ensures the bucket exists, creates it if not
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return apperr.Storage("check bucket "+c.bucket, err)
	}

	if !exists {
		if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return apperr.Storage("create bucket "+c.bucket, err)
		}
		log.Printf("✓ Created bucket: %s\n", c.bucket)
	} else {
		log.Printf("✓ Bucket exists: %s\n", c.bucket)
	}

	return nil
}

// nonRetryableCodes are S3 error codes that no amount of retrying fixes
var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"NoSuchKey":             true,
	"InvalidBucketName":     true,
	"InvalidObjectName":     true,
	"EntityTooLarge":        true,
	"InvalidArgument":       true,
}

// Retryable reports whether a storage failure is transient
func Retryable(err error) bool {
	if !apperr.Retryable(err) {
		return false
	}

	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return true
	}
	if nonRetryableCodes[resp.Code] {
		return false
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return true
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false
	default:
		return true
	}
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
