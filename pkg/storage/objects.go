package storage

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/minio/minio-go/v7"
)

// SignedURL mints a read-only, time-boxed URL scoped to remotePath
func (c *Client) SignedURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	switch {
	case ttl <= 0:
		ttl = c.urlExpiry
	case ttl > MaxURLExpiry:
		ttl = MaxURLExpiry
	}

	u, err := c.api.PresignedGetObject(ctx, c.bucket, remotePath, ttl, nil)
	if err != nil {
		return "", apperr.Storage("presign "+remotePath, err)
	}
	return u.String(), nil
}

// Download writes remotePath to localPath, creating parent directories
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return apperr.Validation("local_path", "cannot create directory for %s: %v", localPath, err)
	}

	err := c.retry.Do(ctx, "download "+remotePath, func() error {
		err := c.api.FGetObject(ctx, c.bucket, remotePath, localPath, minio.GetObjectOptions{})
		if isNoSuchKey(err) {
			return apperr.NotFound("download", "object %s does not exist", remotePath)
		}
		if err != nil {
			return apperr.Storage("get "+remotePath, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("    [✓] Downloaded %s → %s\n", remotePath, localPath)
	return nil
}

// Delete removes remotePath. It returns false without error when the
// object does not exist.
func (c *Client) Delete(ctx context.Context, remotePath string) (bool, error) {
	var existed bool
	err := c.retry.Do(ctx, "delete "+remotePath, func() error {
		_, err := c.api.StatObject(ctx, c.bucket, remotePath, minio.StatObjectOptions{})
		if isNoSuchKey(err) {
			existed = false
			return nil
		}
		if err != nil {
			return apperr.Storage("stat "+remotePath, err)
		}

		if err := c.api.RemoveObject(ctx, c.bucket, remotePath, minio.RemoveObjectOptions{}); err != nil {
			return apperr.Storage("remove "+remotePath, err)
		}
		existed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if existed {
		log.Printf("    Deleted: %s\n", remotePath)
	}
	return existed, nil
}
