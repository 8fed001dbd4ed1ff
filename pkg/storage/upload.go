package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/minio/minio-go/v7"
)

// ProgressSink receives byte-level upload progress. Implementations must
// not block: Progress may be called from the SDK's transfer goroutines.
type ProgressSink interface {
	Progress(percent float64, uploaded, total int64)
	Failed(err error)
}

type noopSink struct{}

func (noopSink) Progress(float64, int64, int64) {}
func (noopSink) Failed(error)                   {}

// uploadCeiling is the highest percentage reported while bytes are in
// flight; the last point is reached once the capability URL is minted.
const uploadCeiling = 99

// progressReader is handed to minio as PutObjectOptions.Progress. minio
// reads from it as many bytes as it has sent, possibly from several part
// uploads at once.
type progressReader struct {
	mu       sync.Mutex
	total    int64
	sent     int64
	best     float64
	reported int
	sink     ProgressSink
}

func newProgressReader(total int64, sink ProgressSink) *progressReader {
	return &progressReader{total: total, sink: sink, reported: -1}
}

// restart is called before each attempt. Reported progress keeps its
// high-water mark so a retry never moves the bar backwards.
func (p *progressReader) restart() {
	p.mu.Lock()
	p.sent = 0
	p.mu.Unlock()
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent += int64(n)
	if p.sent > p.total {
		p.sent = p.total
	}

	pct := float64(p.sent) / float64(p.total) * 100
	if pct > uploadCeiling {
		pct = uploadCeiling
	}
	if pct > p.best {
		p.best = pct
	}

	// One report per whole percent keeps the progress store quiet
	if whole := int(p.best); whole > p.reported || p.sent == p.total {
		p.reported = whole
		p.sink.Progress(p.best, p.sent, p.total)
	}
	return n, nil
}

// Upload streams localPath to remotePath and returns a read-only capability
// URL for the stored object. On failure the sink is marked errored and the
// caller owns cleanup of the local file.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, sink ProgressSink) (string, error) {
	if sink == nil {
		sink = noopSink{}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		verr := apperr.Validation("local_path", "file not found at path: %s", localPath)
		sink.Failed(verr)
		return "", verr
	}
	if info.IsDir() {
		verr := apperr.Validation("local_path", "path is a directory: %s", localPath)
		sink.Failed(verr)
		return "", verr
	}
	if info.Size() == 0 {
		verr := apperr.Validation("local_path", "file is empty (0 bytes): %s", localPath)
		sink.Failed(verr)
		return "", verr
	}

	size := info.Size()
	log.Printf("    [↑] Uploading %s → %s/%s (%.2f MB)\n", localPath, c.bucket, remotePath, float64(size)/1024/1024)

	reader := newProgressReader(size, sink)
	err = c.retry.Do(ctx, "upload "+remotePath, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return apperr.Validation("local_path", "cannot open %s: %v", localPath, err)
		}
		defer f.Close()

		reader.restart()
		_, err = c.api.PutObject(ctx, c.bucket, remotePath, f, size, minio.PutObjectOptions{
			ContentType: ContentType(localPath),
			PartSize:    c.partSize,
			Progress:    reader,
		})
		if err != nil {
			return apperr.Storage("put "+remotePath, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("    [✗] Upload of %s failed: %v\n", remotePath, err)
		sink.Failed(err)
		return "", err
	}

	url, err := c.SignedURL(ctx, remotePath, c.urlExpiry)
	if err != nil {
		log.Printf("    [✗] Could not mint URL for %s: %v\n", remotePath, err)
		sink.Failed(err)
		return "", err
	}

	log.Printf("    [✓] Uploaded %s (%d bytes)\n", remotePath, size)
	return url, nil
}

// UploadBytes stores a small in-memory payload and returns a capability
// URL for it. An empty contentType is derived from remotePath.
func (c *Client) UploadBytes(ctx context.Context, data []byte, remotePath, contentType string) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation("data", "payload for %s is empty", remotePath)
	}
	if contentType == "" {
		contentType = ContentType(remotePath)
	}

	err := c.retry.Do(ctx, "upload "+remotePath, func() error {
		info, err := c.api.PutObject(ctx, c.bucket, remotePath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return apperr.Storage("put "+remotePath, err)
		}
		log.Printf("    [✓] Successfully uploaded: %s/%s (size: %d bytes)\n", c.bucket, remotePath, info.Size)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload bytes: %w", err)
	}

	return c.SignedURL(ctx, remotePath, c.urlExpiry)
}
