package files

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/audioscribe/pipeline/pkg/database"
)

// Repository is the File persistence used by the service
type Repository interface {
	GetFile(ctx context.Context, id string) (*database.File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*database.File, error)
	SetURLs(ctx context.Context, id, blobURL, transcriptURL string) error
	DeleteFile(ctx context.Context, id string) error
}

// Objects is the object storage used for a File's blobs
type Objects interface {
	SignedURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, remotePath string) (bool, error)
}

// Service is the File surface offered to the request layer
type Service struct {
	files   Repository
	objects Objects
	urlTTL  time.Duration
}

func NewService(files Repository, objects Objects, urlTTL time.Duration) *Service {
	return &Service{files: files, objects: objects, urlTTL: urlTTL}
}

func (s *Service) Get(ctx context.Context, id string) (*database.File, error) {
	return s.files.GetFile(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*database.File, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

// Delete removes the File's source audio and transcript, then the record.
// A blob that fails to delete keeps the record so the delete can be
// retried; blobs that are already gone are skipped.
func (s *Service) Delete(ctx context.Context, id string) error {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		return err
	}

	for _, key := range blobKeys(f) {
		deleted, err := s.objects.Delete(ctx, key)
		if err != nil {
			log.Printf("[✗] Could not delete %s of file %s: %v\n", key, id, err)
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
		if !deleted {
			log.Printf("    [!] Blob %s of file %s was already gone\n", key, id)
		}
	}

	if err := s.files.DeleteFile(ctx, id); err != nil {
		return err
	}
	log.Printf("[✓] Deleted file %s (%s)\n", id, f.Filename)
	return nil
}

// RefreshURLs mints new capability URLs for a File's stored objects
func (s *Service) RefreshURLs(ctx context.Context, id string) (*database.File, error) {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}

	blobURL := f.BlobURL
	if f.BlobPath != "" {
		if blobURL, err = s.objects.SignedURL(ctx, f.BlobPath, s.urlTTL); err != nil {
			return nil, err
		}
	}

	var transcriptURL string
	if f.Status == database.StatusCompleted && f.TranscriptPath != nil && *f.TranscriptPath != "" {
		if transcriptURL, err = s.objects.SignedURL(ctx, *f.TranscriptPath, s.urlTTL); err != nil {
			return nil, err
		}
	}

	if err := s.files.SetURLs(ctx, id, blobURL, transcriptURL); err != nil {
		return nil, err
	}
	return s.files.GetFile(ctx, id)
}

func blobKeys(f *database.File) []string {
	var keys []string
	if f.BlobPath != "" {
		keys = append(keys, f.BlobPath)
	}
	if f.TranscriptPath != nil && *f.TranscriptPath != "" {
		keys = append(keys, *f.TranscriptPath)
	}
	return keys
}
