package service

import (
	"context"

	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/media/transform"
	"musicaltracker/api/internal/models"
)

type BlobStore interface {
	Put(ctx context.Context, data []byte, key, contentType string, attrs map[string]string) (string, error)
	Delete(ctx context.Context, key string) error
}

type MetadataStore interface {
	Create(ctx context.Context, image models.Image) (models.Image, error)
	Get(ctx context.Context, id string) (models.Image, error)
	ListByOwner(ctx context.Context, ownerID string, class *media.Class) ([]models.Image, error)
	ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]models.Image, error)
	Update(ctx context.Context, id string, patch models.ImagePatch) (models.Image, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Transformer interface {
	Process(data []byte, class media.Class, opts *transform.Options) (transform.Processed, error)
	MaxPixels() int64
}

type KeyDeriver interface {
	DeriveKey(class media.Class, ownerKind, ownerID, ext string) string
}

// OrphanReporter hands blobs left without metadata to offline reconciliation.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, storageKey, reason string) error
}
