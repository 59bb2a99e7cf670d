package models

import (
	"time"

	"musicaltracker/api/internal/media"
)

type ImageStatus string

const (
	ImageStatusActive ImageStatus = "active"
	// ImageStatusDeletePending marks a record whose blob could not be removed.
	// The row is kept as the only pointer to the live blob until a retry succeeds.
	ImageStatusDeletePending ImageStatus = "delete_pending"
)

type Image struct {
	ID               string
	OriginalFilename string
	StorageKey       string
	PublicURL        string
	SizeBytes        int64
	MimeType         string
	Width            int
	Height           int
	UploadedBy       string
	ImageType        media.Class
	EntityType       string
	EntityID         string
	Status           ImageStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ImagePatch carries the fields of a metadata update. Nil fields are left as they are.
type ImagePatch struct {
	OriginalFilename *string
	EntityType       *string
	EntityID         *string
	Status           *ImageStatus
}

func (p ImagePatch) Empty() bool {
	return p.OriginalFilename == nil && p.EntityType == nil && p.EntityID == nil && p.Status == nil
}
