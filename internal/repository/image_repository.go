package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"musicaltracker/api/internal/ids"
	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/models"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrMissingField  = errors.New("missing required field")
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and test doubles.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const imageColumns = `id, original_filename, storage_key, public_url, size_bytes, mime_type,
		       width, height, uploaded_by, image_type, entity_type, entity_id, status,
		       created_at, updated_at`

type ImageRepository struct {
	db DBTX
}

func NewImageRepository(db DBTX) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create inserts a new row. The id and timestamps are assigned here and in
// the database; whatever the caller put in them is ignored.
func (r *ImageRepository) Create(ctx context.Context, image models.Image) (models.Image, error) {
	if err := requireFields(image); err != nil {
		return models.Image{}, err
	}

	image.ID = ids.New()
	if image.Status == "" {
		image.Status = models.ImageStatusActive
	}

	const query = `
		INSERT INTO images (
			id, original_filename, storage_key, public_url, size_bytes, mime_type,
			width, height, uploaded_by, image_type, entity_type, entity_id, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			NOW(), NOW()
		)
		RETURNING created_at, updated_at
	`

	var createdAt, updatedAt time.Time
	err := r.db.QueryRow(ctx, query,
		image.ID,
		image.OriginalFilename,
		image.StorageKey,
		image.PublicURL,
		image.SizeBytes,
		image.MimeType,
		image.Width,
		image.Height,
		image.UploadedBy,
		string(image.ImageType),
		image.EntityType,
		image.EntityID,
		string(image.Status),
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return models.Image{}, fmt.Errorf("insert image: %w", err)
	}

	image.CreatedAt = createdAt
	image.UpdatedAt = updatedAt
	return image, nil
}

func requireFields(image models.Image) error {
	var missing []string
	if image.StorageKey == "" {
		missing = append(missing, "storage_key")
	}
	if image.PublicURL == "" {
		missing = append(missing, "public_url")
	}
	if image.UploadedBy == "" {
		missing = append(missing, "uploaded_by")
	}
	if image.ImageType == "" {
		missing = append(missing, "image_type")
	}
	if image.MimeType == "" {
		missing = append(missing, "mime_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

func (r *ImageRepository) Get(ctx context.Context, id string) (models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *ImageRepository) GetByStorageKey(ctx context.Context, key string) (models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE storage_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *ImageRepository) getOne(ctx context.Context, query string, args ...any) (models.Image, error) {
	image, err := scanImage(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}
	return image, nil
}

// ListByOwner returns the uploader's images, oldest first, optionally
// restricted to one class.
func (r *ImageRepository) ListByOwner(ctx context.Context, ownerID string, class *media.Class) ([]models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE uploaded_by = $1`
	args := []any{ownerID}
	if class != nil {
		args = append(args, string(*class))
		query += ` AND image_type = $2`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, args...)
}

func (r *ImageRepository) ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]models.Image, error) {
	query := `SELECT ` + imageColumns + `
		FROM images
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2`
	return r.list(ctx, query, string(status), limit)
}

func (r *ImageRepository) list(ctx context.Context, query string, args ...any) ([]models.Image, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []models.Image{}
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

// Update applies the non-nil fields of patch and always refreshes updated_at.
func (r *ImageRepository) Update(ctx context.Context, id string, patch models.ImagePatch) (models.Image, error) {
	args := []any{id}
	sets := make([]string, 0, 5)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.OriginalFilename != nil {
		set("original_filename", *patch.OriginalFilename)
	}
	if patch.EntityType != nil {
		set("entity_type", *patch.EntityType)
	}
	if patch.EntityID != nil {
		set("entity_id", *patch.EntityID)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE images SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + imageColumns
	return r.getOne(ctx, query, args...)
}

// Delete reports whether a row was removed.
func (r *ImageRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (models.Image, error) {
	var (
		image     models.Image
		imageType string
		status    string
	)
	if err := row.Scan(
		&image.ID,
		&image.OriginalFilename,
		&image.StorageKey,
		&image.PublicURL,
		&image.SizeBytes,
		&image.MimeType,
		&image.Width,
		&image.Height,
		&image.UploadedBy,
		&imageType,
		&image.EntityType,
		&image.EntityID,
		&status,
		&image.CreatedAt,
		&image.UpdatedAt,
	); err != nil {
		return models.Image{}, err
	}
	image.ImageType = media.Class(imageType)
	image.Status = models.ImageStatus(status)
	return image, nil
}
