package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/models"
)

var columns = []string{
	"id", "original_filename", "storage_key", "public_url", "size_bytes", "mime_type",
	"width", "height", "uploaded_by", "image_type", "entity_type", "entity_id", "status",
	"created_at", "updated_at",
}

var stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *ImageRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return mock, NewImageRepository(mock)
}

func row(id, key string) *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		id, "cast.png", key, "https://cdn/"+key, int64(2048), "image/jpeg",
		1200, 900, "u1", "poster", "musical", "m1", "active",
		stamp, stamp,
	)
}

func TestCreate(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO images")).
		WithArgs(pgxmock.AnyArg(), "cast.png", "posters/musical/m1/p.jpg", "https://cdn/p.jpg",
			int64(2048), "image/jpeg", 1200, 900, "u1", "poster", "musical", "m1", "active").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(stamp, stamp))

	created, err := repo.Create(context.Background(), models.Image{
		OriginalFilename: "cast.png",
		StorageKey:       "posters/musical/m1/p.jpg",
		PublicURL:        "https://cdn/p.jpg",
		SizeBytes:        2048,
		MimeType:         "image/jpeg",
		Width:            1200,
		Height:           900,
		UploadedBy:       "u1",
		ImageType:        media.ClassPoster,
		EntityType:       "musical",
		EntityID:         "m1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.ImageStatusActive, created.Status)
	assert.Equal(t, stamp, created.CreatedAt)
}

func TestCreateRequiresFields(t *testing.T) {
	_, repo := newMock(t)
	_, err := repo.Create(context.Background(), models.Image{UploadedBy: "u1"})
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "storage_key")
	assert.Contains(t, err.Error(), "mime_type")
}

func TestCreateSurfacesDatabaseErrors(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO images")).
		WillReturnError(errors.New("unique violation"))

	_, err := repo.Create(context.Background(), models.Image{
		StorageKey: "k", PublicURL: "u", UploadedBy: "u1", ImageType: media.ClassPoster, MimeType: "image/jpeg",
	})
	assert.ErrorContains(t, err, "insert image")
}

func TestGet(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE id = $1")).
		WithArgs("img1").
		WillReturnRows(row("img1", "posters/musical/m1/p.jpg"))

	img, err := repo.Get(context.Background(), "img1")
	require.NoError(t, err)
	assert.Equal(t, "img1", img.ID)
	assert.Equal(t, media.ClassPoster, img.ImageType)
	assert.Equal(t, models.ImageStatusActive, img.Status)
	assert.Equal(t, int64(2048), img.SizeBytes)
}

func TestGetNotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestGetByStorageKey(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE storage_key = $1")).
		WithArgs("k1").
		WillReturnRows(row("img1", "k1"))

	img, err := repo.GetByStorageKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", img.StorageKey)
}

func TestListByOwnerFiltersClass(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE uploaded_by = $1 AND image_type = $2 ORDER BY created_at ASC, id ASC")).
		WithArgs("u1", "poster").
		WillReturnRows(row("a", "k1").AddRow(
			"b", "two.png", "k2", "https://cdn/k2", int64(10), "image/jpeg",
			100, 100, "u1", "poster", "musical", "m1", "active", stamp, stamp,
		))

	class := media.ClassPoster
	images, err := repo.ListByOwner(context.Background(), "u1", &class)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "a", images[0].ID)
	assert.Equal(t, "b", images[1].ID)
}

func TestListByOwnerEmpty(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE uploaded_by = $1 ORDER BY")).
		WithArgs("u2").
		WillReturnRows(pgxmock.NewRows(columns))

	images, err := repo.ListByOwner(context.Background(), "u2", nil)
	require.NoError(t, err)
	assert.NotNil(t, images)
	assert.Empty(t, images)
}

func TestListByStatus(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1")).
		WithArgs("delete_pending", 25).
		WillReturnRows(pgxmock.NewRows(columns))

	_, err := repo.ListByStatus(context.Background(), models.ImageStatusDeletePending, 25)
	require.NoError(t, err)
}

func TestUpdateBuildsSetClause(t *testing.T) {
	mock, repo := newMock(t)
	name := "renamed.png"
	status := models.ImageStatusDeletePending

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE images SET original_filename = $2, status = $3, updated_at = NOW() WHERE id = $1")).
		WithArgs("img1", "renamed.png", "delete_pending").
		WillReturnRows(row("img1", "k1"))

	_, err := repo.Update(context.Background(), "img1", models.ImagePatch{OriginalFilename: &name, Status: &status})
	require.NoError(t, err)
}

func TestUpdateMissingRow(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE images SET")).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Update(context.Background(), "nope", models.ImagePatch{})
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestDelete(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM images WHERE id = $1")).
		WithArgs("img1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM images WHERE id = $1")).
		WithArgs("img1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	removed, err := repo.Delete(context.Background(), "img1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(context.Background(), "img1")
	require.NoError(t, err)
	assert.False(t, removed)
}
