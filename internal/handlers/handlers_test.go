package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicaltracker/api/internal/config"
	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/security"
	"musicaltracker/api/internal/service"
)

const secret = "test-secret"

type fakeImages struct {
	uploadIn  service.UploadInput
	uploadRes service.UploadResult
	err       error
	deleted   string
	patch     models.ImagePatch
	listOwner string
	listClass *media.Class
	images    []models.Image
}

func (f *fakeImages) Upload(_ context.Context, in service.UploadInput) (service.UploadResult, error) {
	f.uploadIn = in
	return f.uploadRes, f.err
}

func (f *fakeImages) Delete(_ context.Context, _ models.Caller, id string) error {
	f.deleted = id
	return f.err
}

func (f *fakeImages) Update(_ context.Context, _ models.Caller, id string, patch models.ImagePatch) (models.Image, error) {
	f.patch = patch
	return models.Image{ID: id}, f.err
}

func (f *fakeImages) Get(_ context.Context, id string) (models.Image, error) {
	if f.err != nil {
		return models.Image{}, f.err
	}
	return models.Image{ID: id, ImageType: media.ClassPoster, Status: models.ImageStatusActive}, nil
}

func (f *fakeImages) List(_ context.Context, _ models.Caller, ownerID string, class *media.Class) ([]models.Image, error) {
	f.listOwner, f.listClass = ownerID, class
	return f.images, f.err
}

func (f *fakeImages) ListPendingDeletes(_ context.Context, _ models.Caller, _ int) ([]models.Image, error) {
	return f.images, f.err
}

func newRouter(images ImageService, checks ...HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{Environment: "test"}
	cfg.Security.JWTSecret = secret
	cfg.Upload.MaxConcurrent = 2

	engine := gin.New()
	NewHandlerSet(zerolog.Nop(), cfg, images, checks...).Register(engine.Group("/api"))
	return engine
}

func bearer(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	token, err := security.GenerateAccessToken(secret, userID, string(role), time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func uploadRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "poster.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUploadCreated(t *testing.T) {
	images := &fakeImages{uploadRes: service.UploadResult{
		ID: "img1", URL: "https://cdn/k.jpg", Width: 1200, Height: 900, SizeBytes: 4096, ImageType: media.ClassPoster,
	}}
	router := newRouter(images)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{
		"imageType":  "poster",
		"entityType": "musical",
		"entityId":   "m1",
		"quality":    "70",
	}, []byte("file-bytes")))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "img1", body["id"])
	assert.Equal(t, float64(4096), body["fileSizeBytes"])
	assert.Equal(t, "poster", body["imageType"])

	assert.Equal(t, "u1", images.uploadIn.Caller.UserID)
	assert.Equal(t, media.ClassPoster, images.uploadIn.Class)
	assert.Equal(t, "musical", images.uploadIn.OwnerKind)
	assert.Equal(t, []byte("file-bytes"), images.uploadIn.Data)
	assert.Equal(t, "poster.jpg", images.uploadIn.Filename)
	require.NotNil(t, images.uploadIn.Options)
	assert.Equal(t, 70, images.uploadIn.Options.Quality)
}

func TestUploadBadRequests(t *testing.T) {
	router := newRouter(&fakeImages{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster"}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "banner"}, []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster", "quality": "0"}, []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadOutputFormat(t *testing.T) {
	for _, format := range []string{"gif", "webp", "bmp"} {
		images := &fakeImages{}
		router := newRouter(images)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster", "format": format}, []byte("file-bytes")))
		assert.Equal(t, http.StatusBadRequest, rec.Code, format)
		assert.Equal(t, "format must be jpeg or png", decode(t, rec)["error"], format)
		assert.Nil(t, images.uploadIn.Data, format)
	}

	images := &fakeImages{}
	router := newRouter(images)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster", "format": "JPG"}, []byte("file-bytes")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, images.uploadIn.Options)
	assert.Equal(t, media.FormatJPEG, images.uploadIn.Options.Format)
}

func TestUploadInvalidClassSkipsService(t *testing.T) {
	images := &fakeImages{}
	router := newRouter(images)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "banner"}, make([]byte, 4*media.MiB)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "imageType")
	assert.Nil(t, images.uploadIn.Data)
}

func TestUploadRequiresToken(t *testing.T) {
	router := newRouter(&fakeImages{})
	req := uploadRequest(t, map[string]string{"imageType": "poster"}, []byte("x"))
	req.Header.Del("Authorization")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadBodyCap(t *testing.T) {
	router := newRouter(&fakeImages{})
	huge := make([]byte, 2*media.LargestCeiling()+2*media.MiB)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster"}, huge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"malformed", &media.Error{Kind: media.KindMalformedInput}, http.StatusBadRequest, "too small"},
		{"unsupported", &media.Error{Kind: media.KindUnsupportedFormat}, http.StatusUnsupportedMediaType, "unsupported image format"},
		{"corrupt", &media.Error{Kind: media.KindCorruptImage}, http.StatusUnsupportedMediaType, "corrupt"},
		{"size", &media.Error{Kind: media.KindSizeExceeded, Class: media.ClassPoster, Limit: 5 * media.MiB, Actual: 6 * media.MiB}, http.StatusRequestEntityTooLarge, "exceeds the 5MB limit"},
		{"dimension", &media.Error{Kind: media.KindDimensionOutOfRange, Reason: media.ReasonTooLarge, Limit: 10000, Actual: 12000}, http.StatusUnprocessableEntity, "10000px"},
		{"pixels", &media.Error{Kind: media.KindDimensionOutOfRange, Reason: media.ReasonTooManyPixels, Limit: 50_000_000, Actual: 64_000_000}, http.StatusUnprocessableEntity, "64000000 pixels exceeds"},
		{"output format", &media.Error{Kind: media.KindInvalidRequest, Detail: `output format "gif" is not supported`}, http.StatusBadRequest, "gif"},
		{"processing", media.NewError(media.KindProcessing, media.ReasonBufferTooLarge, nil), http.StatusInternalServerError, "could not process image"},
		{"misconfigured", media.NewError(media.KindStorage, media.ReasonMisconfigured, nil), http.StatusInternalServerError, "server misconfigured"},
		{"transient", media.NewError(media.KindStorage, media.ReasonTransient, nil), http.StatusServiceUnavailable, "upload failed, try again"},
		{"cancelled", media.NewError(media.KindCancelled, "", context.Canceled), http.StatusRequestTimeout, "cancelled"},
		{"aborted", &service.AbortError{From: service.StateStored, Err: media.NewError(media.KindPersistence, "", errors.New("x"))}, http.StatusInternalServerError, "metadata"},
		{"plain", errors.New("surprise"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&fakeImages{err: tc.err})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster"}, []byte("x")))

			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tc.msg)
		})
	}
}

func TestRetryAfterOnTransientFailure(t *testing.T) {
	router := newRouter(&fakeImages{err: media.NewError(media.KindStorage, media.ReasonTransient, nil)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "poster"}, []byte("x")))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMultipleProblems(t *testing.T) {
	err := multierror.Append(nil,
		&media.Error{Kind: media.KindSizeExceeded, Class: media.ClassThumbnail, Limit: media.MiB, Actual: 2 * media.MiB},
		&media.Error{Kind: media.KindDimensionOutOfRange, Reason: media.ReasonTooLarge, Limit: 10000, Actual: 10001},
	)
	router := newRouter(&fakeImages{err: err})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, map[string]string{"imageType": "thumbnail"}, []byte("x")))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	problems, ok := decode(t, rec)["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, problems, 2)
}

func TestDeleteImage(t *testing.T) {
	images := &fakeImages{}
	router := newRouter(images)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/images/img9", nil)
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "img9", images.deleted)
}

func TestDeleteErrors(t *testing.T) {
	router := newRouter(&fakeImages{err: &media.Error{Kind: media.KindNotFound}})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/images/missing", nil)
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	router = newRouter(&fakeImages{err: media.NewError(media.KindStorage, media.ReasonBlobDelete, nil)})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "delete failed, try again", decode(t, rec)["error"])
}

func TestListImagesPassesFilters(t *testing.T) {
	images := &fakeImages{images: []models.Image{{ID: "a", ImageType: media.ClassThumbnail}}}
	router := newRouter(images)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images?imageType=thumbnail&ownerId=u7", nil)
	req.Header.Set("Authorization", bearer(t, "root", models.UserRoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u7", images.listOwner)
	require.NotNil(t, images.listClass)
	assert.Equal(t, media.ClassThumbnail, *images.listClass)
	assert.Len(t, decode(t, rec)["items"], 1)
}

func TestUpdateImage(t *testing.T) {
	images := &fakeImages{}
	router := newRouter(images)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/images/img1", strings.NewReader(`{"originalFilename":"x.png"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, images.patch.OriginalFilename)
	assert.Equal(t, "x.png", *images.patch.OriginalFilename)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/images/img1", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateImageIgnoresURL(t *testing.T) {
	images := &fakeImages{}
	router := newRouter(images)

	patch := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/images/img1", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := patch(`{"url":"https://evil.example.com/x.jpg"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, images.patch.Empty())

	rec = patch(`{"url":"https://evil.example.com/x.jpg","entityId":"m2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, images.patch.EntityID)
	assert.Equal(t, "m2", *images.patch.EntityID)
	assert.Equal(t, models.ImagePatch{EntityID: images.patch.EntityID}, images.patch)
}

func TestAdminPendingRequiresAdmin(t *testing.T) {
	router := newRouter(&fakeImages{images: []models.Image{{ID: "p1", Status: models.ImageStatusDeletePending}}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/images/pending", nil)
	req.Header.Set("Authorization", bearer(t, "u1", models.UserRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", bearer(t, "root", models.UserRoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)
}

func TestHealth(t *testing.T) {
	router := newRouter(&fakeImages{},
		HealthCheck{Name: "database", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "storage", Check: func(context.Context) error { return errors.New("missing bucket") }},
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "error", checks["storage"])
}
