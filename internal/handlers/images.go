package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/media/transform"
	"musicaltracker/api/internal/middleware"
	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/service"
)

type uploadResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	ImageType     string `json:"imageType"`
}

type imageResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"originalFilename"`
	URL              string    `json:"url"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	MimeType         string    `json:"mimeType"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	UploadedBy       string    `json:"uploadedBy"`
	ImageType        string    `json:"imageType"`
	EntityType       string    `json:"entityType,omitempty"`
	EntityID         string    `json:"entityId,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toImageResponse(img models.Image) imageResponse {
	return imageResponse{
		ID:               img.ID,
		OriginalFilename: img.OriginalFilename,
		URL:              img.PublicURL,
		FileSizeBytes:    img.SizeBytes,
		MimeType:         img.MimeType,
		Width:            img.Width,
		Height:           img.Height,
		UploadedBy:       img.UploadedBy,
		ImageType:        string(img.ImageType),
		EntityType:       img.EntityType,
		EntityID:         img.EntityID,
		Status:           string(img.Status),
		CreatedAt:        img.CreatedAt,
		UpdatedAt:        img.UpdatedAt,
	}
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	caller, ok := middleware.CurrentCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	header, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}

	class, err := media.ParseClass(c.PostForm("imageType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageType must be one of poster, profile, thumbnail"})
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("open multipart file failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", caller.UserID).Msg("read upload failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}

	result, err := h.images.Upload(c.Request.Context(), service.UploadInput{
		Caller:    caller,
		Data:      data,
		Filename:  header.Filename,
		Class:     class,
		OwnerKind: c.PostForm("entityType"),
		OwnerID:   c.PostForm("entityId"),
		Options:   opts,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{
		ID:            result.ID,
		URL:           result.URL,
		Width:         result.Width,
		Height:        result.Height,
		FileSizeBytes: result.SizeBytes,
		ImageType:     string(result.ImageType),
	})
}

// parseOptions reads the optional per-request overrides. Absent fields keep
// the class profile's values.
func parseOptions(c *gin.Context) (*transform.Options, error) {
	var opts transform.Options
	set := false

	ints := []struct {
		field string
		dst   *int
		max   int
	}{
		{"maxWidth", &opts.MaxWidth, media.MaxEdge},
		{"maxHeight", &opts.MaxHeight, media.MaxEdge},
		{"quality", &opts.Quality, 100},
	}
	for _, f := range ints {
		raw := strings.TrimSpace(c.PostForm(f.field))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > f.max {
			return nil, errors.New(f.field + " must be between 1 and " + strconv.Itoa(f.max))
		}
		*f.dst = v
		set = true
	}

	if raw := strings.TrimSpace(c.PostForm("format")); raw != "" {
		format := media.Format(strings.ToLower(raw))
		if format == "jpg" {
			format = media.FormatJPEG
		}
		if !transform.Encodable(format) {
			return nil, errors.New("format must be jpeg or png")
		}
		opts.Format = format
		set = true
	}
	if raw := strings.TrimSpace(c.PostForm("cropToSquare")); raw != "" {
		crop, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("cropToSquare must be true or false")
		}
		opts.CropToSquare = &crop
		set = true
	}

	if !set {
		return nil, nil
	}
	return &opts, nil
}

func (h HandlerSet) GetImage(c *gin.Context) {
	img, err := h.images.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": toImageResponse(img)})
}

func (h HandlerSet) ListImages(c *gin.Context) {
	caller, ok := middleware.CurrentCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var class *media.Class
	if raw := c.Query("imageType"); raw != "" {
		parsed, err := media.ParseClass(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "imageType must be one of poster, profile, thumbnail"})
			return
		}
		class = &parsed
	}

	images, err := h.images.List(c.Request.Context(), caller, c.Query("ownerId"), class)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]imageResponse, 0, len(images))
	for _, img := range images {
		items = append(items, toImageResponse(img))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type updateImageRequest struct {
	OriginalFilename *string `json:"originalFilename"`
	EntityType       *string `json:"entityType"`
	EntityID         *string `json:"entityId"`
}

func (h HandlerSet) UpdateImage(c *gin.Context) {
	caller, ok := middleware.CurrentCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req updateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	patch := models.ImagePatch{
		OriginalFilename: req.OriginalFilename,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	img, err := h.images.Update(c.Request.Context(), caller, c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": toImageResponse(img)})
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	caller, ok := middleware.CurrentCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.images.Delete(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
