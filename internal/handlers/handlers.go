package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"musicaltracker/api/internal/config"
	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/middleware"
	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/service"
)

// ImageService is the pipeline contract the handlers drive.
type ImageService interface {
	Upload(ctx context.Context, in service.UploadInput) (service.UploadResult, error)
	Delete(ctx context.Context, caller models.Caller, id string) error
	Update(ctx context.Context, caller models.Caller, id string, patch models.ImagePatch) (models.Image, error)
	Get(ctx context.Context, id string) (models.Image, error)
	List(ctx context.Context, caller models.Caller, ownerID string, class *media.Class) ([]models.Image, error)
	ListPendingDeletes(ctx context.Context, caller models.Caller, limit int) ([]models.Image, error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	images  ImageService
	checks  []HealthCheck
	maxBody int64
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, images ImageService, checks ...HealthCheck) HandlerSet {
	return HandlerSet{
		log:    log,
		cfg:    cfg,
		images: images,
		checks: checks,
		// Oversized files still reach the validator so it can report their
		// real size; anything past twice the largest ceiling is cut off here.
		maxBody: 2*media.LargestCeiling() + media.MiB,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(h.cfg.Security.JWTSecret))

	images := v1.Group("/images")
	images.POST("", middleware.ConcurrencyLimit(h.cfg.Upload.MaxConcurrent), h.UploadImage)
	images.GET("", h.ListImages)
	images.GET("/:id", h.GetImage)
	images.PATCH("/:id", h.UpdateImage)
	images.DELETE("/:id", h.DeleteImage)

	admin := v1.Group("/admin")
	admin.Use(middleware.RequireRoles(models.UserRoleAdmin))
	admin.GET("/images/pending", h.AdminListPendingImages)
}
