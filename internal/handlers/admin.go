package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"musicaltracker/api/internal/middleware"
)

// AdminListPendingImages lists records whose blob delete still has to be retried.
func (h HandlerSet) AdminListPendingImages(c *gin.Context) {
	limit := 50
	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	caller, _ := middleware.CurrentCaller(c)
	images, err := h.images.ListPendingDeletes(c.Request.Context(), caller, limit)
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
