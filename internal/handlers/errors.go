package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"musicaltracker/api/internal/media"
)

// writeError renders pipeline errors as {"error": ...} or, when validation
// found several problems at once, {"errors": [...]}.
func (h HandlerSet) writeError(c *gin.Context, err error) {
	problems := media.Errors(err)
	if len(problems) == 0 {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unclassified error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if problems[0].Retryable() {
		c.Header("Retry-After", "1")
	}

	if len(problems) == 1 {
		status, msg := present(c.Request.Method, problems[0])
		c.JSON(status, gin.H{"error": msg})
		return
	}

	status, _ := present(c.Request.Method, problems[0])
	messages := make([]string, 0, len(problems))
	for _, p := range problems {
		_, msg := present(c.Request.Method, p)
		messages = append(messages, msg)
	}
	c.JSON(status, gin.H{"errors": messages})
}

func present(method string, e *media.Error) (int, string) {
	switch e.Kind {
	case media.KindMalformedInput:
		return http.StatusBadRequest, "file is empty or too small to be an image"
	case media.KindInvalidRequest:
		return http.StatusBadRequest, e.Detail
	case media.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType, "unsupported image format, upload a JPEG, PNG or WebP file"
	case media.KindCorruptImage:
		return http.StatusUnsupportedMediaType, "image data is corrupt or incomplete"
	case media.KindSizeExceeded:
		return http.StatusRequestEntityTooLarge, e.Error()
	case media.KindDimensionOutOfRange:
		return http.StatusUnprocessableEntity, e.Error()
	case media.KindProcessing:
		return http.StatusInternalServerError, "could not process image"
	case media.KindStorage:
		if e.Reason == media.ReasonMisconfigured {
			return http.StatusInternalServerError, "server misconfigured"
		}
		if method == http.MethodDelete {
			return http.StatusServiceUnavailable, "delete failed, try again"
		}
		return http.StatusServiceUnavailable, "upload failed, try again"
	case media.KindPersistence:
		return http.StatusInternalServerError, "could not save image metadata, try again"
	case media.KindCancelled:
		return http.StatusRequestTimeout, "request cancelled"
	case media.KindAuthorization:
		return http.StatusForbidden, "forbidden"
	case media.KindNotFound:
		return http.StatusNotFound, "not found"
	}
	return http.StatusInternalServerError, "internal server error"
}
