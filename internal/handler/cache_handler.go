package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
	"github.com/noah-isme/seatwatch/pkg/response"
)

type courseCacheInvalidator interface {
	InvalidateInstitution(ctx context.Context, institution string) error
}

// CacheHandler lets operators drop cached course data.
type CacheHandler struct {
	courses courseCacheInvalidator
	logger  *zap.Logger
}

// NewCacheHandler constructs a cache handler.
func NewCacheHandler(courses courseCacheInvalidator, logger *zap.Logger) *CacheHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{courses: courses, logger: logger}
}

// InvalidateCourses godoc
// @Summary Drop cached course data of an institution
// @Tags Cache
// @Param institution path string true "Institution key"
// @Success 204
// @Router /ops/cache/courses/{institution} [delete]
func (h *CacheHandler) InvalidateCourses(c *gin.Context) {
	institution := strings.TrimSpace(c.Param("institution"))
	if institution == "" || strings.ContainsAny(institution, "*?[") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "institution key is required"))
		return
	}
	if err := h.courses.InvalidateInstitution(c.Request.Context(), institution); err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("course cache invalidated", zap.String("institution", institution), zap.String("operator", operatorName(c)))
	response.NoContent(c)
}
