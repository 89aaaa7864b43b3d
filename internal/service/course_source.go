package service

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/models"
)

// CourseSource fetches seat availability for one course group.
type CourseSource interface {
	FetchCourse(ctx context.Context, group models.CourseGroup) (*models.CourseData, error)
}

// CachedCourseSource serves repeated lookups of the same group from cache
// for the cache TTL. Failed lookups are never cached.
type CachedCourseSource struct {
	source CourseSource
	cache  *CacheService
	logger *zap.Logger
}

// NewCachedCourseSource decorates source with cache.
func NewCachedCourseSource(source CourseSource, cache *CacheService, logger *zap.Logger) *CachedCourseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCourseSource{source: source, cache: cache, logger: logger}
}

// FetchCourse implements CourseSource.
func (c *CachedCourseSource) FetchCourse(ctx context.Context, group models.CourseGroup) (*models.CourseData, error) {
	if !c.cache.Enabled() {
		return c.source.FetchCourse(ctx, group)
	}

	key := courseCacheKey(group)
	var cached models.CourseData
	if hit, _ := c.cache.Get(ctx, key, &cached); hit {
		c.logger.Debug("course cache hit", zap.String("group", group.String()))
		return &cached, nil
	}

	data, err := c.source.FetchCourse(ctx, group)
	if err != nil {
		return nil, err
	}
	if data != nil {
		_ = c.cache.Set(ctx, key, data)
	}
	return data, nil
}

// InvalidateInstitution drops every cached course of an institution.
func (c *CachedCourseSource) InvalidateInstitution(ctx context.Context, institution string) error {
	return c.cache.Invalidate(ctx, "course:"+url.QueryEscape(institution)+":*")
}

// courseCacheKey escapes every component so that no key part can contain the
// separator or a glob metacharacter.
func courseCacheKey(group models.CourseGroup) string {
	return "course:" + url.QueryEscape(group.Institution) +
		":" + url.QueryEscape(group.Term) +
		":" + url.QueryEscape(group.Course)
}
