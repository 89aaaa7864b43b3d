package repository

import (
	"context"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

func TestMemoryCacheRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryCacheRepository(gocache.New(gocache.NoExpiration, time.Minute))
	ctx := context.Background()

	var miss models.CourseData
	assert.ErrorIs(t, repo.Get(ctx, "course:uni:2024FA:CS101", &miss), appErrors.ErrCacheMiss)

	data := models.CourseData{Sections: []models.Section{{ID: "001", Available: 2, Capacity: 30}}}
	require.NoError(t, repo.Set(ctx, "course:uni:2024FA:CS101", data, time.Minute))
	data.Sections[0].Available = 0

	var got models.CourseData
	require.NoError(t, repo.Get(ctx, "course:uni:2024FA:CS101", &got))
	assert.Equal(t, 2, got.Sections[0].Available)
}

func TestMemoryCacheRepositoryDeleteByPattern(t *testing.T) {
	repo := NewMemoryCacheRepository(gocache.New(gocache.NoExpiration, time.Minute))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "course:uni:2024FA:CS101", models.CourseData{}, time.Minute))
	require.NoError(t, repo.Set(ctx, "course:uni:2024FA:CS102", models.CourseData{}, time.Minute))
	require.NoError(t, repo.Set(ctx, "course:other:2024FA:CS101", models.CourseData{}, time.Minute))

	require.NoError(t, repo.DeleteByPattern(ctx, "course:uni:*"))

	var got models.CourseData
	assert.ErrorIs(t, repo.Get(ctx, "course:uni:2024FA:CS101", &got), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Get(ctx, "course:other:2024FA:CS101", &got))
}

func TestCacheRepositoryWithoutClientMisses(t *testing.T) {
	repo := NewCacheRepository(nil, "seatwatch", nil)
	var got models.CourseData
	assert.ErrorIs(t, repo.Get(context.Background(), "any", &got), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "any", got, time.Minute))
	assert.NoError(t, repo.Close())
}
