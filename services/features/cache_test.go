package features

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callsight/rag-control-plane/models"
)

func TestResolutionCacheGetSet(t *testing.T) {
	cache := NewResolutionCache(10, time.Minute)
	key := CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}

	assert.Nil(t, cache.Get(key))

	res := &Resolution{Feature: models.FeatureCallSummaries, Enabled: true, Source: models.SourceDefault}
	cache.Set(key, res)

	got := cache.Get(key)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestResolutionCacheTTLExpiry(t *testing.T) {
	cache := NewResolutionCache(10, 10*time.Millisecond)
	key := CacheKey{OrgID: uuid.New(), Feature: models.FeatureCaseStudies}

	cache.Set(key, &Resolution{Feature: models.FeatureCaseStudies})
	require.NotNil(t, cache.Get(key))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, cache.Get(key))
}

func TestResolutionCacheLRUEviction(t *testing.T) {
	cache := NewResolutionCache(2, time.Minute)

	k1 := CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}
	k2 := CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}
	k3 := CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}

	cache.Set(k1, &Resolution{})
	cache.Set(k2, &Resolution{})

	// Touch k1 so k2 becomes least recently used
	require.NotNil(t, cache.Get(k1))

	cache.Set(k3, &Resolution{})

	assert.NotNil(t, cache.Get(k1))
	assert.Nil(t, cache.Get(k2))
	assert.NotNil(t, cache.Get(k3))
}

func TestResolutionCacheInvalidateOrg(t *testing.T) {
	cache := NewResolutionCache(10, time.Minute)
	orgID := uuid.New()
	otherOrgID := uuid.New()

	cache.Set(CacheKey{OrgID: orgID, Feature: models.FeatureCallSummaries}, &Resolution{})
	cache.Set(CacheKey{OrgID: orgID, Feature: models.FeatureCaseStudies}, &Resolution{})
	cache.Set(CacheKey{OrgID: otherOrgID, Feature: models.FeatureCallSummaries}, &Resolution{})

	cache.InvalidateOrg(orgID)

	assert.Nil(t, cache.Get(CacheKey{OrgID: orgID, Feature: models.FeatureCallSummaries}))
	assert.Nil(t, cache.Get(CacheKey{OrgID: orgID, Feature: models.FeatureCaseStudies}))
	assert.NotNil(t, cache.Get(CacheKey{OrgID: otherOrgID, Feature: models.FeatureCallSummaries}))
}

func TestResolutionCacheInvalidateFeature(t *testing.T) {
	cache := NewResolutionCache(10, time.Minute)
	parentID := uuid.New()
	childID := uuid.New()

	cache.Set(CacheKey{OrgID: parentID, Feature: models.FeatureVendorInsights}, &Resolution{})
	cache.Set(CacheKey{OrgID: childID, Feature: models.FeatureVendorInsights}, &Resolution{})
	cache.Set(CacheKey{OrgID: childID, Feature: models.FeatureCaseStudies}, &Resolution{})

	cache.InvalidateFeature(models.FeatureVendorInsights)

	// Gone for every organization, not just the one that was written
	assert.Nil(t, cache.Get(CacheKey{OrgID: parentID, Feature: models.FeatureVendorInsights}))
	assert.Nil(t, cache.Get(CacheKey{OrgID: childID, Feature: models.FeatureVendorInsights}))
	assert.NotNil(t, cache.Get(CacheKey{OrgID: childID, Feature: models.FeatureCaseStudies}))
}

func TestResolutionCacheCleanupExpired(t *testing.T) {
	cache := NewResolutionCache(10, 10*time.Millisecond)

	cache.Set(CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}, &Resolution{})
	cache.Set(CacheKey{OrgID: uuid.New(), Feature: models.FeatureCaseStudies}, &Resolution{})

	time.Sleep(20 * time.Millisecond)
	removed := cache.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestResolutionCacheClear(t *testing.T) {
	cache := NewResolutionCache(10, time.Minute)
	cache.Set(CacheKey{OrgID: uuid.New(), Feature: models.FeatureCallSummaries}, &Resolution{})

	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Size)
}
