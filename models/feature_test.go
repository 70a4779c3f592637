package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnownFeature(t *testing.T) {
	t.Run("catalog features are known", func(t *testing.T) {
		for _, f := range Features() {
			assert.True(t, IsKnownFeature(f), "feature %s should be known", f)
		}
	})

	t.Run("arbitrary strings are rejected", func(t *testing.T) {
		assert.False(t, IsKnownFeature("vendor_insight"))
		assert.False(t, IsKnownFeature(""))
		assert.False(t, IsKnownFeature("VENDOR_INSIGHTS"))
	})
}

func TestDefaultEnabled(t *testing.T) {
	assert.True(t, DefaultEnabled(FeatureCallSummaries))
	assert.True(t, DefaultEnabled(FeatureFollowupDrafts))
	assert.False(t, DefaultEnabled(FeatureVendorInsights))
	assert.False(t, DefaultEnabled(FeatureCaseStudies))
	assert.False(t, DefaultEnabled(FeatureObjectionHandling))

	t.Run("unknown feature defaults to disabled", func(t *testing.T) {
		assert.False(t, DefaultEnabled("nonexistent"))
	})
}

func TestFeatures(t *testing.T) {
	features := Features()
	assert.Len(t, features, len(FeatureCatalog))

	// Stable order
	again := Features()
	assert.Equal(t, features, again)
	for i := 1; i < len(features); i++ {
		assert.True(t, features[i-1] < features[i], "features should be sorted")
	}
}
