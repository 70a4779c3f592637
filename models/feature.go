package models

import "sort"

// Feature is a named RAG content capability subject to entitlement and quota.
// Feature names form a closed catalog; strings outside the catalog are
// rejected at the service boundary with an unknown-feature error.
type Feature string

const (
	FeatureVendorInsights    Feature = "vendor_insights"
	FeatureCaseStudies       Feature = "case_studies"
	FeatureCallSummaries     Feature = "call_summaries"
	FeatureFollowupDrafts    Feature = "followup_drafts"
	FeatureObjectionHandling Feature = "objection_handling"
)

// FeatureSpec describes the global-scope defaults for a catalog feature
type FeatureSpec struct {
	Feature        Feature
	Description    string
	DefaultEnabled bool
}

// FeatureCatalog is the recognized feature set and its global defaults.
// The global default is the root of every inheritance chain.
var FeatureCatalog = map[Feature]FeatureSpec{
	FeatureVendorInsights: {
		Feature:        FeatureVendorInsights,
		Description:    "vendor and competitor insight retrieval",
		DefaultEnabled: false,
	},
	FeatureCaseStudies: {
		Feature:        FeatureCaseStudies,
		Description:    "case study retrieval for follow-up drafts",
		DefaultEnabled: false,
	},
	FeatureCallSummaries: {
		Feature:        FeatureCallSummaries,
		Description:    "call recording summary retrieval",
		DefaultEnabled: true,
	},
	FeatureFollowupDrafts: {
		Feature:        FeatureFollowupDrafts,
		Description:    "RAG-assisted follow-up message drafting",
		DefaultEnabled: true,
	},
	FeatureObjectionHandling: {
		Feature:        FeatureObjectionHandling,
		Description:    "objection handling snippet retrieval",
		DefaultEnabled: false,
	},
}

// IsKnownFeature reports whether the feature is in the catalog
func IsKnownFeature(f Feature) bool {
	_, ok := FeatureCatalog[f]
	return ok
}

// DefaultEnabled returns the global default for a catalog feature.
// Unknown features default to disabled; callers are expected to have
// validated the feature against the catalog first.
func DefaultEnabled(f Feature) bool {
	spec, ok := FeatureCatalog[f]
	if !ok {
		return false
	}
	return spec.DefaultEnabled
}

// Features returns every catalog feature in stable (sorted) order
func Features() []Feature {
	out := make([]Feature, 0, len(FeatureCatalog))
	for f := range FeatureCatalog {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
