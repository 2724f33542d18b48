// Package voicebank is the registry of known voicebanks — bundles of model
// weights and phoneme dictionaries addressed by id (spec.md GLOSSARY) —
// backing the `list_voicebanks` and `get_voicebank_info` CPU tools. Actual
// asset fetch/cache-on-disk behavior is an explicit Out-of-scope external
// collaborator per spec.md §1 ("Voicebank asset management ... interface-
// only"); this package only holds and serves metadata, plus the narrow
// [Fetcher] interface a real cache implementation would satisfy.
package voicebank

// Info is one voicebank's descriptive metadata, the shape `get_voicebank_info`
// returns and `list_voicebanks` enumerates.
type Info struct {
	// ID addresses the voicebank uniquely.
	ID string `yaml:"id" json:"id"`

	// Name is the display name.
	Name string `yaml:"name" json:"name"`

	// Language is the BCP-47-ish language/locale tag the voicebank sings in
	// (e.g. "ja", "en-US").
	Language string `yaml:"language" json:"language"`

	// Description is a free-text summary.
	Description string `yaml:"description" json:"description"`

	// Tags are searchable labels (e.g. "soprano", "demo", "licensed").
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// SampleRateHz is the voicebank's native output sample rate.
	SampleRateHz int `yaml:"sample_rate_hz" json:"sample_rate_hz"`

	// CacheSizeBytes is the approximate on-disk footprint once
	// materialized, informational only.
	CacheSizeBytes int64 `yaml:"cache_size_bytes,omitempty" json:"cache_size_bytes,omitempty"`
}

// IsValid reports whether info has the minimum fields a usable voicebank
// entry needs.
func (i Info) IsValid() bool {
	return i.ID != "" && i.Name != "" && i.Language != ""
}
