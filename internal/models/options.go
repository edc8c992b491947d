package models

// ClipGenerationOptions controls clip selection and rendering for one
// job. Zero values mean "unset"; Normalize fills them in. Boolean knobs
// use pointers so JSON can distinguish an explicit false from unset.
type ClipGenerationOptions struct {
	MinDuration        int        `json:"min_duration,omitempty"`
	MaxDuration        int        `json:"max_duration,omitempty"`
	TargetClipCount    int        `json:"target_clip_count,omitempty"`
	Platforms          []Platform `json:"platforms,omitempty"`
	IncludeCaptions    *bool      `json:"include_captions,omitempty"`
	IncludeTransitions *bool      `json:"include_transitions,omitempty"`
	ViralityThreshold  int        `json:"virality_threshold,omitempty"`
	OverlapPrevention  *bool      `json:"overlap_prevention,omitempty"`
}

// Option defaults.
const (
	DefaultMinDuration       = 15
	DefaultMaxDuration       = 60
	DefaultTargetClipCount   = 10
	DefaultViralityThreshold = 70
)

func boolPtr(b bool) *bool { return &b }

// DefaultClipOptions returns a fully-populated options value.
func DefaultClipOptions() ClipGenerationOptions {
	return ClipGenerationOptions{
		MinDuration:     DefaultMinDuration,
		MaxDuration:     DefaultMaxDuration,
		TargetClipCount: DefaultTargetClipCount,
		Platforms: []Platform{
			PlatformYouTubeShorts,
			PlatformTikTok,
			PlatformInstagramReels,
			PlatformTwitter,
		},
		IncludeCaptions:    boolPtr(true),
		IncludeTransitions: boolPtr(true),
		ViralityThreshold:  DefaultViralityThreshold,
		OverlapPrevention:  boolPtr(true),
	}
}

// Normalize merges o over the documented defaults and returns the
// resolved options. This is the single merge point; nothing else in the
// pipeline interprets unset fields.
func (o ClipGenerationOptions) Normalize() ClipGenerationOptions {
	out := DefaultClipOptions()

	if o.MinDuration > 0 {
		out.MinDuration = o.MinDuration
	}
	if o.MaxDuration > 0 {
		out.MaxDuration = o.MaxDuration
	}
	if o.TargetClipCount > 0 {
		out.TargetClipCount = o.TargetClipCount
	}
	if len(o.Platforms) > 0 {
		out.Platforms = o.Platforms
	}
	if o.IncludeCaptions != nil {
		out.IncludeCaptions = o.IncludeCaptions
	}
	if o.IncludeTransitions != nil {
		out.IncludeTransitions = o.IncludeTransitions
	}
	if o.ViralityThreshold > 0 {
		out.ViralityThreshold = o.ViralityThreshold
	}
	if o.OverlapPrevention != nil {
		out.OverlapPrevention = o.OverlapPrevention
	}

	return out
}

// Captions reports whether caption burn-in was requested. Call on
// normalized options.
func (o ClipGenerationOptions) Captions() bool {
	return o.IncludeCaptions != nil && *o.IncludeCaptions
}

// Transitions reports whether transition effects were requested.
func (o ClipGenerationOptions) Transitions() bool {
	return o.IncludeTransitions != nil && *o.IncludeTransitions
}

// PreventOverlap reports whether overlap prevention is enabled.
func (o ClipGenerationOptions) PreventOverlap() bool {
	return o.OverlapPrevention != nil && *o.OverlapPrevention
}
