// Package media wraps the ffmpeg/ffprobe toolchain behind the Engine
// interface the orchestrator consumes: source metadata, frame sampling,
// and clip/thumbnail rendering.
package media

import (
	"context"
	"fmt"
)

// Frame is one decoded frame sampled from the source.
type Frame struct {
	Timestamp float64
	MIMEType  string
	Data      []byte
}

// Metadata describes the source video.
type Metadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Format   string
	Bitrate  int64
	Size     int64
}

// ClipSpec holds render settings for one output clip.
type ClipSpec struct {
	AspectRatio  string
	Width        int
	Height       int
	FPS          int
	IncludeAudio bool
}

// RenderInfo reports what a clip render produced.
type RenderInfo struct {
	FrameCount   int
	FPS          int
	Resolution   string
	FileSize     int64
	AudioEnabled bool
}

// Engine is the media collaborator boundary. The ffmpeg implementation
// is the production one; tests substitute fakes.
type Engine interface {
	// Metadata probes the source. Failures here are fatal for a job:
	// nothing downstream can run without a duration.
	Metadata(ctx context.Context, source string) (*Metadata, error)

	// SampleFrames extracts up to maxFrames frames at the given
	// interval in seconds, ordered by timestamp.
	SampleFrames(ctx context.Context, source string, interval float64, maxFrames int) ([]Frame, error)

	// RenderClip cuts [start, end) out of the source into outPath with
	// the given format.
	RenderClip(ctx context.Context, source string, start, end float64, spec ClipSpec, outPath string) (*RenderInfo, error)

	// RenderThumbnail writes a single frame at timestamp to outPath.
	RenderThumbnail(ctx context.Context, source string, timestamp float64, width, height int, outPath string) error
}

// ReadError marks a source as unreadable or undecodable. The
// orchestrator treats it as fatal for the job.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("media source %s unreadable: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
