package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FFmpegEngine implements Engine by shelling out to ffmpeg/ffprobe.
// Sources may be local paths or HTTP URLs; ffmpeg reads both.
type FFmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
}

// NewFFmpegEngine verifies the ffmpeg installation and prepares the
// temp directory for sampled frames.
func NewFFmpegEngine(tempDir string) (*FFmpegEngine, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &FFmpegEngine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
	}, nil
}

// Metadata probes the source with ffprobe.
func (e *FFmpegEngine) Metadata(ctx context.Context, source string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		source,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, &ReadError{Source: source, Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	var probe struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			Duration  string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration   string `json:"duration"`
			Size       string `json:"size"`
			BitRate    string `json:"bit_rate"`
			FormatName string `json:"format_name"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, &ReadError{Source: source, Err: fmt.Errorf("failed to parse ffprobe JSON: %w", err)}
	}

	md := &Metadata{Format: probe.Format.FormatName}
	if probe.Format.Duration != "" {
		md.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}
	if probe.Format.Size != "" {
		md.Size, _ = strconv.ParseInt(probe.Format.Size, 10, 64)
	}
	if probe.Format.BitRate != "" {
		md.Bitrate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		md.Width = stream.Width
		md.Height = stream.Height
		md.Codec = stream.CodecName
		if md.Duration == 0 && stream.Duration != "" {
			md.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
		}
		break
	}

	if md.Duration <= 0 {
		return nil, &ReadError{Source: source, Err: fmt.Errorf("source has no duration")}
	}

	return md, nil
}

// SampleFrames extracts frames at the given interval as JPEGs and reads
// them back into memory, ordered by timestamp.
func (e *FFmpegEngine) SampleFrames(ctx context.Context, source string, interval float64, maxFrames int) ([]Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %v", interval)
	}
	if maxFrames < 1 {
		return nil, fmt.Errorf("maxFrames must be at least 1, got %d", maxFrames)
	}

	outputDir, err := os.MkdirTemp(e.tempDir, "frames_")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(outputDir)

	outputPattern := filepath.Join(outputDir, "frame_%04d.jpg")
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", source,
		"-vf", fmt.Sprintf("fps=1/%g", interval),
		"-q:v", "2",
		"-frames:v", strconv.Itoa(maxFrames),
		"-y",
		outputPattern,
	)
	if err := cmd.Run(); err != nil {
		return nil, &ReadError{Source: source, Err: fmt.Errorf("frame extraction failed: %w", err)}
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
		}
		frames = append(frames, Frame{
			Timestamp: float64(i) * interval,
			MIMEType:  "image/jpeg",
			Data:      data,
		})
	}

	if len(frames) == 0 {
		return nil, &ReadError{Source: source, Err: fmt.Errorf("no frames decoded")}
	}
	return frames, nil
}

// RenderClip cuts and scales one clip. The scale/crop filter letterboxes
// nothing: it fills the target aspect ratio and crops the overflow,
// which is what the short-form platforms expect.
func (e *FFmpegEngine) RenderClip(ctx context.Context, source string, start, end float64, spec ClipSpec, outPath string) (*RenderInfo, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid clip bounds [%.2f, %.2f)", start, end)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	fps := spec.FPS
	if fps <= 0 {
		fps = 30
	}

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%d",
		spec.Width, spec.Height, spec.Width, spec.Height, fps,
	)

	args := []string{
		"-ss", fmt.Sprintf("%.2f", start),
		"-t", fmt.Sprintf("%.2f", end-start),
		"-i", source,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "fast",
		"-movflags", "+faststart",
	}
	if spec.IncludeAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-y", outPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("clip render failed: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("rendered clip missing: %w", err)
	}

	return &RenderInfo{
		FrameCount:   int((end - start) * float64(fps)),
		FPS:          fps,
		Resolution:   fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		FileSize:     info.Size(),
		AudioEnabled: spec.IncludeAudio,
	}, nil
}

// RenderThumbnail writes a single scaled frame at timestamp.
func (e *FFmpegEngine) RenderThumbnail(ctx context.Context, source string, timestamp float64, width, height int, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", source,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", width, height, width, height),
		"-q:v", "2",
		"-y",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("thumbnail render failed: %w", err)
	}
	return nil
}
