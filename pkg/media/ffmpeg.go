package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Transcoder turns images into playable videos. Production uses the ffmpeg
// binary on the execution host; tests substitute fakes.
type Transcoder interface {
	// PhotoToVideo renders one image as a constant-duration video.
	PhotoToVideo(ctx context.Context, imagePath, outputPath string, seconds, fps int) error
	// AlbumToVideo concatenates images into a slideshow, each shown for
	// slideSeconds.
	AlbumToVideo(ctx context.Context, imagePaths []string, outputPath string, slideSeconds, fps int) error
}

// FFmpeg shells out to the ffmpeg binary. Output is H.264 yuv420p with
// dimensions rounded down to even numbers, which is what TikTok accepts.
type FFmpeg struct{}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{}
}

// EnsureAvailable fails when ffmpeg is not on PATH; called at startup and
// before every transcode.
func EnsureAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg is required but not found in PATH: %w", err)
	}
	return nil
}

func (f *FFmpeg) PhotoToVideo(ctx context.Context, imagePath, outputPath string, seconds, fps int) error {
	if err := EnsureAvailable(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	if seconds < 1 {
		seconds = 1
	}
	if fps < 1 {
		fps = 1
	}

	args := []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-t", strconv.Itoa(seconds),
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p,scale=trunc(iw/2)*2:trunc(ih/2)*2", fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	}
	return run(ctx, args)
}

func (f *FFmpeg) AlbumToVideo(ctx context.Context, imagePaths []string, outputPath string, slideSeconds, fps int) error {
	if err := EnsureAvailable(); err != nil {
		return err
	}
	if len(imagePaths) == 0 {
		return fmt.Errorf("album transcode requires at least one image")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	if slideSeconds < 1 {
		slideSeconds = 1
	}
	if fps < 1 {
		fps = 1
	}

	concatFile, err := writeConcatList(imagePaths, slideSeconds)
	if err != nil {
		return err
	}
	defer os.Remove(concatFile)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p,scale=trunc(iw/2)*2:trunc(ih/2)*2", fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	}
	return run(ctx, args)
}

// writeConcatList emits the concat demuxer script. The final image is
// repeated once as a trailing file entry without a duration: the demuxer
// holds the last listed frame, so the repeat makes the final slide show for
// its full duration.
func writeConcatList(imagePaths []string, slideSeconds int) (string, error) {
	f, err := os.CreateTemp("", "slideshow-*.txt")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, path := range imagePaths {
		fmt.Fprintf(&sb, "file '%s'\n", concatEscape(path))
		fmt.Fprintf(&sb, "duration %d\n", slideSeconds)
	}
	fmt.Fprintf(&sb, "file '%s'\n", concatEscape(imagePaths[len(imagePaths)-1]))

	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func concatEscape(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`)
}

func run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
