package tiktok

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"crosspost/pkg/config"
	"crosspost/pkg/media"
	"crosspost/pkg/store"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".avi": true, ".webm": true, ".mkv": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true,
}

// Publisher decides how a content item reaches TikTok: videos upload
// directly, photo sets go through the photo API when enabled, and anything
// the photo API rejects is transcoded into a slideshow video first.
type Publisher struct {
	api        API
	transcoder media.Transcoder
	cfg        *config.Settings
}

func NewPublisher(api API, transcoder media.Transcoder, cfg *config.Settings) *Publisher {
	return &Publisher{api: api, transcoder: transcoder, cfg: cfg}
}

// Publish pushes one content item to a single account. The caption is
// already built; accessToken is already validated/refreshed by the caller.
// mode is the account's posting mode, empty to use the configured default.
// Dispatch follows the item's kind: a video posts its first local file
// directly, photo and album items try the photo API first and fall back to a
// slideshow video.
func (p *Publisher) Publish(ctx context.Context, item *store.ContentItem, accessToken, caption, mode string) (*Result, error) {
	if len(item.LocalFiles) == 0 {
		return nil, fmt.Errorf("content item %d has no local files", item.ID)
	}
	if mode == "" {
		mode = p.cfg.PostingMode
	}

	if item.ContentType == store.KindVideo {
		return PublishVideoFile(ctx, p.api, accessToken, item.LocalFiles[0], caption,
			mode, p.cfg.FallbackToDraft)
	}

	images := imagePaths(item.LocalFiles)

	if p.cfg.EnablePhotoAPI && len(images) > 0 {
		result, err := TryPublishPhotos(ctx, p.api, accessToken, images, caption, mode)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		slog.Info("photo API unavailable, falling back to slideshow video",
			"content_item_id", item.ID)
	}

	videoPath, err := p.fallbackVideo(ctx, item, images)
	if err != nil {
		return nil, fmt.Errorf("slideshow transcode failed: %w", err)
	}
	return PublishVideoFile(ctx, p.api, accessToken, videoPath, caption,
		mode, p.cfg.FallbackToDraft)
}

// fallbackVideo produces the file for the video-upload fallback: photos are
// rendered into a slideshow next to the downloaded media (deterministic path
// per item so a retried delivery reuses the output), and an album without
// any images reuses an existing video member untouched.
func (p *Publisher) fallbackVideo(ctx context.Context, item *store.ContentItem, images []string) (string, error) {
	out := filepath.Join(p.cfg.MediaStoragePath,
		fmt.Sprintf("%d", item.ID),
		fmt.Sprintf("%d_slideshow.mp4", item.ID))

	if item.ContentType == store.KindPhoto {
		if err := p.transcoder.PhotoToVideo(ctx, item.LocalFiles[0], out, p.cfg.SlideSeconds, p.cfg.SlideshowFPS); err != nil {
			return "", err
		}
		return out, nil
	}
	if len(images) > 0 {
		if err := p.transcoder.AlbumToVideo(ctx, images, out, p.cfg.SlideSeconds, p.cfg.SlideshowFPS); err != nil {
			return "", err
		}
		return out, nil
	}
	for _, path := range item.LocalFiles {
		if videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return path, nil
		}
	}
	return item.LocalFiles[0], nil
}

func imagePaths(files []string) []string {
	var images []string
	for _, file := range files {
		if imageExtensions[strings.ToLower(filepath.Ext(file))] {
			images = append(images, file)
		}
	}
	return images
}
