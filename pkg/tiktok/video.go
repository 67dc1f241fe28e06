package tiktok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"crosspost/pkg/store"
)

// Result is the outcome of one publish: the mode that finally succeeded and
// the provider-assigned identifiers.
type Result struct {
	Mode      string
	PublishID string
	PostID    string
}

// PublishVideoFile runs the init → upload → finalize sequence for one video
// file. When the requested mode is direct and the failure is classified as
// permission/unsupported, the whole sequence is retried once as a draft.
func PublishVideoFile(ctx context.Context, api API, accessToken, videoPath, caption, requestedMode string, fallbackToDraft bool) (*Result, error) {
	result, err := publishWithMode(ctx, api, accessToken, videoPath, caption, requestedMode)
	if err == nil {
		return result, nil
	}

	var apiErr *APIError
	if requestedMode == store.ModeDirect && fallbackToDraft &&
		errors.As(err, &apiErr) && apiErr.PermissionOrUnsupported() {
		slog.Warn("Direct publish failed, falling back to draft",
			"event", "direct_publish_failed_fallback_to_draft", "error", truncate(err.Error(), 180))
		return publishWithMode(ctx, api, accessToken, videoPath, caption, store.ModeDraft)
	}
	return nil, err
}

func publishWithMode(ctx context.Context, api API, accessToken, videoPath, caption, mode string) (*Result, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("video file unavailable: %w", err)
	}

	initData, err := api.InitVideoUpload(ctx, accessToken, caption, mode, info.Size())
	if err != nil {
		return nil, err
	}

	uploadURL := extractUploadURL(initData)
	if uploadURL == "" {
		return nil, &APIError{Message: "TikTok response does not contain upload_url", Payload: initData}
	}
	publishID := extractPublishID(initData)

	if err := api.UploadBinary(ctx, uploadURL, videoPath, "video/mp4"); err != nil {
		return nil, err
	}

	finalizeData, err := api.FinalizeVideo(ctx, accessToken, publishID, caption, mode)
	if err != nil {
		return nil, err
	}

	postID := stringValue(finalizeData["post_id"])
	if postID == "" {
		postID = stringValue(finalizeData["item_id"])
	}
	if postID == "" {
		postID = publishID
	}
	return &Result{Mode: mode, PublishID: publishID, PostID: postID}, nil
}

// extractUploadURL walks the init payload's known shapes: a scalar
// upload_url, the first non-empty entry of upload_urls, or the same fields
// nested under source_info.
func extractUploadURL(data Payload) string {
	if single := stringValue(data["upload_url"]); single != "" {
		return single
	}

	if list, ok := data["upload_urls"].([]interface{}); ok {
		for _, item := range list {
			if value := stringValue(item); value != "" {
				return value
			}
		}
	}

	if nested, ok := data["source_info"].(map[string]interface{}); ok {
		return extractUploadURL(nested)
	}
	return ""
}

// extractPublishID resolves the init payload's id under its historical
// names, in precedence order.
func extractPublishID(data Payload) string {
	for _, key := range []string{"publish_id", "video_id", "creation_id"} {
		if value := stringValue(data[key]); value != "" {
			return value
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
