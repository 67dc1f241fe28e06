package tiktok

import (
	"context"
	"errors"
	"log/slog"

	"crosspost/pkg/utils"
)

// TryPublishPhotos attempts TikTok's photo/carousel endpoints. The photo
// product is unavailable for many apps, so a permission/unsupported error
// — or an init response without enough upload URLs — returns (nil, nil) and
// lets the caller fall back to the slideshow video path. Any other failure
// is a real error.
func TryPublishPhotos(ctx context.Context, api API, accessToken string, imagePaths []string, caption, mode string) (*Result, error) {
	if len(imagePaths) == 0 {
		return nil, nil
	}

	result, err := publishPhotos(ctx, api, accessToken, imagePaths, caption, mode)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.PermissionOrUnsupported() {
			slog.Info("Photo API unavailable, using slideshow fallback",
				"event", "photo_api_unavailable")
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func publishPhotos(ctx context.Context, api API, accessToken string, imagePaths []string, caption, mode string) (*Result, error) {
	initData, err := api.InitPhotoUpload(ctx, accessToken, caption, mode, len(imagePaths))
	if err != nil {
		return nil, err
	}

	uploadURLs := extractUploadURLs(initData)
	if len(uploadURLs) < len(imagePaths) {
		return nil, nil
	}

	for i, path := range imagePaths {
		contentType := utils.ImageContentType(path)
		if err := api.UploadBinary(ctx, uploadURLs[i], path, contentType); err != nil {
			return nil, err
		}
	}

	publishID := extractPhotoPublishID(initData)
	finalizeData, err := api.FinalizePhotoUpload(ctx, accessToken, publishID, caption, mode)
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

// extractUploadURLs collects every candidate upload URL: the upload_urls
// list, a scalar upload_url, and the same fields nested under source_info.
func extractUploadURLs(data Payload) []string {
	var values []string
	if list, ok := data["upload_urls"].([]interface{}); ok {
		for _, item := range list {
			if value := stringValue(item); value != "" {
				values = append(values, value)
			}
		}
	}
	if single := stringValue(data["upload_url"]); single != "" {
		values = append(values, single)
	}
	if nested, ok := data["source_info"].(map[string]interface{}); ok {
		values = append(values, extractUploadURLs(nested)...)
	}
	return values
}

func extractPhotoPublishID(data Payload) string {
	for _, key := range []string{"publish_id", "creation_id", "item_id"} {
		if value := stringValue(data[key]); value != "" {
			return value
		}
	}
	return ""
}
