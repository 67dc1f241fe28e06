package tiktok

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/pkg/store"
)

func tempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o644))
	return path
}

func TestExtractUploadURLPrecedence(t *testing.T) {
	assert.Equal(t, "u1", extractUploadURL(Payload{"upload_url": "u1", "upload_urls": []interface{}{"u2"}}))
	assert.Equal(t, "u2", extractUploadURL(Payload{"upload_urls": []interface{}{"", "u2"}}))
	assert.Equal(t, "u3", extractUploadURL(Payload{"source_info": map[string]interface{}{"upload_url": "u3"}}))
	assert.Equal(t, "", extractUploadURL(Payload{}))
}

func TestExtractPublishIDPrecedence(t *testing.T) {
	assert.Equal(t, "p1", extractPublishID(Payload{"publish_id": "p1", "video_id": "v1"}))
	assert.Equal(t, "v1", extractPublishID(Payload{"video_id": "v1", "creation_id": "c1"}))
	assert.Equal(t, "c1", extractPublishID(Payload{"creation_id": "c1"}))
	assert.Equal(t, "", extractPublishID(Payload{}))
}

func TestPublishVideoFileSuccess(t *testing.T) {
	api := &fakeAPI{}
	result, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDraft, true)
	require.NoError(t, err)
	assert.Equal(t, store.ModeDraft, result.Mode)
	assert.Equal(t, "pub-1", result.PublishID)
	assert.Equal(t, "post-1", result.PostID)
	assert.Equal(t, []string{"https://upload.example/slot"}, api.uploads)
}

func TestPublishVideoFileFallsBackToDraft(t *testing.T) {
	api := &fakeAPI{
		videoInit: func(mode string) (Payload, error) {
			if mode == store.ModeDirect {
				return nil, &APIError{Message: "video.publish scope missing", StatusCode: 403}
			}
			return Payload{"upload_url": "https://upload.example/slot", "publish_id": "pub-1"}, nil
		},
	}

	result, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDirect, true)
	require.NoError(t, err)
	assert.Equal(t, store.ModeDraft, result.Mode)
	assert.Equal(t, []string{store.ModeDirect, store.ModeDraft}, api.videoInitModes)
}

func TestPublishVideoFileNoFallbackWhenDisabled(t *testing.T) {
	api := &fakeAPI{
		videoInit: func(string) (Payload, error) {
			return nil, &APIError{Message: "scope missing", StatusCode: 403}
		},
	}

	_, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDirect, false)
	require.Error(t, err)
	assert.Equal(t, []string{store.ModeDirect}, api.videoInitModes)
}

func TestPublishVideoFileNoFallbackOnOtherErrors(t *testing.T) {
	api := &fakeAPI{
		videoInit: func(string) (Payload, error) {
			return nil, &APIError{Message: "file too large", StatusCode: 400}
		},
	}

	_, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDirect, true)
	require.Error(t, err)
	assert.Equal(t, []string{store.ModeDirect}, api.videoInitModes)
}

func TestPublishVideoFileMissingUploadURL(t *testing.T) {
	api := &fakeAPI{
		videoInit: func(string) (Payload, error) {
			return Payload{"publish_id": "pub-1"}, nil
		},
	}

	_, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDraft, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload_url")
}

func TestPublishVideoFilePostIDFallsBackToPublishID(t *testing.T) {
	api := &fakeAPI{
		finalizeVideo: func(string) (Payload, error) { return Payload{}, nil },
	}

	result, err := PublishVideoFile(context.Background(), api, "token", tempVideo(t), "caption", store.ModeDraft, true)
	require.NoError(t, err)
	assert.Equal(t, "pub-1", result.PostID)
}

func TestPublishVideoFileMissingFile(t *testing.T) {
	api := &fakeAPI{}
	_, err := PublishVideoFile(context.Background(), api, "token", "/nonexistent/clip.mp4", "caption", store.ModeDraft, true)
	require.Error(t, err)
	assert.Empty(t, api.videoInitModes)
}
