package tiktok

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/pkg/config"
	"crosspost/pkg/store"
)

// fakeTranscoder writes a stub file so the subsequent upload can stat it.
type fakeTranscoder struct {
	photoCalls int
	albumCalls int
}

func (f *fakeTranscoder) PhotoToVideo(_ context.Context, _, outputPath string, _, _ int) error {
	f.photoCalls++
	return writeStub(outputPath)
}

func (f *fakeTranscoder) AlbumToVideo(_ context.Context, _ []string, outputPath string, _, _ int) error {
	f.albumCalls++
	return writeStub(outputPath)
}

func writeStub(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("stub video"), 0o644)
}

func publisherFixture(t *testing.T, api API, enablePhotoAPI bool) (*Publisher, *fakeTranscoder) {
	t.Helper()
	cfg := config.DefaultSettings()
	cfg.MediaStoragePath = t.TempDir()
	cfg.EnablePhotoAPI = enablePhotoAPI
	transcoder := &fakeTranscoder{}
	return NewPublisher(api, transcoder, cfg), transcoder
}

func mediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))
	return path
}

func TestPublisherRoutesVideoDirectly(t *testing.T) {
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 1, ContentType: store.KindVideo,
		LocalFiles: []string{mediaFile(t, "clip.mp4")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Zero(t, transcoder.photoCalls)
	assert.Zero(t, transcoder.albumCalls)
}

func TestPublisherHonorsAccountMode(t *testing.T) {
	api := &fakeAPI{}
	publisher, _ := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 8, ContentType: store.KindVideo,
		LocalFiles: []string{mediaFile(t, "clip.mp4")}}

	_, err := publisher.Publish(context.Background(), item, "token", "caption", store.ModeDirect)
	require.NoError(t, err)
	assert.Equal(t, []string{store.ModeDirect}, api.videoInitModes)

	// Empty mode falls back to the configured default.
	api.videoInitModes = nil
	_, err = publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, []string{publisher.cfg.PostingMode}, api.videoInitModes)
}

func TestPublisherVideoKindIgnoresExtension(t *testing.T) {
	// A video document can carry an extension outside the usual set; the
	// item kind, not the filename, decides the upload path.
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 2, ContentType: store.KindVideo,
		LocalFiles: []string{mediaFile(t, "clip.3gp")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Len(t, api.uploads, 1)
	assert.Zero(t, transcoder.photoCalls)
	assert.Zero(t, transcoder.albumCalls)
}

func TestPublisherMixedAlbumPostsImages(t *testing.T) {
	// A mixed album posts its images through the photo API; the video member
	// is not uploaded on its own.
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 9, ContentType: store.KindAlbum,
		LocalFiles: []string{mediaFile(t, "a.jpg"), mediaFile(t, "b.mp4")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-p", result.PostID)
	assert.Zero(t, transcoder.albumCalls)
}

func TestPublisherAlbumWithoutImagesReusesVideoMember(t *testing.T) {
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, true)

	clip := mediaFile(t, "b.mp4")
	item := &store.ContentItem{ID: 10, ContentType: store.KindAlbum,
		LocalFiles: []string{clip}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Zero(t, transcoder.albumCalls)
	assert.Zero(t, transcoder.photoCalls)
}

func TestPublisherUsesPhotoAPIWhenEnabled(t *testing.T) {
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 3, ContentType: store.KindAlbum,
		LocalFiles: []string{mediaFile(t, "a.jpg"), mediaFile(t, "b.jpg")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-p", result.PostID)
	assert.Zero(t, transcoder.albumCalls)
}

func TestPublisherFallsBackToSlideshow(t *testing.T) {
	api := &fakeAPI{
		photoInit: func(string) (Payload, error) {
			return nil, &APIError{Message: "photo posting unsupported", StatusCode: 404}
		},
	}
	publisher, transcoder := publisherFixture(t, api, true)

	item := &store.ContentItem{ID: 4, ContentType: store.KindAlbum,
		LocalFiles: []string{mediaFile(t, "a.jpg"), mediaFile(t, "b.jpg")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	assert.Equal(t, "post-1", result.PostID)
	assert.Equal(t, 1, transcoder.albumCalls)
}

func TestPublisherSinglePhotoWithoutPhotoAPI(t *testing.T) {
	api := &fakeAPI{}
	publisher, transcoder := publisherFixture(t, api, false)

	item := &store.ContentItem{ID: 5, ContentType: store.KindPhoto,
		LocalFiles: []string{mediaFile(t, "a.jpg")}}

	result, err := publisher.Publish(context.Background(), item, "token", "caption", "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, transcoder.photoCalls)
	assert.Zero(t, transcoder.albumCalls)
}

func TestPublisherRejectsEmptyItems(t *testing.T) {
	publisher, _ := publisherFixture(t, &fakeAPI{}, true)

	_, err := publisher.Publish(context.Background(), &store.ContentItem{ID: 6}, "token", "caption", "")
	assert.Error(t, err)
}
