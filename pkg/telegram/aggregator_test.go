package telegram

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/pkg/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func albumMember(groupID string, messageID int, fileID, caption string, at time.Time) *ParsedMessage {
	return &ParsedMessage{
		SourceChatID:   -100555,
		MessageID:      messageID,
		MediaGroupID:   groupID,
		ContentType:    "photo",
		TelegramFileID: fileID,
		Caption:        caption,
		CreatedAt:      at,
	}
}

func TestAggregatorFlushCollectsOrderedBundle(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(testStore(t), 3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Members arrive out of message order; the second carries the caption.
	require.NoError(t, agg.Add(ctx, albumMember("g1", 22, "f22", "", base.Add(time.Second)), "{}"))
	require.NoError(t, agg.Add(ctx, albumMember("g1", 20, "f20", "the caption", base), "{}"))
	require.NoError(t, agg.Add(ctx, albumMember("g1", 21, "f21", "", base.Add(2*time.Second)), "{}"))

	bundles, err := agg.FlushDue(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	bundle := bundles[0]
	assert.Equal(t, "g1", bundle.MediaGroupID)
	assert.Equal(t, int64(-100555), bundle.SourceChatID)
	assert.Equal(t, []int{20, 21, 22}, bundle.SourceMessageIDs)
	assert.Equal(t, []string{"f20", "f21", "f22"}, bundle.FileIDs)
	assert.Equal(t, "the caption", bundle.Caption)
	assert.Equal(t, base, bundle.CreatedAt)
}

func TestAggregatorDoesNotFlushYoungAlbums(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(testStore(t), 3)
	now := time.Now().UTC()

	require.NoError(t, agg.Add(ctx, albumMember("g2", 1, "f1", "", now), "{}"))

	bundles, err := agg.FlushDue(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, bundles)

	// After the window the album becomes due, and flushing consumes it.
	bundles, err = agg.FlushDue(ctx, now.Add(5*time.Second))
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	bundles, err = agg.FlushDue(ctx, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestAggregatorAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(testStore(t), 1)
	now := time.Now().UTC().Add(-time.Minute)

	member := albumMember("g3", 7, "f7", "", now)
	require.NoError(t, agg.Add(ctx, member, "{}"))
	require.NoError(t, agg.Add(ctx, member, "{}"))

	bundles, err := agg.FlushDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Len(t, bundles[0].FileIDs, 1)
}

func TestAggregatorIgnoresNonAlbumMessages(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(testStore(t), 1)

	parsed := albumMember("", 9, "f9", "", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, agg.Add(ctx, parsed, "{}"))

	bundles, err := agg.FlushDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestAggregatorFlushesGroupsIndependently(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(testStore(t), 3)
	base := time.Now().UTC()

	require.NoError(t, agg.Add(ctx, albumMember("old", 1, "a", "", base.Add(-time.Minute)), "{}"))
	require.NoError(t, agg.Add(ctx, albumMember("new", 2, "b", "", base), "{}"))

	bundles, err := agg.FlushDue(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "old", bundles[0].MediaGroupID)
}
