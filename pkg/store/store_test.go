package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createItem(t *testing.T, s *Store, mediaGroupID string) *ContentItem {
	t.Helper()
	messageID := int64(42)
	item, err := s.CreateContentItem(context.Background(), &ContentItem{
		ContentType:     KindVideo,
		SourceChatID:    -100777,
		SourceMessageID: &messageID,
		MediaGroupID:    mediaGroupID,
		Caption:         "hello",
		TelegramFileIDs: []string{"file-a"},
		CreatedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	return item
}

func TestSourceKeyPrecedence(t *testing.T) {
	messageID := int64(5)
	album := &ContentItem{ID: 1, SourceChatID: -10, MediaGroupID: "g9", SourceMessageID: &messageID}
	assert.Equal(t, "group:-10:g9", album.SourceKey())

	single := &ContentItem{ID: 2, SourceChatID: -10, SourceMessageID: &messageID}
	assert.Equal(t, "msg:-10:5", single.SourceKey())

	bare := &ContentItem{ID: 3, SourceChatID: -10}
	assert.Equal(t, "content:3", bare.SourceKey())
}

func TestContentItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	item := createItem(t, s, "g1")

	loaded, err := s.ContentItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, KindVideo, loaded.ContentType)
	assert.Equal(t, "g1", loaded.MediaGroupID)
	assert.Equal(t, []string{"file-a"}, loaded.TelegramFileIDs)
	assert.Empty(t, loaded.LocalFiles)
	assert.Nil(t, loaded.ProcessedAt)

	require.NoError(t, s.SetContentLocalFiles(ctx, item.ID, []string{"/tmp/a.mp4"}))
	require.NoError(t, s.MarkContentProcessed(ctx, item.ID, time.Now().UTC()))

	loaded, err = s.ContentItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a.mp4"}, loaded.LocalFiles)
	require.NotNil(t, loaded.ProcessedAt)
}

func TestEnsureDeliveryIsUniquePerKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	item := createItem(t, s, "")

	first, err := s.EnsureDelivery(ctx, item.ID, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	// Re-ensuring returns the same row, not a second one.
	again, err := s.EnsureDelivery(ctx, item.ID, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := s.EnsureDelivery(ctx, item.ID, item.SourceKey(), "acc2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestMarkDeliverySentIsMonotone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	item := createItem(t, s, "")

	delivery, err := s.EnsureDelivery(ctx, item.ID, item.SourceKey(), "acc1")
	require.NoError(t, err)

	require.NoError(t, s.MarkDeliveryFailed(ctx, delivery.ID, "first failure"))
	loaded, err := s.DeliveryByKey(ctx, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
	assert.Equal(t, "first failure", loaded.ErrorText)

	require.NoError(t, s.MarkDeliverySent(ctx, delivery.ID, "post-123"))
	loaded, err = s.DeliveryByKey(ctx, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, loaded.Status)
	assert.Equal(t, "post-123", loaded.TikTokPostID)
	assert.Empty(t, loaded.ErrorText)

	// A sent delivery never regresses to failed.
	require.NoError(t, s.MarkDeliveryFailed(ctx, delivery.ID, "late failure"))
	loaded, err = s.DeliveryByKey(ctx, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, loaded.Status)
	assert.Equal(t, "post-123", loaded.TikTokPostID)
}

func TestMarkDeliveryFailedTruncatesErrorText(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	item := createItem(t, s, "")

	delivery, err := s.EnsureDelivery(ctx, item.ID, item.SourceKey(), "acc1")
	require.NoError(t, err)

	require.NoError(t, s.MarkDeliveryFailed(ctx, delivery.ID, strings.Repeat("x", 5000)))
	loaded, err := s.DeliveryByKey(ctx, item.SourceKey(), "acc1")
	require.NoError(t, err)
	assert.Len(t, loaded.ErrorText, 2000)
}

func TestAuthChallengeSingleUse(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateAuthChallenge(ctx, "state-1", "acc1", ModeDraft))
	challenge, err := s.UnusedAuthChallenge(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "acc1", challenge.AccountLabel)
	assert.Equal(t, ModeDraft, challenge.Mode)

	expiry := time.Now().UTC().Add(time.Hour)
	account, err := s.SaveAuthorizedAccount(ctx, challenge.ID, AuthorizedAccount{
		AccountLabel:  "acc1",
		OpenID:        "open-1",
		AccessToken:   "at",
		RefreshToken:  "rt",
		ExpiresAt:     expiry,
		GrantedScopes: "user.info.basic,video.upload",
		PostingMode:   ModeDraft,
	})
	require.NoError(t, err)
	assert.Equal(t, "acc1", account.AccountLabel)
	assert.False(t, account.NeedsReauth)

	// The challenge is consumed: a second lookup misses, a second save fails.
	_, err = s.UnusedAuthChallenge(ctx, "state-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SaveAuthorizedAccount(ctx, challenge.ID, AuthorizedAccount{AccountLabel: "acc1"})
	assert.Error(t, err)
}

func TestSaveAuthorizedAccountUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, token := range []string{"old-token", "new-token"} {
		state := []string{"s1", "s2"}[i]
		require.NoError(t, s.CreateAuthChallenge(ctx, state, "acc1", ModeDirect))
		challenge, err := s.UnusedAuthChallenge(ctx, state)
		require.NoError(t, err)
		_, err = s.SaveAuthorizedAccount(ctx, challenge.ID, AuthorizedAccount{
			AccountLabel: "acc1",
			AccessToken:  token,
			RefreshToken: "rt",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
			PostingMode:  ModeDirect,
		})
		require.NoError(t, err)
	}

	account, err := s.AccountByLabel(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", account.AccessToken)

	accounts, err := s.ListAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestUpdateAccountTokensClearsReauth(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateAuthChallenge(ctx, "s1", "acc1", ModeDraft))
	challenge, err := s.UnusedAuthChallenge(ctx, "s1")
	require.NoError(t, err)
	_, err = s.SaveAuthorizedAccount(ctx, challenge.ID, AuthorizedAccount{
		AccountLabel: "acc1", AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: time.Now().UTC(), PostingMode: ModeDraft,
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkAccountNeedsReauth(ctx, "acc1"))
	account, err := s.AccountByLabel(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.NeedsReauth)

	require.NoError(t, s.UpdateAccountTokens(ctx, "acc1", "at2", "rt2", time.Now().UTC().Add(time.Hour)))
	account, err = s.AccountByLabel(ctx, "acc1")
	require.NoError(t, err)
	assert.False(t, account.NeedsReauth)
	assert.Equal(t, "at2", account.AccessToken)
}

func TestListAccountsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, label := range []string{"bravo", "alpha", "charlie"} {
		state := []string{"s1", "s2", "s3"}[i]
		require.NoError(t, s.CreateAuthChallenge(ctx, state, label, ModeDraft))
		challenge, err := s.UnusedAuthChallenge(ctx, state)
		require.NoError(t, err)
		_, err = s.SaveAuthorizedAccount(ctx, challenge.ID, AuthorizedAccount{
			AccountLabel: label, AccessToken: "at", RefreshToken: "rt",
			ExpiresAt: time.Now().UTC(), PostingMode: ModeDraft,
		})
		require.NoError(t, err)
	}

	all, err := s.ListAccounts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].AccountLabel)
	assert.Equal(t, "bravo", all[1].AccountLabel)
	assert.Equal(t, "charlie", all[2].AccountLabel)

	some, err := s.ListAccounts(ctx, []string{"charlie", "alpha", "missing"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "alpha", some[0].AccountLabel)
	assert.Equal(t, "charlie", some[1].AccountLabel)
}

func TestTimeToDBSortsChronologically(t *testing.T) {
	// Short fractions must not sort after longer ones ("…05.1Z" vs "…05.12Z"):
	// the album flush threshold is a lexical TEXT comparison inside SQLite.
	earlier := time.Date(2024, 1, 1, 0, 0, 5, 100_000_000, time.UTC)
	later := time.Date(2024, 1, 1, 0, 0, 5, 120_000_000, time.UTC)

	assert.Less(t, timeToDB(earlier), timeToDB(later))
	assert.Equal(t, earlier, timeFromDB(timeToDB(earlier)))
}

func TestFlushDueAlbumRowsHonorsQuiescenceWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	createdAt := time.Date(2024, 1, 1, 0, 0, 5, 120_000_000, time.UTC)
	require.NoError(t, s.AddAlbumRow(ctx, &AlbumRow{
		MediaGroupID: "g1", SourceChatID: -100, SourceMessageID: 10,
		ContentType: KindPhoto, TelegramFileID: "f1", CreatedAt: createdAt,
	}))

	// 20ms before the member's age reaches the window: nothing is due.
	groups, err := s.FlushDueAlbumRows(ctx, createdAt.Add(-20*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, groups)

	groups, err = s.FlushDueAlbumRows(ctx, createdAt)
	require.NoError(t, err)
	require.Len(t, groups["g1"], 1)
}
