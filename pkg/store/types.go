package store

import (
	"fmt"
	"time"
)

// Posting modes.
const (
	ModeDraft  = "draft"
	ModeDirect = "direct"
)

// Content kinds.
const (
	KindVideo = "video"
	KindPhoto = "photo"
	KindAlbum = "album"
)

// Delivery statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Account is one TikTok account keyed by its operator-chosen label. The
// token fields are mutated only by the OAuth lifecycle.
type Account struct {
	ID            int64
	AccountLabel  string
	OpenID        string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
	GrantedScopes string
	PostingMode   string
	NeedsReauth   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuthChallenge is the one-shot anti-CSRF binding between authorize-start
// and the OAuth callback.
type AuthChallenge struct {
	ID           int64
	State        string
	AccountLabel string
	Mode         string
	Used         bool
	CreatedAt    time.Time
}

// ContentItem is one logical unit to publish: a single video, a single
// photo, or a whole album bundled by the aggregator.
type ContentItem struct {
	ID              int64
	ContentType     string
	SourceChatID    int64
	SourceMessageID *int64
	MediaGroupID    string
	Caption         string
	SourceText      string
	TelegramFileIDs []string
	LocalFiles      []string
	RawUpdateJSON   string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// SourceKey deterministically identifies the originating post. Together
// with the account label it forms the exactly-once delivery key.
func (c *ContentItem) SourceKey() string {
	if c.MediaGroupID != "" {
		return fmt.Sprintf("group:%d:%s", c.SourceChatID, c.MediaGroupID)
	}
	if c.SourceMessageID != nil {
		return fmt.Sprintf("msg:%d:%d", c.SourceChatID, *c.SourceMessageID)
	}
	return fmt.Sprintf("content:%d", c.ID)
}

// Delivery records the outcome of one ContentItem against one Account.
// At most one row exists per (source_key, account_label).
type Delivery struct {
	ID            int64
	ContentItemID int64
	SourceKey     string
	AccountLabel  string
	Status        string
	ErrorText     string
	TikTokPostID  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlbumRow is one buffered album member awaiting its group's flush.
type AlbumRow struct {
	ID              int64
	MediaGroupID    string
	SourceChatID    int64
	SourceMessageID int64
	ContentType     string
	TelegramFileID  string
	Caption         string
	SourceText      string
	RawMessageJSON  string
	CreatedAt       time.Time
}
