package telegram

import (
	"context"
	"time"

	"crosspost/pkg/store"
)

// Bundle is a materialized album ready to become one ContentItem: every
// buffered member of a media group, ordered by message id.
type Bundle struct {
	MediaGroupID     string
	SourceChatID     int64
	SourceMessageIDs []int
	FileIDs          []string
	Caption          string
	SourceText       string
	CreatedAt        time.Time
}

// Aggregator persistently buffers album members and emits bundles once a
// group has been quiet for the flush window. Album members arrive as
// independent updates over several seconds; buffering in the store means a
// crash cannot lose members already acknowledged to Telegram.
type Aggregator struct {
	store       *store.Store
	flushWindow time.Duration
}

// NewAggregator creates an aggregator; windows below one second are floored.
func NewAggregator(s *store.Store, flushSeconds int) *Aggregator {
	if flushSeconds < 1 {
		flushSeconds = 1
	}
	return &Aggregator{
		store:       s,
		flushWindow: time.Duration(flushSeconds) * time.Second,
	}
}

// Add buffers one parsed album member together with its raw message
// snapshot. Messages without a media group id are ignored; duplicate
// members are absorbed by the buffer's unique constraint.
func (a *Aggregator) Add(ctx context.Context, parsed *ParsedMessage, rawMessageJSON string) error {
	if parsed.MediaGroupID == "" {
		return nil
	}
	return a.store.AddAlbumRow(ctx, &store.AlbumRow{
		MediaGroupID:    parsed.MediaGroupID,
		SourceChatID:    parsed.SourceChatID,
		SourceMessageID: int64(parsed.MessageID),
		ContentType:     parsed.ContentType,
		TelegramFileID:  parsed.TelegramFileID,
		Caption:         parsed.Caption,
		SourceText:      parsed.Text,
		RawMessageJSON:  rawMessageJSON,
		CreatedAt:       parsed.CreatedAt,
	})
}

// FlushDue emits one bundle per album whose earliest member is older than
// the flush window, deleting the buffered rows in the same transaction.
// The earliest-row threshold bounds staleness regardless of later arrivals.
func (a *Aggregator) FlushDue(ctx context.Context, now time.Time) ([]Bundle, error) {
	groups, err := a.store.FlushDueAlbumRows(ctx, now.Add(-a.flushWindow))
	if err != nil {
		return nil, err
	}

	bundles := make([]Bundle, 0, len(groups))
	for groupID, rows := range groups {
		if len(rows) == 0 {
			continue
		}
		bundle := Bundle{
			MediaGroupID: groupID,
			SourceChatID: rows[0].SourceChatID,
			CreatedAt:    rows[0].CreatedAt,
		}
		for _, row := range rows {
			bundle.SourceMessageIDs = append(bundle.SourceMessageIDs, int(row.SourceMessageID))
			bundle.FileIDs = append(bundle.FileIDs, row.TelegramFileID)
			if bundle.Caption == "" {
				bundle.Caption = row.Caption
			}
			if bundle.SourceText == "" {
				bundle.SourceText = row.SourceText
			}
			if row.CreatedAt.Before(bundle.CreatedAt) {
				bundle.CreatedAt = row.CreatedAt
			}
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}
