package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const deliveryColumns = `id, content_item_id, source_key, account_label, status,
	COALESCE(error_text, ''), COALESCE(tiktok_post_id, ''), created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (*Delivery, error) {
	var (
		d         Delivery
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&d.ID, &d.ContentItemID, &d.SourceKey, &d.AccountLabel, &d.Status,
		&d.ErrorText, &d.TikTokPostID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = timeFromDB(createdAt)
	d.UpdatedAt = timeFromDB(updatedAt)
	return &d, nil
}

// DeliveryByKey returns the delivery for (sourceKey, accountLabel) or
// ErrNotFound.
func (s *Store) DeliveryByKey(ctx context.Context, sourceKey, accountLabel string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE source_key = ? AND account_label = ?`,
		sourceKey, accountLabel)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery %s/%s: %w", sourceKey, accountLabel, err)
	}
	return d, nil
}

// EnsureDelivery creates the pending delivery row if it does not exist and
// returns the current row either way. The unique index absorbs concurrent
// creation: INSERT OR IGNORE followed by a re-read is the interlock that
// keeps at most one row per (source_key, account_label).
func (s *Store) EnsureDelivery(ctx context.Context, contentItemID int64, sourceKey, accountLabel string) (*Delivery, error) {
	now := timeToDB(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries
			(content_item_id, source_key, account_label, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		contentItemID, sourceKey, accountLabel, StatusPending, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure delivery %s/%s: %w", sourceKey, accountLabel, err)
	}
	return s.DeliveryByKey(ctx, sourceKey, accountLabel)
}

// MarkDeliverySent finalizes a successful publish. A row already in sent is
// left untouched so the status never regresses.
func (s *Store) MarkDeliverySent(ctx context.Context, id int64, postID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = ?, tiktok_post_id = ?, error_text = NULL, updated_at = ?
		 WHERE id = ?`,
		StatusSent, nullString(postID), timeToDB(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %d sent: %w", id, err)
	}
	return nil
}

// MarkDeliveryFailed records the failure unless the delivery already
// succeeded: sent is terminal.
func (s *Store) MarkDeliveryFailed(ctx context.Context, id int64, errorText string) error {
	if len(errorText) > 2000 {
		errorText = errorText[:2000]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = ?, error_text = ?, updated_at = ?
		 WHERE id = ? AND status != ?`,
		StatusFailed, errorText, timeToDB(time.Now()), id, StatusSent)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %d failed: %w", id, err)
	}
	return nil
}
