package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AddAlbumRow buffers one album member. Re-submission of the same member
// (same group, message id and file id) is a no-op thanks to the unique
// constraint, making ingestion idempotent under webhook retries.
func (s *Store) AddAlbumRow(ctx context.Context, row *AlbumRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.RawMessageJSON == "" {
		row.RawMessageJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO media_group_buffer
			(media_group_id, source_chat_id, source_message_id, content_type,
			 telegram_file_id, caption, source_text, raw_message_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.MediaGroupID, row.SourceChatID, row.SourceMessageID, row.ContentType,
		row.TelegramFileID, row.Caption, row.SourceText, row.RawMessageJSON,
		timeToDB(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to buffer album member: %w", err)
	}
	return nil
}

// FlushDueAlbumRows selects every album whose earliest buffered member is at
// or before threshold, returns its rows ordered by message id ascending, and
// deletes them — all inside one transaction so a concurrent AddAlbumRow
// either lands before the snapshot or starts a fresh group.
func (s *Store) FlushDueAlbumRows(ctx context.Context, threshold time.Time) (map[string][]AlbumRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	dueRows, err := tx.QueryContext(ctx,
		`SELECT media_group_id FROM media_group_buffer
		 GROUP BY media_group_id
		 HAVING MIN(created_at) <= ?`,
		timeToDB(threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to select due albums: %w", err)
	}

	var dueIDs []string
	for dueRows.Next() {
		var id string
		if err := dueRows.Scan(&id); err != nil {
			dueRows.Close()
			return nil, err
		}
		dueIDs = append(dueIDs, id)
	}
	dueRows.Close()
	if err := dueRows.Err(); err != nil {
		return nil, err
	}
	if len(dueIDs) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dueIDs)), ",")
	args := make([]any, len(dueIDs))
	for i, id := range dueIDs {
		args[i] = id
	}

	memberRows, err := tx.QueryContext(ctx,
		`SELECT id, media_group_id, source_chat_id, source_message_id, content_type,
			telegram_file_id, caption, source_text, raw_message_json, created_at
		 FROM media_group_buffer
		 WHERE media_group_id IN (`+placeholders+`)
		 ORDER BY media_group_id, source_message_id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read album members: %w", err)
	}

	groups := make(map[string][]AlbumRow, len(dueIDs))
	for memberRows.Next() {
		var (
			row       AlbumRow
			createdAt string
		)
		err := memberRows.Scan(
			&row.ID, &row.MediaGroupID, &row.SourceChatID, &row.SourceMessageID,
			&row.ContentType, &row.TelegramFileID, &row.Caption, &row.SourceText,
			&row.RawMessageJSON, &createdAt,
		)
		if err != nil {
			memberRows.Close()
			return nil, err
		}
		row.CreatedAt = timeFromDB(createdAt)
		groups[row.MediaGroupID] = append(groups[row.MediaGroupID], row)
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM media_group_buffer WHERE media_group_id IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("failed to prune flushed albums: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit album flush: %w", err)
	}
	return groups, nil
}
