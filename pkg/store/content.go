package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateContentItem durably records the item and returns it with its id
// assigned. The caller must not enqueue the id before this returns.
func (s *Store) CreateContentItem(ctx context.Context, item *ContentItem) (*ContentItem, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.RawUpdateJSON == "" {
		item.RawUpdateJSON = "{}"
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO content_items
			(content_type, source_chat_id, source_message_id, media_group_id,
			 caption, source_text, telegram_file_ids_json, local_files_json,
			 raw_update_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ContentType, item.SourceChatID, item.SourceMessageID, nullString(item.MediaGroupID),
		item.Caption, item.SourceText, stringsToJSON(item.TelegramFileIDs),
		stringsToJSON(item.LocalFiles), item.RawUpdateJSON, timeToDB(item.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create content item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read content item id: %w", err)
	}
	item.ID = id
	return item, nil
}

// ContentItemByID loads one item or ErrNotFound.
func (s *Store) ContentItemByID(ctx context.Context, id int64) (*ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_type, source_chat_id, source_message_id,
			COALESCE(media_group_id, ''), caption, source_text,
			telegram_file_ids_json, local_files_json, raw_update_json,
			created_at, processed_at
		 FROM content_items WHERE id = ?`, id)

	var (
		item        ContentItem
		messageID   sql.NullInt64
		fileIDsJSON string
		localJSON   string
		createdAt   string
		processedAt sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.ContentType, &item.SourceChatID, &messageID,
		&item.MediaGroupID, &item.Caption, &item.SourceText,
		&fileIDsJSON, &localJSON, &item.RawUpdateJSON,
		&createdAt, &processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content item %d: %w", id, err)
	}

	if messageID.Valid {
		item.SourceMessageID = &messageID.Int64
	}
	item.TelegramFileIDs = stringsFromJSON(fileIDsJSON)
	item.LocalFiles = stringsFromJSON(localJSON)
	item.CreatedAt = timeFromDB(createdAt)
	item.ProcessedAt = nullTimeFromDB(processedAt)
	return &item, nil
}

// SetContentLocalFiles persists the materialized local paths. The stored
// list always reflects what was actually written to disk, including
// partial materializations.
func (s *Store) SetContentLocalFiles(ctx context.Context, id int64, paths []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET local_files_json = ? WHERE id = ?`,
		stringsToJSON(paths), id)
	if err != nil {
		return fmt.Errorf("failed to store local files for %d: %w", id, err)
	}
	return nil
}

// MarkContentProcessed stamps the processed instant.
func (s *Store) MarkContentProcessed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET processed_at = ? WHERE id = ?`,
		timeToDB(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark content %d processed: %w", id, err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
