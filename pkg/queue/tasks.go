package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"

	"crosspost/pkg/config"
	"crosspost/pkg/media"
	"crosspost/pkg/monitor"
	"crosspost/pkg/store"
	"crosspost/pkg/telegram"
	"crosspost/pkg/tiktok"
	"crosspost/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tasks holds the bridge's processing pipeline: Telegram updates in, album
// aggregation in the middle, TikTok deliveries out. The Worker drives it;
// the HTTP webhook and the poller both feed IngestUpdate.
type Tasks struct {
	store      *store.Store
	cfg        *config.Settings
	resolver   telegram.FileResolver
	aggregator *telegram.Aggregator
	oauth      *tiktok.OAuth
	publisher  *tiktok.Publisher
	limiter    *utils.RateLimiter
	bus        *monitor.Bus

	// enqueue schedules a content item for asynchronous processing. The
	// Worker injects it; until then items are processed inline.
	enqueue func(contentItemID int64)
}

func NewTasks(
	s *store.Store,
	cfg *config.Settings,
	resolver telegram.FileResolver,
	aggregator *telegram.Aggregator,
	oauth *tiktok.OAuth,
	publisher *tiktok.Publisher,
	limiter *utils.RateLimiter,
	bus *monitor.Bus,
) *Tasks {
	return &Tasks{
		store:      s,
		cfg:        cfg,
		resolver:   resolver,
		aggregator: aggregator,
		oauth:      oauth,
		publisher:  publisher,
		limiter:    limiter,
		bus:        bus,
	}
}

// SetEnqueue wires the asynchronous scheduler, normally Worker.Enqueue.
func (t *Tasks) SetEnqueue(fn func(contentItemID int64)) {
	t.enqueue = fn
}

func (t *Tasks) schedule(ctx context.Context, contentItemID int64) {
	if t.enqueue != nil {
		t.enqueue(contentItemID)
		return
	}
	if err := t.ProcessContentItem(ctx, contentItemID); err != nil {
		slog.Error("inline content processing failed",
			"content_item_id", contentItemID, "error", err)
	}
}

// IngestUpdate accepts one Telegram update. Non-media and disallowed-chat
// updates are dropped. Album members go to the persistent aggregator;
// standalone posts become a content item immediately.
func (t *Tasks) IngestUpdate(ctx context.Context, update *tgbotapi.Update) error {
	message := telegram.ExtractMessage(update)
	parsed := telegram.ParseMessage(message)
	if parsed == nil {
		return nil
	}

	if allowed := t.cfg.AllowedChatIDs(); len(allowed) > 0 && !allowed[parsed.SourceChatID] {
		slog.Debug("dropping update from disallowed chat", "chat_id", parsed.SourceChatID)
		return nil
	}

	rawJSON := marshalRaw(message)

	if parsed.MediaGroupID != "" {
		if err := t.aggregator.Add(ctx, parsed, rawJSON); err != nil {
			return fmt.Errorf("failed to buffer album member: %w", err)
		}
		slog.Info("buffered album member",
			"chat_id", parsed.SourceChatID,
			"message_id", parsed.MessageID,
			"media_group_id", parsed.MediaGroupID)
		return nil
	}

	messageID := int64(parsed.MessageID)
	item, err := t.store.CreateContentItem(ctx, &store.ContentItem{
		ContentType:     parsed.ContentType,
		SourceChatID:    parsed.SourceChatID,
		SourceMessageID: &messageID,
		Caption:         parsed.Caption,
		SourceText:      parsed.Text,
		TelegramFileIDs: []string{parsed.TelegramFileID},
		RawUpdateJSON:   rawJSON,
		CreatedAt:       parsed.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to persist content item: %w", err)
	}

	t.bus.Emit(monitor.Event{
		Kind:          monitor.EventContentCreated,
		ContentItemID: item.ID,
		SourceKey:     item.SourceKey(),
		Detail:        item.ContentType,
	})

	t.schedule(ctx, item.ID)
	return nil
}

// FlushDueAlbums converts every quiesced album into one content item and
// schedules it. Called periodically by the Worker's flusher.
func (t *Tasks) FlushDueAlbums(ctx context.Context, now time.Time) error {
	bundles, err := t.aggregator.FlushDue(ctx, now)
	if err != nil {
		return err
	}

	for _, bundle := range bundles {
		firstID := int64(0)
		if len(bundle.SourceMessageIDs) > 0 {
			firstID = int64(bundle.SourceMessageIDs[0])
			for _, id := range bundle.SourceMessageIDs[1:] {
				if int64(id) < firstID {
					firstID = int64(id)
				}
			}
		}

		item, err := t.store.CreateContentItem(ctx, &store.ContentItem{
			ContentType:     store.KindAlbum,
			SourceChatID:    bundle.SourceChatID,
			SourceMessageID: &firstID,
			MediaGroupID:    bundle.MediaGroupID,
			Caption:         bundle.Caption,
			SourceText:      bundle.SourceText,
			TelegramFileIDs: bundle.FileIDs,
			RawUpdateJSON:   marshalRaw(albumSnapshot(bundle)),
			CreatedAt:       bundle.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to persist flushed album %s: %w", bundle.MediaGroupID, err)
		}

		t.bus.Emit(monitor.Event{
			Kind:          monitor.EventAlbumFlushed,
			ContentItemID: item.ID,
			SourceKey:     item.SourceKey(),
			Detail:        fmt.Sprintf("%d items", len(bundle.FileIDs)),
		})
		slog.Info("album flushed",
			"media_group_id", bundle.MediaGroupID,
			"content_item_id", item.ID,
			"members", len(bundle.FileIDs))

		t.schedule(ctx, item.ID)
	}
	return nil
}

func albumSnapshot(bundle telegram.Bundle) map[string]interface{} {
	return map[string]interface{}{
		"media_group_id":     bundle.MediaGroupID,
		"source_message_ids": bundle.SourceMessageIDs,
	}
}

// ProcessContentItem is the delivery fan-out for one item: materialize the
// media, build the caption, then publish to every target account exactly
// once. Safe to re-invoke: sent deliveries are skipped, failed ones retried.
func (t *Tasks) ProcessContentItem(ctx context.Context, contentItemID int64) error {
	item, err := t.store.ContentItemByID(ctx, contentItemID)
	if err != nil {
		return fmt.Errorf("failed to load content item %d: %w", contentItemID, err)
	}

	accounts, err := t.targetAccounts(ctx, item.SourceChatID)
	if err != nil {
		return err
	}
	// processed_at is stamped only after the delivery loop ran; the early
	// exits below leave it NULL so the item stays eligible for reprocessing.
	if len(accounts) == 0 {
		slog.Warn("no authorized accounts for content item, skipping",
			"content_item_id", item.ID)
		return nil
	}

	if !localFilesReady(item) {
		files, err := t.materializeFiles(ctx, item)
		if err != nil {
			t.failAllDeliveries(ctx, item, accounts, err.Error())
			return err
		}
		if err := t.store.SetContentLocalFiles(ctx, item.ID, files); err != nil {
			return fmt.Errorf("failed to record local files: %w", err)
		}
		item.LocalFiles = files
	}

	caption := media.BuildCaption(item.Caption, item.SourceText,
		t.cfg.CaptionTemplate, t.cfg.AppendHashtags, t.cfg.CaptionMaxLength)
	sourceKey := item.SourceKey()

	var firstErr error
	for _, account := range accounts {
		if err := t.deliverToAccount(ctx, item, account, sourceKey, caption); err != nil {
			slog.Error("delivery failed",
				"source_key", sourceKey,
				"account", account.AccountLabel,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := t.store.MarkContentProcessed(ctx, item.ID, time.Now().UTC()); err != nil {
		return err
	}
	return firstErr
}

// localFilesReady reports whether every Telegram handle already has a file
// on disk, letting the materializer be skipped. A vanished path or a partial
// earlier download forces a fresh pass over the whole handle list.
func localFilesReady(item *store.ContentItem) bool {
	if len(item.LocalFiles) == 0 || len(item.LocalFiles) != len(item.TelegramFileIDs) {
		return false
	}
	for _, path := range item.LocalFiles {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// deliverToAccount performs one (content item, account) delivery under the
// exactly-once interlock and the per-account rate limit.
func (t *Tasks) deliverToAccount(ctx context.Context, item *store.ContentItem, account *store.Account, sourceKey, caption string) error {
	delivery, err := t.store.EnsureDelivery(ctx, item.ID, sourceKey, account.AccountLabel)
	if err != nil {
		return fmt.Errorf("failed to ensure delivery row: %w", err)
	}
	if delivery.Status == store.StatusSent {
		slog.Info("delivery already sent, skipping",
			"source_key", sourceKey, "account", account.AccountLabel)
		return nil
	}

	t.bus.Emit(monitor.Event{
		Kind:          monitor.EventDeliveryPending,
		ContentItemID: item.ID,
		SourceKey:     sourceKey,
		AccountLabel:  account.AccountLabel,
	})

	if err := t.limiter.Wait(ctx, account.AccountLabel); err != nil {
		return err
	}

	accessToken, err := t.oauth.EnsureValidToken(ctx, account)
	if err != nil {
		t.recordFailure(ctx, item, delivery, sourceKey, account.AccountLabel, err)
		return err
	}

	result, err := t.publisher.Publish(ctx, item, accessToken, caption, account.PostingMode)
	if err != nil {
		t.recordFailure(ctx, item, delivery, sourceKey, account.AccountLabel, err)
		return err
	}

	if err := t.store.MarkDeliverySent(ctx, delivery.ID, result.PostID); err != nil {
		return err
	}
	t.bus.Emit(monitor.Event{
		Kind:          monitor.EventDeliverySent,
		ContentItemID: item.ID,
		SourceKey:     sourceKey,
		AccountLabel:  account.AccountLabel,
		Detail:        fmt.Sprintf("mode=%s post_id=%s", result.Mode, result.PostID),
	})
	slog.Info("delivery sent",
		"source_key", sourceKey,
		"account", account.AccountLabel,
		"mode", result.Mode,
		"post_id", result.PostID)
	return nil
}

func (t *Tasks) recordFailure(ctx context.Context, item *store.ContentItem, delivery *store.Delivery, sourceKey, accountLabel string, cause error) {
	if err := t.store.MarkDeliveryFailed(ctx, delivery.ID, cause.Error()); err != nil {
		slog.Error("failed to record delivery failure", "delivery_id", delivery.ID, "error", err)
	}
	t.bus.Emit(monitor.Event{
		Kind:          monitor.EventDeliveryFailed,
		ContentItemID: item.ID,
		SourceKey:     sourceKey,
		AccountLabel:  accountLabel,
		Detail:        cause.Error(),
	})
}

func (t *Tasks) failAllDeliveries(ctx context.Context, item *store.ContentItem, accounts []*store.Account, errorText string) {
	sourceKey := item.SourceKey()
	for _, account := range accounts {
		delivery, err := t.store.EnsureDelivery(ctx, item.ID, sourceKey, account.AccountLabel)
		if err != nil {
			slog.Error("failed to ensure delivery row", "account", account.AccountLabel, "error", err)
			continue
		}
		if delivery.Status == store.StatusSent {
			continue
		}
		t.recordFailure(ctx, item, delivery, sourceKey, account.AccountLabel, fmt.Errorf("%s", errorText))
	}
}

// targetAccounts resolves the accounts a chat routes to: the configured
// mapping when the chat has an entry, otherwise every authorized account.
func (t *Tasks) targetAccounts(ctx context.Context, chatID int64) ([]*store.Account, error) {
	mapping := t.cfg.ChatAccountMapping()
	labels := mapping[chatID]
	accounts, err := t.store.ListAccounts(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to list target accounts: %w", err)
	}
	return accounts, nil
}

// materializeFiles downloads every Telegram file of the item into the media
// store. Individual failures are skipped; zero surviving files is an error.
func (t *Tasks) materializeFiles(ctx context.Context, item *store.ContentItem) ([]string, error) {
	dir := filepath.Join(t.cfg.MediaStoragePath, fmt.Sprintf("%d", item.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	var files []string
	for idx, fileID := range item.TelegramFileIDs {
		remotePath, err := t.resolver.ResolveFilePath(ctx, fileID)
		if err != nil {
			slog.Warn("failed to resolve telegram file, skipping",
				"content_item_id", item.ID, "file_id", fileID, "error", err)
			continue
		}
		data, err := t.resolver.DownloadFile(ctx, remotePath)
		if err != nil {
			slog.Warn("failed to download telegram file, skipping",
				"content_item_id", item.ID, "file_id", fileID, "error", err)
			continue
		}

		name := fmt.Sprintf("%d_%s", idx, safeBasename(remotePath, item.ContentType))
		local := filepath.Join(dir, name)
		if err := os.WriteFile(local, data, 0o644); err != nil {
			slog.Warn("failed to write media file, skipping",
				"content_item_id", item.ID, "path", local, "error", err)
			continue
		}
		files = append(files, local)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no media files could be downloaded for content item %d", item.ID)
	}
	return files, nil
}

// safeBasename keeps the Telegram-assigned filename but guarantees a usable
// extension so downstream kind detection works.
func safeBasename(remotePath, contentType string) string {
	base := filepath.Base(remotePath)
	if strings.ContainsRune(base, '.') && base != "." {
		return base
	}
	if contentType == store.KindVideo {
		return base + ".mp4"
	}
	return base + ".jpg"
}

func marshalRaw(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
