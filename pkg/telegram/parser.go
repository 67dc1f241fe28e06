package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParsedMessage is the normalized form of one Telegram media post.
type ParsedMessage struct {
	SourceChatID   int64
	MessageID      int
	MediaGroupID   string
	ContentType    string // "video" or "photo"
	TelegramFileID string
	Caption        string
	Text           string
	CreatedAt      time.Time
}

// ExtractMessage selects the message variant from an update: channel posts
// take precedence over direct messages; anything else is rejected.
func ExtractMessage(update *tgbotapi.Update) *tgbotapi.Message {
	if update.ChannelPost != nil {
		return update.ChannelPost
	}
	return update.Message
}

// ParseMessage normalizes a Telegram message into a ParsedMessage, or
// returns nil when the message carries no usable media. Kind detection
// precedence: video attachment, video document, photo sizes.
func ParseMessage(message *tgbotapi.Message) *ParsedMessage {
	if message == nil || message.Chat == nil || message.MessageID == 0 {
		return nil
	}

	base := ParsedMessage{
		SourceChatID: message.Chat.ID,
		MessageID:    message.MessageID,
		MediaGroupID: message.MediaGroupID,
		Caption:      strings.TrimSpace(message.Caption),
		Text:         strings.TrimSpace(message.Text),
		CreatedAt:    messageTime(message.Date),
	}

	if message.Video != nil && message.Video.FileID != "" {
		base.ContentType = "video"
		base.TelegramFileID = message.Video.FileID
		return &base
	}

	if doc := message.Document; doc != nil && doc.FileID != "" && isVideoMime(doc.MimeType) {
		base.ContentType = "video"
		base.TelegramFileID = doc.FileID
		return &base
	}

	if len(message.Photo) > 0 {
		best := pickLargestPhoto(message.Photo)
		if best.FileID != "" {
			base.ContentType = "photo"
			base.TelegramFileID = best.FileID
			return &base
		}
	}

	return nil
}

// pickLargestPhoto selects the size whose (byte size, pixel area) pair is
// lexicographically largest. Telegram usually sends sizes ascending, but
// the order is not guaranteed.
func pickLargestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, candidate := range sizes[1:] {
		if candidate.FileSize > best.FileSize {
			best = candidate
			continue
		}
		if candidate.FileSize == best.FileSize &&
			candidate.Width*candidate.Height > best.Width*best.Height {
			best = candidate
		}
	}
	return best
}

func isVideoMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "video/")
}

func messageTime(unixSeconds int) time.Time {
	if unixSeconds > 0 {
		return time.Unix(int64(unixSeconds), 0).UTC()
	}
	return time.Now().UTC()
}
