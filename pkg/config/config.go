package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Settings defines the global application configuration structure.
// This structure maps directly to the config.json file and holds every
// tunable of the bridge: Telegram ingress, TikTok credentials, posting
// policy, media handling and storage locations. All values are read once
// at startup; there is no live reload.
type Settings struct {
	// AppBaseURL is the externally reachable base URL of this service,
	// used to build the Telegram webhook URL.
	AppBaseURL string `json:"app_base_url"`

	// TGBotToken is the secret BOT API string provided by @BotFather.
	TGBotToken string `json:"tg_bot_token"`
	// TGWebhookSecret is the path segment guarding POST /tg/webhook/{secret}.
	TGWebhookSecret string `json:"tg_webhook_secret"`
	// UseTGWebhook selects webhook ingress when true, long polling otherwise.
	UseTGWebhook bool `json:"use_tg_webhook"`
	// TGAllowedChatIDs is a comma-separated list of chat ids allowed to
	// feed the bridge. Empty means no filter.
	TGAllowedChatIDs string `json:"tg_allowed_chat_ids"`
	// TGToTikTokMappingJSON routes chats to account labels, e.g.
	// {"-1001234567890":["acc1","acc2"]}. Chats absent from the mapping
	// broadcast to every account.
	TGToTikTokMappingJSON string `json:"tg_to_tiktok_mapping_json"`

	// TikTokClientKey and TikTokClientSecret identify the TikTok app.
	TikTokClientKey    string `json:"tiktok_client_key"`
	TikTokClientSecret string `json:"tiktok_client_secret"`
	// TikTokRedirectURI must match the redirect registered with TikTok.
	TikTokRedirectURI string `json:"tiktok_redirect_uri"`

	// PostingMode is the default publish mode: "draft" or "direct".
	PostingMode string `json:"posting_mode"`
	// FallbackToDraft retries a failed direct publish as a draft when the
	// failure is classified as permission/unsupported.
	FallbackToDraft bool `json:"fallback_to_draft"`

	// AppendHashtags is appended to every caption, separated by a blank line.
	AppendHashtags string `json:"append_hashtags"`
	// CaptionTemplate fills captions for posts without one; {text} is
	// replaced with the source message text.
	CaptionTemplate string `json:"caption_template"`
	// CaptionMaxLength is the hard cap applied to built captions.
	CaptionMaxLength int `json:"caption_max_length"`

	// StorageDBPath is the SQLite database file owning all durable state.
	StorageDBPath string `json:"storage_db_path"`
	// MediaStoragePath is the root directory for downloaded media files.
	MediaStoragePath string `json:"media_storage_path"`

	// MediaGroupFlushSeconds is the album quiescence window (floor 1s).
	MediaGroupFlushSeconds int `json:"media_group_flush_seconds"`
	// SlideSeconds is the duration of each image in a generated slideshow.
	SlideSeconds int `json:"slide_seconds"`
	// SlideshowFPS is the frame rate of generated slideshow videos.
	SlideshowFPS int `json:"slideshow_fps"`
	// EnablePhotoAPI attempts TikTok's photo/carousel endpoints before
	// falling back to a transcoded video.
	EnablePhotoAPI bool `json:"enable_photo_api"`

	// RateLimitPerMinute caps outbound publishes per account label.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// TGPollingTimeoutSeconds is the long-poll timeout passed to getUpdates.
	TGPollingTimeoutSeconds int `json:"tg_polling_timeout_seconds"`
	// TGPollingIntervalSeconds is the pause between polling iterations.
	TGPollingIntervalSeconds float64 `json:"tg_polling_interval_seconds"`

	// ListenAddr is the bind address of the HTTP surface.
	ListenAddr string `json:"listen_addr"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSettings returns a Settings pointer initialized with hardcoded
// safe default values. This is the base onto which config.json and
// environment overrides are applied, ensuring the bridge can always start.
func DefaultSettings() *Settings {
	return &Settings{
		AppBaseURL:               "http://localhost:8000",
		UseTGWebhook:             true,
		TikTokRedirectURI:        "http://localhost:8000/tiktok/auth/callback",
		PostingMode:              "draft",
		FallbackToDraft:          true,
		CaptionTemplate:          "From TG: {text}",
		CaptionMaxLength:         2200,
		StorageDBPath:            "./data/app.db",
		MediaStoragePath:         "./data/media",
		MediaGroupFlushSeconds:   3,
		SlideSeconds:             2,
		SlideshowFPS:             30,
		RateLimitPerMinute:       6,
		TGPollingTimeoutSeconds:  30,
		TGPollingIntervalSeconds: 1.0,
		ListenAddr:               ":8000",
		LogLevel:                 "info",
	}
}

// Load reads and parses the JSON configuration file at path, starting from
// DefaultSettings. A missing file is not an error: the defaults plus
// environment overrides still form a usable configuration for local runs.
func Load(path string) (*Settings, error) {
	cfg := DefaultSettings()

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the secrets be supplied via environment variables
// so they can stay out of config.json.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		s.TGBotToken = v
	}
	if v := os.Getenv("TG_WEBHOOK_SECRET"); v != "" {
		s.TGWebhookSecret = v
	}
	if v := os.Getenv("TIKTOK_CLIENT_KEY"); v != "" {
		s.TikTokClientKey = v
	}
	if v := os.Getenv("TIKTOK_CLIENT_SECRET"); v != "" {
		s.TikTokClientSecret = v
	}
}

// Validate ensures the configuration contains coherent values. It acts as
// a primary guard before the system proceeds to initialization.
func (s *Settings) Validate() error {
	if s.PostingMode != "draft" && s.PostingMode != "direct" {
		return fmt.Errorf("posting_mode must be 'draft' or 'direct', got %q", s.PostingMode)
	}
	if s.CaptionMaxLength <= 0 {
		return fmt.Errorf("caption_max_length must be positive, got %d", s.CaptionMaxLength)
	}
	if s.StorageDBPath == "" {
		return fmt.Errorf("storage_db_path must not be empty")
	}
	if s.MediaStoragePath == "" {
		return fmt.Errorf("media_storage_path must not be empty")
	}
	if s.MediaGroupFlushSeconds < 1 {
		s.MediaGroupFlushSeconds = 1
	}
	if s.RateLimitPerMinute < 1 {
		s.RateLimitPerMinute = 1
	}
	return nil
}

// AllowedChatIDs parses the comma-separated chat id filter. An empty result
// means every chat is allowed.
func (s *Settings) AllowedChatIDs() map[int64]bool {
	result := make(map[int64]bool)
	for _, raw := range strings.Split(s.TGAllowedChatIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		result[id] = true
	}
	return result
}

// ChatAccountMapping decodes the chat-to-accounts routing table. Malformed
// JSON or entries yield an empty mapping rather than an error: routing then
// falls back to broadcasting, the same as an absent mapping.
func (s *Settings) ChatAccountMapping() map[int64][]string {
	mapping := make(map[int64][]string)
	trimmed := strings.TrimSpace(s.TGToTikTokMappingJSON)
	if trimmed == "" {
		return mapping
	}

	var payload map[string][]string
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return mapping
	}

	for key, value := range payload {
		chatID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			continue
		}
		labels := make([]string, 0, len(value))
		for _, item := range value {
			if item = strings.TrimSpace(item); item != "" {
				labels = append(labels, item)
			}
		}
		if len(labels) > 0 {
			mapping[chatID] = labels
		}
	}
	return mapping
}
