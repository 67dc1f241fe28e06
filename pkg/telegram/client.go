package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FileResolver is the part of the Telegram client the materializer needs:
// turning an opaque file id into a remote path and fetching its bytes.
type FileResolver interface {
	ResolveFilePath(ctx context.Context, fileID string) (string, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Client wraps the Telegram Bot API with a dedicated HTTP client whose
// connections can be forcibly aborted on shutdown. Long-polling requests
// otherwise outlive Stop() and trigger 409 Conflict on the next start.
type Client struct {
	token      string
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// NewClient authenticates against the Bot API. The download client shares
// the 60s source-platform timeout.
func NewClient(token string) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Tying DialContext to our stopCtx lets Stop() abort an in-flight
	// long-poll immediately instead of waiting out its timeout.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Client{
		token: token,
		bot:   bot,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// GetUpdates performs one long-poll iteration.
func (c *Client) GetUpdates(offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeoutSeconds
	return c.bot.GetUpdates(cfg)
}

// SetWebhook registers url as the update sink. Authenticity is enforced by
// the unguessable secret path segment embedded in the url.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set telegram webhook: %w", err)
	}
	return nil
}

// ResolveFilePath asks Telegram for the downloadable path behind a file id.
func (c *Client) ResolveFilePath(_ context.Context, fileID string) (string, error) {
	fileInfo, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to get file info for %s: %w", fileID, err)
	}
	return fileInfo.FilePath, nil
}

// DownloadFile fetches the bytes behind a previously resolved file path.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", "https://api.telegram.org", c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("telegram file download failed: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Stop aborts any in-flight long-poll and clears the connection pool.
func (c *Client) Stop() {
	c.stopCancel()

	if httpClient, ok := c.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
}

// StopContext exposes the shutdown context for the polling loop.
func (c *Client) StopContext() context.Context {
	return c.stopCtx
}
