package telegram

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateHandler receives each update pulled by the poller.
type UpdateHandler func(update *tgbotapi.Update)

// Poller drives long-poll ingress when the webhook is disabled. Transport
// errors back off exponentially and reset on the next successful poll; the
// update offset only advances past updates that were handed to the handler.
type Poller struct {
	client         *Client
	handler        UpdateHandler
	timeoutSeconds int
	interval       time.Duration
}

func NewPoller(client *Client, handler UpdateHandler, timeoutSeconds int, interval time.Duration) *Poller {
	if timeoutSeconds < 1 {
		timeoutSeconds = 30
	}
	return &Poller{
		client:         client,
		handler:        handler,
		timeoutSeconds: timeoutSeconds,
		interval:       interval,
	}
}

// Run polls until the client is stopped. It is meant to be launched in its
// own goroutine.
func (p *Poller) Run() {
	slog.Info("Telegram polling started", "timeout_seconds", p.timeoutSeconds)

	offset := 0
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0 // keep polling forever

	for {
		select {
		case <-p.client.StopContext().Done():
			slog.Info("Telegram polling stopped")
			return
		default:
		}

		updates, err := p.client.GetUpdates(offset, p.timeoutSeconds)
		if err != nil {
			select {
			case <-p.client.StopContext().Done():
				return // shutdown aborts the request; not an error
			default:
			}
			wait := retry.NextBackOff()
			slog.Warn("Failed to get telegram updates", "error", err, "retry_in", wait)
			time.Sleep(wait)
			continue
		}
		retry.Reset()

		for i := range updates {
			update := updates[i]
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.handler(&update)
		}

		if p.interval > 0 {
			time.Sleep(p.interval)
		}
	}
}
