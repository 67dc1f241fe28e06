package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the pipeline.
const (
	EventContentCreated  = "CONTENT_CREATED"
	EventDeliveryPending = "DELIVERY_PENDING"
	EventDeliverySent    = "DELIVERY_SENT"
	EventDeliveryFailed  = "DELIVERY_FAILED"
	EventAlbumFlushed    = "ALBUM_FLUSHED"
)

// Event is one observable pipeline transition: a content item entering the
// queue or a delivery changing status against one account.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
	ContentItemID int64     `json:"content_item_id,omitempty"`
	SourceKey     string    `json:"source_key,omitempty"`
	AccountLabel  string    `json:"account_label,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnEvent 接收並顯示一則管線事件
	OnEvent(evt Event)
}

// Bus fans pipeline events out to every registered monitor. Emission never
// blocks the pipeline: monitors that need buffering handle it themselves.
type Bus struct {
	mu       sync.RWMutex
	monitors []Monitor
}

func NewBus() *Bus {
	return &Bus{}
}

// Register adds a monitor and starts it.
func (b *Bus) Register(m Monitor) {
	if err := m.Start(); err != nil {
		slog.Warn("Monitor failed to start", "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitors = append(b.monitors, m)
}

// Emit stamps the event with an id and timestamp and broadcasts it.
func (b *Bus) Emit(evt Event) {
	if b == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.Timestamp = time.Now().UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.monitors {
		m.OnEvent(evt)
	}
}

// Stop stops all registered monitors.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.monitors {
		if err := m.Stop(); err != nil {
			slog.Warn("Error stopping monitor", "error", err)
		}
	}
	b.monitors = nil
}
