package monitor

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SafeConn wraps a websocket connection with a write lock, since
// gorilla/websocket allows only one concurrent writer per connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WSMonitor implements Monitor by streaming every pipeline event as a JSON
// frame to all connected admin websocket clients. Connections are attached
// by the HTTP surface after upgrading /admin/events.
type WSMonitor struct {
	mu          sync.RWMutex
	connections map[string]*SafeConn // connection id -> socket
}

func NewWSMonitor() *WSMonitor {
	return &WSMonitor{
		connections: make(map[string]*SafeConn),
	}
}

func (m *WSMonitor) Start() error { return nil }

func (m *WSMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.connections {
		conn.Close()
		delete(m.connections, id)
	}
	return nil
}

// Attach registers an upgraded connection under id and keeps it until the
// peer disconnects or Stop is called.
func (m *WSMonitor) Attach(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[id] = &SafeConn{Conn: conn}
	slog.Info("Admin event stream attached", "conn_id", id)
}

// Detach removes and closes the connection with the given id.
func (m *WSMonitor) Detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[id]; ok {
		conn.Close()
		delete(m.connections, id)
	}
}

// OnEvent broadcasts the event to every attached client. Dead connections
// are dropped on write failure.
func (m *WSMonitor) OnEvent(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to encode monitor event", "error", err)
		return
	}

	m.mu.RLock()
	conns := make(map[string]*SafeConn, len(m.connections))
	for id, conn := range m.connections {
		conns[id] = conn
	}
	m.mu.RUnlock()

	for id, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("Dropping dead event stream client", "conn_id", id, "error", err)
			m.Detach(id)
		}
	}
}
