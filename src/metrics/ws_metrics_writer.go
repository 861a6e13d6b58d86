package metrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"signalbot/src/datamodels"
)

// WebsocketMetricsWriter broadcasts every metric to connected /ws clients.
type WebsocketMetricsWriter struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
}

func NewWebSocketMetricsWriter() *WebsocketMetricsWriter {
	return &WebsocketMetricsWriter{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (w *WebsocketMetricsWriter) AddClient(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[conn] = true
}

func (w *WebsocketMetricsWriter) RemoveClient(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.clients, conn)
}

func (w *WebsocketMetricsWriter) NumClients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Write drops clients that fail so one dead connection doesn't starve the rest.
func (w *WebsocketMetricsWriter) Write(ctx context.Context, metric datamodels.Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for client := range w.clients {
		if err := client.WriteJSON(metric); err != nil {
			slog.Warn("Dropping websocket client", "remote", client.RemoteAddr(), "error", err)
			client.Close()
			delete(w.clients, client)
		}
	}
	return nil
}

func (w *WebsocketMetricsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for client := range w.clients {
		client.Close()
		delete(w.clients, client)
	}
	return nil
}
