package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/alibi/internal/hub"
	"github.com/technosupport/alibi/internal/metrics"
)

// StreamHandler serves the live incident push: SSE as the primary surface
// and a websocket mirror for clients that want one.
type StreamHandler struct {
	Hub     *hub.Hub
	Metrics *metrics.Collector
}

// SSE streams hub messages as text/event-stream frames until the client
// disconnects or the hub shuts down.
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response start cannot miss a message published right after.
	sub := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(sub)
	h.Metrics.StreamSubscribers(h.Hub.Subscribers())
	defer func() { h.Metrics.StreamSubscribers(h.Hub.Subscribers()) }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()
			if msg.Event == hub.EventShutdown {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth already happened in middleware; consoles connect cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WS mirrors the same hub messages over a websocket. Write-only from the
// server side; client frames are read and discarded to service control
// messages.
func (h *StreamHandler) WS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(sub)
	h.Metrics.StreamSubscribers(h.Hub.Subscribers())
	defer func() { h.Metrics.StreamSubscribers(h.Hub.Subscribers()) }()

	// Reader goroutine: surfaces client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, open := <-sub.C():
			if !open {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Event == hub.EventShutdown {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
		}
	}
}
