package watchbus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// SSEHandler streams lock transition events over Server-Sent Events.
// The watched lock key is taken from the "lock" query parameter.
func SSEHandler(bus WatchBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("lock")
		if key == "" {
			http.Error(w, "missing lock", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			cancel()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), key, ch)
		}()
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		id := 0
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				id++
				// Lock events are framed with their transition as the SSE
				// event name so clients can listen for "acquired" or
				// "released" directly.
				var err error
				if evt, ok := DecodeLockEvent(msg); ok {
					_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", evt.Event, id, msg)
				} else {
					_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", id, msg)
				}
				if err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams lock transition events over WebSocket.
// The watched lock key is taken from the "lock" query parameter.
func WebSocketHandler(bus WatchBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("lock")
		if key == "" {
			http.Error(w, "missing lock", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			cancel()
			return
		}
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), key, ch)
		}()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var werr error
				if evt, ok := DecodeLockEvent(msg); ok {
					werr = conn.WriteJSON(evt)
				} else {
					werr = conn.WriteMessage(websocket.TextMessage, msg)
				}
				if werr != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
