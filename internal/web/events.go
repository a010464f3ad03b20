package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

const sseBuffer = 8

type ssePayload struct {
	Kind events.Kind `json:"kind"`
	Key  string      `json:"key"`
	At   time.Time   `json:"at"`
}

// handleCartEvents streams change events of the visitor's namespace so every open tab can
// refresh its cart widgets. Slow clients drop events rather than block publishers.
func (s *Server) handleCartEvents(w http.ResponseWriter, r *http.Request) {
	store, err := s.cartStore(r)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "retry: 3000\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		observability.FromContext(r.Context()).Warn("sse flush unsupported", zap.Error(err))
		return
	}

	ch := make(chan events.Event, sseBuffer)
	unsubscribe := store.Subscribe(func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-ch:
			data, err := json.Marshal(ssePayload{Kind: ev.Kind, Key: ev.Key, At: ev.At})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
