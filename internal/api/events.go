package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/orchestrator"
)

// handleEvents streams run events as server-sent events until the run ends or
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no run in progress")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.WithError(err).Debug("set write deadline for SSE")
	}

	// A broker closed at the end of the run hands out a closed channel, so late
	// clients get the done event straight away.
	ch, unsub := s.broker.Subscribe()
	defer unsub()
	defer trackStream()()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeRunEvent(w, ev); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeRunEvent writes ev as a named SSE event carrying its JSON encoding.
func writeRunEvent(w http.ResponseWriter, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := writeSSEEvent(w, string(ev.Type), string(data)); err != nil {
		return err
	}
	eventsSent.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
