package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"chanalystd/internal/progressbus"
)

// sseWriter wraps an http.ResponseWriter with the headers and flush
// behavior Server-Sent Events requires.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, f: flusher}, true
}

func (s *sseWriter) sendEvent(ev progressbus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) sendKeepalive() {
	fmt.Fprint(s.w, ": ping\n\n")
	s.f.Flush()
}

// handleChannelProgress bridges the Progress Bus to SSE for a caller-
// supplied request_id, per spec.md §6 ("GET /channel-progress") and §4.2.
func (s *Server) handleChannelProgress(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		respondError(w, http.StatusBadRequest, errValidation("requestId is required"))
		return
	}
	if !s.bus.Exists(requestID) {
		respondError(w, http.StatusNotFound, errNotFound("unknown requestId"))
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, errInternal("streaming not supported"))
		return
	}

	ctx := r.Context()
	events := s.bus.Subscribe(ctx, requestID)
	for ev := range events {
		if progressbus.IsKeepalive(ev) {
			sse.sendKeepalive()
			continue
		}
		if err := sse.sendEvent(ev); err != nil {
			return
		}
	}
}
