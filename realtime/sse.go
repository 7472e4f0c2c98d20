package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEEmitter writes pipeline events as named Server-Sent Events
type SSEEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter configures w for streaming. It returns false when w cannot flush.
func NewSSEEmitter(w http.ResponseWriter) (*SSEEmitter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEEmitter{w: w, flusher: flusher}, true
}

// Emit writes one event frame and flushes it
func (e *SSEEmitter) Emit(event string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
