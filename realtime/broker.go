package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run lifecycle notices broadcast to dashboard listeners
const (
	NoticeRunStarted  = "run_started"
	NoticeRunFinished = "run_finished"
	NoticeRunFailed   = "run_failed"
)

// RunNotice is the payload of a lifecycle notice
type RunNotice struct {
	RunID    string    `json:"run_id,omitempty"`
	Pipeline string    `json:"pipeline"`
	Symbol   string    `json:"symbol"`
	Attempts int       `json:"attempts,omitempty"`
	Passed   bool      `json:"passed,omitempty"`
	Fallback bool      `json:"fallback,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Broker fans run lifecycle notices out to SSE listeners
type Broker struct {
	clients    map[chan []byte]bool
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
	hooks      []func(event string, notice RunNotice)
	logger     *zap.Logger
}

// NewBroker creates a new broker
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		clients:    make(map[chan []byte]bool),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the broker loop until ctx is done
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(b.done)
			b.mu.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug("event listener connected", zap.Int("total", total))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug("event listener disconnected", zap.Int("total", total))

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					// Skip slow listeners rather than block the loop
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Subscribe registers a listener. The returned func unregisters it.
// After the broker stops, the channel is already closed.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	select {
	case b.register <- ch:
	case <-b.done:
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		select {
		case b.unregister <- ch:
		case <-b.done:
		}
	}
}

// ServeHTTP streams notices as SSE until the client goes away
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// Broadcast queues an event for all listeners; it never blocks
func (b *Broker) Broadcast(event string, payload any) {
	data := map[string]any{
		"event":   event,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("failed to marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case b.broadcast <- jsonBytes:
	default:
		b.logger.Warn("broadcast buffer full, dropping notice", zap.String("event", event))
	}
}

// Notify broadcasts a lifecycle notice stamped with the current time
func (b *Broker) Notify(event string, notice RunNotice) {
	if b == nil {
		return
	}
	notice.At = time.Now().UTC()
	b.Broadcast(event, notice)

	b.mu.RLock()
	hooks := b.hooks
	b.mu.RUnlock()
	for _, hook := range hooks {
		hook(event, notice)
	}
}

// OnNotice registers fn to receive every lifecycle notice. fn must not block.
func (b *Broker) OnNotice(fn func(event string, notice RunNotice)) {
	b.mu.Lock()
	b.hooks = append(b.hooks, fn)
	b.mu.Unlock()
}
