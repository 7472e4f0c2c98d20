package realtime

import (
	"encoding/json"
	"io"
	"sync"
)

// Event is one recorded pipeline event
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Recorder keeps every event in memory and optionally echoes it as a JSON line
type Recorder struct {
	mu     sync.Mutex
	events []Event
	out    io.Writer
}

// NewRecorder creates a recorder. out may be nil.
func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{out: out}
}

// Emit records the event
func (r *Recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Event{Name: event, Payload: payload})
	if r.out == nil {
		return nil
	}
	line, err := json.Marshal(Event{Name: event, Payload: payload})
	if err != nil {
		return err
	}
	_, err = r.out.Write(append(line, '\n'))
	return err
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}
