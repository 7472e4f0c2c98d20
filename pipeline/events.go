package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finexplain/rag"
)

// Emitter delivers named events to the caller in order
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event string, payload any) error

// Emit calls f
func (f EmitterFunc) Emit(event string, payload any) error {
	return f(event, payload)
}

// Event names
const (
	EventStatus      = "status"
	EventRag         = "rag"
	EventRagBundle   = "rag_bundle"
	EventSignal      = "signal"
	EventStory       = "story"
	EventMarketCheck = "market_check"
	EventPeerAdjust  = "peer_adjust"
	EventGrounding   = "grounding"
	EventFinal       = "final"
	EventError       = "error"
	EventDone        = "done"
)

// Stage names carried by status events
const (
	StageStart          = "start"
	StageCollect        = "collect"
	StageSignalExtract  = "signal_extract"
	StageStoryLink      = "story_link"
	StageMarketCheck    = "market_check"
	StagePeerAdjust     = "peer_adjust"
	StageFinalJudgement = "final_judgement"
	StageVerify         = "verify"
	StageGrounding      = "grounding"
	StageExplain        = "explain"
)

// ErrEmptyStory is returned by the story linker when the model produced nothing
var ErrEmptyStory = errors.New("story linker returned empty text")

// StageError is a fatal failure that aborts a run
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StatusPayload is the payload of a status event
type StatusPayload struct {
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt,omitempty"`
}

// ErrorPayload is the payload of an error event
type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RagPayload is the payload of a rag event
type RagPayload struct {
	RunID     string   `json:"run_id"`
	InputHash string   `json:"input_hash"`
	RagMeta   rag.Meta `json:"rag_meta"`
}

// FinalPayload is the payload of a judgement final event
type FinalPayload struct {
	RunID     string       `json:"run_id"`
	InputHash string       `json:"input_hash"`
	Answer    string       `json:"answer"`
	Attempts  int          `json:"attempts"`
	Passed    bool         `json:"passed"`
	Verifier  Verification `json:"verifier"`
}

// ChatFinalPayload is the payload of a chat final event
type ChatFinalPayload struct {
	Answer   string        `json:"answer"`
	Fallback bool          `json:"fallback"`
	Attempts int           `json:"attempts"`
	Verifier *Verification `json:"verifier,omitempty"`
}

// stream wraps an Emitter so that delivery failures are logged once and otherwise ignored.
// The run keeps going after the consumer disconnects.
type stream struct {
	em     Emitter
	logger *zap.Logger
	broken bool
}

func newStream(em Emitter, logger *zap.Logger) *stream {
	return &stream{em: em, logger: logger}
}

func (s *stream) emit(event string, payload any) {
	if s.em == nil || s.broken {
		return
	}
	if err := s.em.Emit(event, payload); err != nil {
		s.broken = true
		s.logger.Warn("event delivery failed, continuing without consumer",
			zap.String("event", event), zap.Error(err))
	}
}

func (s *stream) status(stage string, attempt int) {
	s.emit(EventStatus, StatusPayload{Stage: stage, Attempt: attempt})
}

// fail emits error then done
func (s *stream) fail(err error) {
	p := ErrorPayload{Error: err.Error()}
	var se *StageError
	if errors.As(err, &se) {
		p.Error = se.Stage + "_failed"
		p.Details = se.Err.Error()
	}
	s.emit(EventError, p)
	s.done()
}

func (s *stream) done() {
	s.emit(EventDone, struct{}{})
}
