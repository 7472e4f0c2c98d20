package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finexplain/database"
	"finexplain/pipeline"
	"finexplain/realtime"
)

type fakeRunner struct {
	judgementErr error
	lastReq      pipeline.JudgementRequest
	lastChat     pipeline.ChatRequest
}

func (f *fakeRunner) RunJudgement(_ context.Context, req pipeline.JudgementRequest, em pipeline.Emitter) (*pipeline.JudgementResult, error) {
	f.lastReq = req
	_ = em.Emit(pipeline.EventStatus, pipeline.StatusPayload{Stage: pipeline.StageStart})
	if f.judgementErr != nil {
		_ = em.Emit(pipeline.EventError, pipeline.ErrorPayload{Error: "signal_extract_failed"})
		_ = em.Emit(pipeline.EventDone, struct{}{})
		return nil, f.judgementErr
	}
	res := &pipeline.JudgementResult{
		Run:      pipeline.Run{RunID: "run-1", Symbol: strings.ToUpper(req.Symbol), CreatedAt: time.Now()},
		Answer:   "답변",
		Attempts: 1,
		Passed:   true,
	}
	_ = em.Emit(pipeline.EventFinal, pipeline.FinalPayload{RunID: "run-1", Answer: res.Answer, Attempts: 1, Passed: true})
	_ = em.Emit(pipeline.EventDone, struct{}{})
	return res, nil
}

func (f *fakeRunner) RunChat(_ context.Context, req pipeline.ChatRequest, em pipeline.Emitter) (*pipeline.ChatResult, error) {
	f.lastChat = req
	_ = em.Emit(pipeline.EventFinal, pipeline.ChatFinalPayload{Answer: "설명", Attempts: 1})
	_ = em.Emit(pipeline.EventDone, struct{}{})
	return &pipeline.ChatResult{Request: req, Answer: "설명", Attempts: 1}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	runs      map[string]*database.RunRecord
	chats     []*database.ChatRecord
	lastLimit int
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]*database.RunRecord)}
}

func (f *fakeStore) SaveRun(_ context.Context, rec *database.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[rec.RunID] = rec
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*database.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.runs[id]
	if !ok {
		return nil, database.NewNotFoundError("run", id)
	}
	return rec, nil
}

func (f *fakeStore) ListRuns(_ context.Context, symbol string, limit int) ([]database.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []database.RunRecord
	for _, rec := range f.runs {
		if symbol == "" || rec.Symbol == symbol {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveChat(_ context.Context, rec *database.ChatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, rec)
	return nil
}

func (f *fakeStore) ListChats(_ context.Context, _ string, limit int) ([]database.ChatRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	out := make([]database.ChatRecord, 0, len(f.chats))
	for _, rec := range f.chats {
		out = append(out, *rec)
	}
	return out, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func TestJudgementStreamPersistsRun(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	h := NewServer(runner, store, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/judgement/stream", strings.NewReader(`{"symbol":"aapl","question":"왜?"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: status\n")
	assert.Contains(t, body, "event: final\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {}\n\n"))

	assert.Equal(t, "aapl", runner.lastReq.Symbol)
	require.Contains(t, store.runs, "run-1")
	assert.Equal(t, "AAPL", store.runs["run-1"].Symbol)
}

func TestJudgementStreamGETReadsQuery(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/judgement/stream?symbol=NVDA&question=q", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NVDA", runner.lastReq.Symbol)
	assert.Equal(t, "q", runner.lastReq.Question)
}

func TestJudgementStreamRejectsBadRequests(t *testing.T) {
	h := NewServer(&fakeRunner{}, nil, nil, nil, nil).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "symbol=AAPL"},
		{"missing symbol", `{"question":"q"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/judgement/stream", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestJudgementFailureIsNotPersisted(t *testing.T) {
	store := newFakeStore()
	h := NewServer(&fakeRunner{judgementErr: errors.New("boom")}, store, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/judgement/stream", strings.NewReader(`{"symbol":"AAPL"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.Empty(t, store.runs)
}

func TestJudgementWebSocket(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeRunner{}, nil, nil, nil, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/judgement/ws?symbol=AAPL"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var events []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var f realtime.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		events = append(events, f.Event)
	}
	assert.Equal(t, []string{pipeline.EventStatus, pipeline.EventFinal, pipeline.EventDone}, events)
}

func TestChatStreamSavesAnswer(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	h := NewServer(runner, store, nil, nil, nil).Handler()

	body := `{"symbol":"tsla","interval":"1d","question":"이 구간은 어떤 흐름인가요?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: final\n")
	require.Len(t, store.chats, 1)
	assert.Equal(t, "TSLA", store.chats[0].Symbol)
}

func TestChatStreamRequiresQuestion(t *testing.T) {
	h := NewServer(&fakeRunner{}, nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"symbol":"TSLA"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &database.RunRecord{RunID: "run-1", Symbol: "AAPL"}
	h := NewServer(&fakeRunner{}, store, nil, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var got database.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "AAPL", got.Symbol)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHistoryDisabled(t *testing.T) {
	h := NewServer(&fakeRunner{}, nil, nil, nil, nil).Handler()

	for _, path := range []string{"/api/runs", "/api/runs/x", "/api/chats"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestListRunsLimit(t *testing.T) {
	store := newFakeStore()
	h := NewServer(&fakeRunner{}, store, nil, nil, nil).Handler()

	tests := []struct {
		query string
		want  int
	}{
		{"", database.DefaultListLimit},
		{"?limit=5", 5},
		{"?limit=0", database.DefaultListLimit},
		{"?limit=abc", database.DefaultListLimit},
		{"?limit=1000", database.DefaultListLimit},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs"+tt.query, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tt.want, store.lastLimit, tt.query)
	}

	store.listErr = errors.New("db down")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		health HealthChecker
		want   map[string]string
	}{
		{"no database", nil, map[string]string{"status": "ok", "database": "disabled"}},
		{"healthy", fakeHealth{}, map[string]string{"status": "ok", "database": "ok"}},
		{"unhealthy", fakeHealth{err: errors.New("down")}, map[string]string{"status": "degraded", "database": "unavailable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&fakeRunner{}, nil, tt.health, nil, nil).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewServer(&fakeRunner{}, nil, nil, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
