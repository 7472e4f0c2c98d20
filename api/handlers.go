package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finexplain/database"
	"finexplain/pipeline"
	"finexplain/realtime"
)

const (
	pipelineJudgement = "judgement"
	pipelineChat      = "chat"
)

// handleJudgementStream runs a judgement and streams its events as SSE.
// POST reads a JSON body; GET reads symbol and question query params for EventSource clients.
func (s *Server) handleJudgementStream(w http.ResponseWriter, r *http.Request) {
	var req pipeline.JudgementRequest
	if r.Method == http.MethodPost {
		if err := decodeJSONBody(w, r, &req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	} else {
		req.Symbol = r.URL.Query().Get("symbol")
		req.Question = r.URL.Query().Get("question")
	}
	if strings.TrimSpace(req.Symbol) == "" {
		s.respondWithError(w, http.StatusBadRequest, "symbol is required", nil)
		return
	}

	em, ok := realtime.NewSSEEmitter(w)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}
	s.runJudgement(r.Context(), req, em)
}

// handleJudgementWS runs a judgement over a WebSocket. format=proto selects binary structpb frames.
func (s *Server) handleJudgementWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := pipeline.JudgementRequest{Symbol: q.Get("symbol"), Question: q.Get("question")}
	if strings.TrimSpace(req.Symbol) == "" {
		s.respondWithError(w, http.StatusBadRequest, "symbol is required", nil)
		return
	}

	conn, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Drain client frames so control messages are processed
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	em := realtime.NewWSEmitter(conn, q.Get("format"))
	em.StartPing(wsPingInterval)
	defer em.Close()

	s.runJudgement(r.Context(), req, em)
}

// handleChatStream answers a chat question and streams its events as SSE
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ChatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Question) == "" {
		s.respondWithError(w, http.StatusBadRequest, "symbol and question are required", nil)
		return
	}

	em, ok := realtime.NewSSEEmitter(w)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	// The run outlives a disconnected client so the answer is still recorded
	ctx := context.WithoutCancel(r.Context())
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	s.broker.Notify(realtime.NoticeRunStarted, realtime.RunNotice{Pipeline: pipelineChat, Symbol: symbol})

	res, err := s.runner.RunChat(ctx, req, em)
	if err != nil {
		s.broker.Notify(realtime.NoticeRunFailed, realtime.RunNotice{Pipeline: pipelineChat, Symbol: symbol, Error: stageOf(err)})
		return
	}

	if s.store != nil {
		pctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if err := s.store.SaveChat(pctx, database.ChatRecordFromResult(res, s.now())); err != nil {
			s.logger.Error("failed to save chat answer", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	s.broker.Notify(realtime.NoticeRunFinished, realtime.RunNotice{
		Pipeline: pipelineChat,
		Symbol:   symbol,
		Attempts: res.Attempts,
		Passed:   !res.Fallback,
		Fallback: res.Fallback,
	})
}

func (s *Server) runJudgement(ctx context.Context, req pipeline.JudgementRequest, em pipeline.Emitter) {
	// The run outlives a disconnected client so the record is still persisted
	ctx = context.WithoutCancel(ctx)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	s.broker.Notify(realtime.NoticeRunStarted, realtime.RunNotice{Pipeline: pipelineJudgement, Symbol: symbol})

	res, err := s.runner.RunJudgement(ctx, req, em)
	if err != nil {
		notice := realtime.RunNotice{Pipeline: pipelineJudgement, Symbol: symbol, Error: stageOf(err)}
		if res != nil {
			notice.RunID = res.Run.RunID
		}
		s.broker.Notify(realtime.NoticeRunFailed, notice)
		return
	}

	if s.store != nil {
		pctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if err := s.store.SaveRun(pctx, database.RunRecordFromResult(res, s.now())); err != nil {
			s.logger.Error("failed to save run", zap.String("run_id", res.Run.RunID), zap.Error(err))
		}
	}
	s.broker.Notify(realtime.NoticeRunFinished, realtime.RunNotice{
		RunID:    res.Run.RunID,
		Pipeline: pipelineJudgement,
		Symbol:   res.Run.Symbol,
		Attempts: res.Attempts,
		Passed:   res.Passed,
	})
}

// stageOf names the failed stage for lifecycle notices
func stageOf(err error) string {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return se.Stage + "_failed"
	}
	return "run_failed"
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "run history is disabled", nil)
		return
	}

	rec, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if database.IsNotFound(err) {
		s.respondWithError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "run history is disabled", nil)
		return
	}

	minLimit, maxLimit := 1, database.MaxListLimit
	limit := getIntParam(r, "limit", database.DefaultListLimit, &minLimit, &maxLimit)
	recs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"runs":  recs,
		"count": len(recs),
	})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "run history is disabled", nil)
		return
	}

	minLimit, maxLimit := 1, database.MaxListLimit
	limit := getIntParam(r, "limit", database.DefaultListLimit, &minLimit, &maxLimit)
	recs, err := s.store.ListChats(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "failed to list chats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"chats": recs,
		"count": len(recs),
	})
}

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "database": "disabled"}
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", zap.Error(err))
			status["status"] = "degraded"
			status["database"] = "unavailable"
		} else {
			status["database"] = "ok"
		}
	}
	s.respondJSON(w, http.StatusOK, status)
}
