package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finexplain/database"
	"finexplain/pipeline"
	"finexplain/realtime"
)

// Runner executes the judgement and chat pipelines
type Runner interface {
	RunJudgement(ctx context.Context, req pipeline.JudgementRequest, em pipeline.Emitter) (*pipeline.JudgementResult, error)
	RunChat(ctx context.Context, req pipeline.ChatRequest, em pipeline.Emitter) (*pipeline.ChatResult, error)
}

// RunStore persists finished runs. *database.RunRepository implements it.
type RunStore interface {
	SaveRun(ctx context.Context, rec *database.RunRecord) error
	GetRun(ctx context.Context, runID string) (*database.RunRecord, error)
	ListRuns(ctx context.Context, symbol string, limit int) ([]database.RunRecord, error)
	SaveChat(ctx context.Context, rec *database.ChatRecord) error
	ListChats(ctx context.Context, symbol string, limit int) ([]database.ChatRecord, error)
}

// HealthChecker reports backing store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const (
	wsPingInterval   = 25 * time.Second
	persistTimeout   = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
	maxRequestBodyKB = 512
)

// Server handles HTTP API requests
type Server struct {
	runner Runner
	store  RunStore
	health HealthChecker
	broker *realtime.Broker
	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a new API server instance. store and health may be nil.
func NewServer(runner Runner, store RunStore, health HealthChecker, broker *realtime.Broker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		runner: runner,
		store:  store,
		health: health,
		broker: broker,
		logger: logger,
		now:    time.Now,
	}
}

// Handler builds the routed, middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Pipelines
	mux.HandleFunc("POST /api/judgement/stream", s.handleJudgementStream)
	mux.HandleFunc("GET /api/judgement/stream", s.handleJudgementStream)
	mux.HandleFunc("GET /api/judgement/ws", s.handleJudgementWS)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)

	// Run history
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/chats", s.handleListChats)

	if s.broker != nil {
		mux.Handle("GET /api/events", s.broker) // SSE lifecycle notices
	}
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
