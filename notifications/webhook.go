package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"finexplain/realtime"
)

// Webhook is one run-notice subscriber
type Webhook struct {
	URL        string
	Method     string
	AuthHeader string // e.g. "Authorization"; empty disables auth
	AuthValue  string
	Symbols    []string // empty matches every symbol
	Events     []string // empty matches every notice
}

// WebhookPayload is the JSON body delivered to webhooks
type WebhookPayload struct {
	Event   string             `json:"event"`
	Notice  realtime.RunNotice `json:"notice"`
	Message string             `json:"message"`
}

// WebhookManager delivers run lifecycle notices to HTTP endpoints
type WebhookManager struct {
	hooks      []Webhook
	client     *http.Client
	logger     *zap.Logger
	retries    int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewWebhookManager creates a manager. retries below 1 means a single attempt.
func NewWebhookManager(hooks []Webhook, retries int, retryDelay time.Duration, logger *zap.Logger) *WebhookManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries <= 0 {
		retries = 1
	}
	return &WebhookManager{
		hooks:      hooks,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// HooksFromURLs builds POST webhooks sharing one auth header and symbol filter
func HooksFromURLs(urls []string, authHeader, authValue string, symbols []string) []Webhook {
	var hooks []Webhook
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		hooks = append(hooks, Webhook{
			URL:        u,
			Method:     http.MethodPost,
			AuthHeader: authHeader,
			AuthValue:  authValue,
			Symbols:    symbols,
			Events:     []string{realtime.NoticeRunFinished, realtime.NoticeRunFailed},
		})
	}
	return hooks
}

// Send delivers the notice to every matching webhook asynchronously
func (wm *WebhookManager) Send(event string, notice realtime.RunNotice) {
	if wm == nil || len(wm.hooks) == 0 {
		return
	}

	payload, err := json.Marshal(WebhookPayload{
		Event:   event,
		Notice:  notice,
		Message: CreateMessage(event, notice),
	})
	if err != nil {
		wm.logger.Warn("⚠️  Failed to marshal webhook payload", zap.Error(err))
		return
	}

	for _, hook := range wm.hooks {
		if !shouldSend(hook, event, notice) {
			continue
		}
		wm.wg.Add(1)
		go func(hook Webhook) {
			defer wm.wg.Done()
			wm.deliverWebhook(hook, payload)
		}(hook)
	}
}

// Wait blocks until in-flight deliveries finish or ctx ends
func (wm *WebhookManager) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// CreateMessage formats a one-line human readable summary
func CreateMessage(event string, n realtime.RunNotice) string {
	switch event {
	case realtime.NoticeRunFinished:
		status := "passed"
		if n.Fallback {
			status = "fallback"
		} else if !n.Passed {
			status = "unverified"
		}
		return fmt.Sprintf("%s %s finished (%s after %d attempts)", n.Symbol, n.Pipeline, status, n.Attempts)
	case realtime.NoticeRunFailed:
		return fmt.Sprintf("%s %s failed: %s", n.Symbol, n.Pipeline, n.Error)
	default:
		return fmt.Sprintf("%s %s %s", n.Symbol, n.Pipeline, event)
	}
}

func shouldSend(hook Webhook, event string, n realtime.RunNotice) bool {
	if len(hook.Events) > 0 && !contains(hook.Events, event) {
		return false
	}
	if len(hook.Symbols) > 0 && !contains(hook.Symbols, n.Symbol) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func (wm *WebhookManager) deliverWebhook(hook Webhook, payload []byte) {
	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}

	var lastErr error
	lastCode := 0
	for attempt := 1; attempt <= wm.retries; attempt++ {
		req, err := http.NewRequest(method, hook.URL, bytes.NewReader(payload))
		if err != nil {
			wm.logger.Warn("⚠️  Invalid webhook", zap.String("url", hook.URL), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "finexplain-webhook/1.0")
		if hook.AuthHeader != "" {
			req.Header.Set(hook.AuthHeader, hook.AuthValue)
		}

		resp, err := wm.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				wm.logger.Debug("webhook delivered", zap.String("url", hook.URL), zap.Int("attempt", attempt))
				return
			}
			lastCode = resp.StatusCode
		}
		lastErr = err

		if attempt < wm.retries {
			time.Sleep(wm.retryDelay)
		}
	}

	wm.logger.Warn("⚠️  Webhook delivery failed",
		zap.String("url", hook.URL),
		zap.Int("attempts", wm.retries),
		zap.Int("status_code", lastCode),
		zap.Error(lastErr),
	)
}
