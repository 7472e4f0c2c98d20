package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEEmitterWritesNamedEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	em, ok := NewSSEEmitter(rec)
	require.True(t, ok)

	require.NoError(t, em.Emit("status", map[string]string{"stage": "start"}))
	require.NoError(t, em.Emit("done", struct{}{}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: status\ndata: {\"stage\":\"start\"}\n\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {}\n\n"))
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)

	require.NoError(t, r.Emit("status", map[string]string{"stage": "start"}))
	require.NoError(t, r.Emit("done", struct{}{}))

	assert.Equal(t, []string{"status", "done"}, r.Names())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"status","payload":{"stage":"start"}}`, lines[0])
}

func wsPair(t *testing.T, format string, send func(*WSEmitter)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		em := NewWSEmitter(conn, format)
		send(em)
		_ = em.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSEmitterJSONFrames(t *testing.T) {
	conn := wsPair(t, FormatJSON, func(em *WSEmitter) {
		_ = em.Emit("story", map[string]string{"story": "- 가설"})
	})

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)

	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "story", f.Event)
	assert.JSONEq(t, `{"story":"- 가설"}`, string(f.Payload))
}

func TestWSEmitterProtoFrames(t *testing.T) {
	conn := wsPair(t, FormatProto, func(em *WSEmitter) {
		_ = em.Emit("status", map[string]any{"stage": "verify", "attempt": 2})
	})

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)

	event, payload, err := DecodeProtoFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "status", event)
	assert.Equal(t, "verify", payload["stage"])
	assert.Equal(t, 2.0, payload["attempt"])
}

func TestBrokerBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker(nil)
	go b.Run(ctx)

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Notify(NoticeRunFinished, RunNotice{RunID: "r1", Pipeline: "judgement", Symbol: "AAPL", Attempts: 2, Passed: true})

	select {
	case msg := <-ch:
		var got struct {
			Event   string    `json:"event"`
			Payload RunNotice `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, NoticeRunFinished, got.Event)
		assert.Equal(t, "r1", got.Payload.RunID)
		assert.False(t, got.Payload.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("notice not delivered")
	}
}

func TestBrokerStopClosesListeners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(nil)
	stopped := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(stopped)
	}()

	ch, unsubscribe := b.Subscribe()
	cancel()
	<-stopped

	_, ok := <-ch
	assert.False(t, ok)
	unsubscribe()

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestBrokerOnNotice(t *testing.T) {
	b := NewBroker(nil)

	var got []string
	b.OnNotice(func(event string, n RunNotice) {
		got = append(got, event+":"+n.Symbol)
		assert.False(t, n.At.IsZero())
	})

	b.Notify(NoticeRunStarted, RunNotice{Pipeline: "chat", Symbol: "TSLA"})
	b.Notify(NoticeRunFailed, RunNotice{Pipeline: "chat", Symbol: "TSLA", Error: "start_failed"})

	assert.Equal(t, []string{"run_started:TSLA", "run_failed:TSLA"}, got)
}
