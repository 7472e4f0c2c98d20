package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frame formats for WSEmitter
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

const writeWait = 10 * time.Second

// Upgrader accepts browser connections from any origin, like the SSE endpoints
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame is the JSON envelope of one event
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// WSEmitter writes one WebSocket message per pipeline event
type WSEmitter struct {
	conn       *websocket.Conn
	format     string
	writeMu    sync.Mutex
	pingCancel context.CancelFunc
}

// NewWSEmitter wraps an upgraded connection. Unknown formats fall back to JSON.
func NewWSEmitter(conn *websocket.Conn, format string) *WSEmitter {
	if format != FormatProto {
		format = FormatJSON
	}
	return &WSEmitter{conn: conn, format: format}
}

// Emit encodes the event as a JSON text frame or a structpb binary frame
func (e *WSEmitter) Emit(event string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}

	if e.format == FormatProto {
		data, err := encodeProtoFrame(event, payloadJSON)
		if err != nil {
			return err
		}
		return e.write(websocket.BinaryMessage, data)
	}

	data, err := json.Marshal(Frame{Event: event, Payload: payloadJSON})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return e.write(websocket.TextMessage, data)
}

// StartPing keeps the connection alive until Close
func (e *WSEmitter) StartPing(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	e.pingCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// Close sends a normal close frame and closes the connection
func (e *WSEmitter) Close() error {
	if e.pingCancel != nil {
		e.pingCancel()
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = e.write(websocket.CloseMessage, msg)
	return e.conn.Close()
}

func (e *WSEmitter) write(messageType int, data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return e.conn.WriteMessage(messageType, data)
}

func encodeProtoFrame(event string, payloadJSON []byte) ([]byte, error) {
	var payload any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	msg, err := structpb.NewStruct(map[string]any{
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build proto frame: %w", err)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proto frame: %w", err)
	}
	return data, nil
}

// DecodeProtoFrame reads a binary frame written in proto format
func DecodeProtoFrame(data []byte) (string, map[string]any, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	m := msg.AsMap()
	event, _ := m["event"].(string)
	payload, _ := m["payload"].(map[string]any)
	return event, payload, nil
}
