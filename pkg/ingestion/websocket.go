package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// WebSocketAdapter dials a WebSocket feed and turns each frame into a message
type WebSocketAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketAdapter creates a WebSocket client adapter. Properties entries
// prefixed with "header." are sent with the handshake.
func NewWebSocketAdapter(cfg config.AdapterConfig, logger *zap.Logger) *WebSocketAdapter {
	return &WebSocketAdapter{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (w *WebSocketAdapter) Name() string {
	return w.cfg.Name
}

// Open performs the handshake
func (w *WebSocketAdapter) Open(ctx context.Context) error {
	header := http.Header{}
	for k, v := range w.cfg.Properties {
		if name, ok := strings.CutPrefix(k, "header."); ok && name != "" {
			header.Set(name, v)
		}
	}

	w.logger.Info("Connecting to WebSocket", zap.String("url", w.cfg.Endpoint))

	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		conn.Close()
		return net.ErrClosed
	}
	w.conn = conn
	return nil
}

func (w *WebSocketAdapter) connection() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// ReadNext reads one frame. Cancelling ctx expires the read deadline; the
// connection is unusable afterwards, which is fine because cancellation only
// happens on shutdown.
func (w *WebSocketAdapter) ReadNext(ctx context.Context) (*stream.Message, error) {
	conn := w.connection()
	if conn == nil {
		return nil, ErrNotOpen
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, net.ErrClosed) {
			return nil, ErrEndOfStream
		}
		return nil, err
	}

	kind := "binary"
	if msgType == websocket.TextMessage {
		kind = "text"
	}

	return &stream.Message{
		Key:        w.cfg.Endpoint,
		Payload:    data,
		Headers:    map[string]string{"frame": kind},
		Source:     w.cfg.Name,
		ReceivedAt: time.Now(),
	}, nil
}

// Close sends a close frame and closes the connection
func (w *WebSocketAdapter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}
