package ingestion

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	natstestserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
)

func withTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestNATSAdapter(t *testing.T) {
	opts := natstestserver.DefaultTestOptions
	opts.Port = -1
	s := natstestserver.RunServer(&opts)
	t.Cleanup(func() {
		s.Shutdown()
		s.WaitForShutdown()
	})

	a := NewNATSAdapter(config.AdapterConfig{
		Name:     "nats-in",
		Endpoint: s.ClientURL(),
		Filter:   "inlet.>",
		Queue:    "workers",
	}, zaptest.NewLogger(t))
	require.NoError(t, a.Open(withTimeout(t, 5*time.Second)))

	pub, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	m := nats.NewMsg("inlet.trades")
	m.Data = []byte(`{"px":1}`)
	m.Header.Set("Trace", "abc")
	require.NoError(t, pub.PublishMsg(m))
	require.NoError(t, pub.Flush())

	got, err := a.ReadNext(withTimeout(t, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "inlet.trades", got.Key)
	assert.Equal(t, []byte(`{"px":1}`), got.Payload)
	assert.Equal(t, "abc", got.Headers["Trace"])
	assert.Equal(t, "nats-in", got.Source)

	t.Run("cancel unblocks", func(t *testing.T) {
		_, err := a.ReadNext(withTimeout(t, 50*time.Millisecond))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close ends the stream", func(t *testing.T) {
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		_, err := a.ReadNext(withTimeout(t, time.Second))
		assert.ErrorIs(t, err, ErrEndOfStream)
	})
}

func TestNATSAdapter_OpenRequiresSubject(t *testing.T) {
	a := NewNATSAdapter(config.AdapterConfig{Name: "nats-in", Endpoint: nats.DefaultURL}, zap.NewNop())
	assert.Error(t, a.Open(context.Background()))

	_, err := a.ReadNext(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, a.Close())
}

func TestRedisAdapter(t *testing.T) {
	mr := miniredis.RunT(t)

	a := NewRedisAdapter(config.AdapterConfig{
		Name:           "redis-in",
		Endpoint:       mr.Addr(),
		Filter:         "inlet.*",
		ConnectTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, a.Open(withTimeout(t, 5*time.Second)))

	mr.Publish("inlet.quotes", "q1")
	mr.Publish("other.quotes", "ignored")
	mr.Publish("inlet.quotes", "q2")

	for _, want := range []string{"q1", "q2"} {
		got, err := a.ReadNext(withTimeout(t, 2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, "inlet.quotes", got.Key)
		assert.Equal(t, want, string(got.Payload))
		assert.Equal(t, "inlet.*", got.Headers["pattern"])
	}

	_, err := a.ReadNext(withTimeout(t, 50*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, a.Close())
	_, err = a.ReadNext(withTimeout(t, 2*time.Second))
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestRedisAdapter_OpenFailures(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AdapterConfig
	}{
		{
			name: "missing pattern",
			cfg:  config.AdapterConfig{Endpoint: "127.0.0.1:6379"},
		},
		{
			name: "bad db",
			cfg: config.AdapterConfig{
				Endpoint:   "127.0.0.1:6379",
				Filter:     "x.*",
				Properties: map[string]string{"db": "zero"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewRedisAdapter(tt.cfg, zap.NewNop())
			assert.Error(t, a.Open(context.Background()))
		})
	}
}

// serveOnce accepts a single connection and hands it to fn
func serveOnce(t *testing.T, fn func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fn(conn)
	}()
	return ln.Addr().String()
}

func TestSocketAdapter_ChunksUntilEOF(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("hello world"))
		conn.Close()
	})

	a := NewSocketAdapter(config.AdapterConfig{Name: "sock-in", Endpoint: addr, ChunkSize: 5}, zap.NewNop())
	require.NoError(t, a.Open(withTimeout(t, time.Second)))
	defer a.Close()

	var sb strings.Builder
	for {
		m, err := a.ReadNext(withTimeout(t, 2*time.Second))
		if err != nil {
			assert.ErrorIs(t, err, ErrEndOfStream)
			break
		}
		assert.LessOrEqual(t, len(m.Payload), 5)
		assert.Equal(t, "sock-in", m.Source)
		sb.Write(m.Payload)
	}
	assert.Equal(t, "hello world", sb.String())
}

func TestSocketAdapter_CancelAndClose(t *testing.T) {
	release := make(chan struct{})
	addr := serveOnce(t, func(conn net.Conn) {
		<-release
		conn.Close()
	})
	defer close(release)

	a := NewSocketAdapter(config.AdapterConfig{Name: "sock-in", Endpoint: addr}, zap.NewNop())

	_, err := a.ReadNext(context.Background())
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, a.Open(withTimeout(t, time.Second)))

	_, err = a.ReadNext(withTimeout(t, 50*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := a.ReadNext(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock ReadNext")
	}
}

func TestSocketAdapter_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	a := NewSocketAdapter(config.AdapterConfig{Endpoint: addr, ConnectTimeout: time.Second}, zap.NewNop())
	assert.Error(t, a.Open(context.Background()))
}

func TestWebSocketAdapter(t *testing.T) {
	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.Header.Get("X-Token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("tick-1"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// wait for the client's close reply
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	a := NewWebSocketAdapter(config.AdapterConfig{
		Name:           "ws-in",
		Endpoint:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: time.Second,
		Properties:     map[string]string{"header.X-Token": "secret"},
	}, zap.NewNop())
	require.NoError(t, a.Open(withTimeout(t, 2*time.Second)))
	defer a.Close()
	assert.Equal(t, "secret", <-tokens)

	m, err := a.ReadNext(withTimeout(t, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "tick-1", string(m.Payload))
	assert.Equal(t, "text", m.Headers["frame"])

	m, err = a.ReadNext(withTimeout(t, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, m.Payload)
	assert.Equal(t, "binary", m.Headers["frame"])

	_, err = a.ReadNext(withTimeout(t, 2*time.Second))
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestWebSocketAdapter_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewWebSocketAdapter(config.AdapterConfig{
		Endpoint:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: time.Second,
	}, zap.NewNop())
	err := a.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestKafkaAdapter_OpenValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AdapterConfig
		wantErr string
	}{
		{
			name:    "no topics",
			cfg:     config.AdapterConfig{Endpoint: "localhost:9092", GroupID: "g"},
			wantErr: "topics",
		},
		{
			name:    "no group",
			cfg:     config.AdapterConfig{Endpoint: "localhost:9092", Filter: "a,b"},
			wantErr: "group",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewKafkaAdapter(tt.cfg, zap.NewNop())
			err := a.Open(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = a.ReadNext(context.Background())
			assert.ErrorIs(t, err, ErrNotOpen)
			assert.NoError(t, a.Close())
		})
	}
}

func TestKafkaAdapter_UnreachableBrokerHonoursContext(t *testing.T) {
	a := NewKafkaAdapter(config.AdapterConfig{
		Name:        "kafka-in",
		Endpoint:    "127.0.0.1:1",
		Filter:      "events",
		GroupID:     "inlet-test",
		PollTimeout: 20 * time.Millisecond,
		Properties:  map[string]string{"log_level": "0"},
	}, zap.NewNop())
	require.NoError(t, a.Open(context.Background()))

	_, err := a.ReadNext(withTimeout(t, 200*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, a.Close())
	_, err = a.ReadNext(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		typ  string
		want Adapter
	}{
		{config.AdapterNATS, &NATSAdapter{}},
		{config.AdapterRedis, &RedisAdapter{}},
		{config.AdapterSocket, &SocketAdapter{}},
		{config.AdapterWebSocket, &WebSocketAdapter{}},
		{config.AdapterKafka, &KafkaAdapter{}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			a, err := NewAdapter(config.AdapterConfig{Type: tt.typ}, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
			assert.Equal(t, tt.typ+"-in", a.Name())
		})
	}

	_, err := NewAdapter(config.AdapterConfig{Type: "carrier-pigeon"}, nil)
	require.Error(t, err)
	assert.Equal(t, inerrors.CategoryConfig, inerrors.CategoryOf(err))
}
