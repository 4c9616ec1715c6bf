package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// SocketAdapter reads a byte stream in fixed-size chunks. Chunks carry no
// framing; every Read that returns data becomes one message.
type SocketAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewSocketAdapter creates a socket adapter. Endpoint is the address to dial;
// Properties["network"] selects tcp (default) or unix.
func NewSocketAdapter(cfg config.AdapterConfig, logger *zap.Logger) *SocketAdapter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = config.DefaultChunkSize
	}
	return &SocketAdapter{cfg: cfg, logger: logger}
}

func (s *SocketAdapter) Name() string {
	return s.cfg.Name
}

// Open dials the endpoint
func (s *SocketAdapter) Open(ctx context.Context) error {
	network := s.cfg.Properties["network"]
	if network == "" {
		network = "tcp"
	}

	s.logger.Info("Dialing socket",
		zap.String("network", network),
		zap.String("addr", s.cfg.Endpoint),
		zap.Int("chunk_size", s.cfg.ChunkSize))

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, network, s.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.cfg.Endpoint, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return net.ErrClosed
	}
	s.conn = conn
	return nil
}

func (s *SocketAdapter) connection() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ReadNext reads up to ChunkSize bytes. Cancelling ctx expires the read
// deadline so a blocked Read returns promptly.
func (s *SocketAdapter) ReadNext(ctx context.Context) (*stream.Message, error) {
	conn := s.connection()
	if conn == nil {
		return nil, ErrNotOpen
	}

	// a previous cancellation may have left an expired deadline behind
	if err := conn.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, net.ErrClosed) {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			// deliver what arrived; a trailing error shows up on the next read
			return &stream.Message{
				Key:        conn.RemoteAddr().String(),
				Payload:    buf[:n],
				Source:     s.cfg.Name,
				ReceivedAt: time.Now(),
			}, nil
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrEndOfStream
		}
		return nil, err
	}
}

// Close closes the connection
func (s *SocketAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
