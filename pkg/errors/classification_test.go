package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCategory_String(t *testing.T) {
	assert.Equal(t, "source", CategorySource.String())
	assert.Equal(t, "overflow", CategoryOverflow.String())
	assert.Equal(t, "decode", CategoryDecode.String())
	assert.Equal(t, "config", CategoryConfig.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"config", ConfigError("adapter.blast_size", "must be positive, got %d", 0), CategoryConfig},
		{"decode", DecodeError("json", errors.New("bad")), CategoryDecode},
		{"source", SourceError("nats-in", io.EOF), CategorySource},
		{"overflow", fmt.Errorf("put: %w", ErrBufferFull), CategoryOverflow},
		{"wrapped config", fmt.Errorf("setup: %w", ConfigError("x", "y")), CategoryConfig},
		{"plain", errors.New("boom"), CategorySource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategoryOf(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ConfigError("window.width", "not a multiple")))
	assert.False(t, IsFatal(DecodeError("avro", errors.New("short"))))
	assert.False(t, IsFatal(nil))
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.EOF, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"eagain", syscall.EAGAIN, true},
		{"eperm", syscall.EPERM, false},
		{"config", ConfigError("a", "b"), false},
		{"decode", DecodeError("json", errors.New("x")), false},
		{"source wrapping refused", SourceError("redis", syscall.ECONNREFUSED), true},
		{"no such host", errors.New("dial tcp: lookup nope: no such host"), false},
		{"unknown", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetriable(tt.err))
		})
	}
}

func TestClassifiedError_Metadata(t *testing.T) {
	err := SourceError("socket-in", io.ErrUnexpectedEOF)

	assert.Equal(t, "socket-in", err.Metadata["adapter"])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "source socket-in")
}

func TestInMemoryDLQ(t *testing.T) {
	ctx := context.Background()
	dlq := NewInMemoryDLQ(2)

	for i := 0; i < 3; i++ {
		require.NoError(t, dlq.Write(ctx, &FailedMessage{
			Key:         fmt.Sprintf("k%d", i),
			FailureTime: time.Now(),
		}))
	}

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(1), dlq.Evicted())

	msgs, err := dlq.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "k1", msgs[0].Key)
	assert.Equal(t, "k2", msgs[1].Key)

	require.NoError(t, dlq.Close())
	count, _ = dlq.Count(ctx)
	assert.Zero(t, count)
}

func TestNullDLQ(t *testing.T) {
	ctx := context.Background()
	dlq := NewNullDLQ()

	require.NoError(t, dlq.Write(ctx, &FailedMessage{}))
	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
