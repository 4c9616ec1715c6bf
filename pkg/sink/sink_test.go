package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

func record(i int) *stream.Record {
	return &stream.Record{
		ID:         fmt.Sprintf("id-%d", i),
		Key:        "k",
		Value:      map[string]interface{}{"n": i},
		Source:     "test-in",
		ReceivedAt: time.Unix(int64(i), 0),
		Window:     stream.WindowID(i / 10),
	}
}

func TestCollectorSink(t *testing.T) {
	ctx := context.Background()
	c := NewCollectorSink()

	var _ stream.WindowListener = c

	require.NoError(t, c.BeginWindow(ctx, stream.Window{ID: 0}))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(ctx, record(i)))
	}
	require.NoError(t, c.EndWindow(ctx, stream.Window{ID: 0}))
	require.NoError(t, c.BeginWindow(ctx, stream.Window{ID: 1}))

	got := c.Records()
	require.Len(t, got, 3)
	assert.Equal(t, "id-0", got[0].ID)
	assert.Equal(t, "id-2", got[2].ID)

	begun, ended := c.Windows()
	assert.Equal(t, []stream.WindowID{0, 1}, begun)
	assert.Equal(t, []stream.WindowID{0}, ended)

	assert.False(t, c.Closed())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	s, err := NewLogSink(config.LogSinkConfig{Name: "audit", Level: "info"}, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), record(4)))

	entries := logs.FilterMessage("Record").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "audit", fields["sink"])
	assert.Equal(t, "id-4", fields["id"])

	_, err = NewLogSink(config.LogSinkConfig{Name: "bad", Level: "loud"}, nil)
	assert.Error(t, err)
}

func TestLogSink_BelowLevelIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	s, err := NewLogSink(config.LogSinkConfig{Name: "quiet"}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), record(1)))

	assert.Zero(t, logs.Len())
}

type fakeWriter struct {
	batches [][]string
	fail    error
	closed  bool
	calls   int
}

func (f *fakeWriter) WriteRows(_ context.Context, rows []*stream.Record) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	f.batches = append(f.batches, ids)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestTimescaleSink_BatchesAndFlushesOnWindowEnd(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	s := newTimescaleSink(w, config.TimescaleSinkConfig{Name: "tsdb", Table: "events", BatchSize: 3}, zap.NewNop())

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Write(ctx, record(i)))
	}
	assert.Equal(t, [][]string{{"id-0", "id-1", "id-2"}}, w.batches)
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.EndWindow(ctx, stream.Window{ID: 0}))
	assert.Equal(t, [][]string{{"id-0", "id-1", "id-2"}, {"id-3"}}, w.batches)
	assert.Zero(t, s.Pending())

	// nothing pending, nothing written
	require.NoError(t, s.EndWindow(ctx, stream.Window{ID: 1}))
	assert.Len(t, w.batches, 2)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestTimescaleSink_FailedFlushKeepsBatch(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{fail: errors.New("connection refused")}
	s := newTimescaleSink(w, config.TimescaleSinkConfig{Table: "events", BatchSize: 10}, zap.NewNop())

	require.NoError(t, s.Write(ctx, record(1)))
	err := s.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events")
	assert.Equal(t, 1, s.Pending())

	w.fail = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, [][]string{{"id-1"}}, w.batches)
}

func TestTimescaleSink_OutageIsBounded(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{fail: errors.New("connection refused")}
	s := newTimescaleSink(w, config.TimescaleSinkConfig{Table: "events", BatchSize: 100}, zap.NewNop())

	var rejected int
	for i := 0; i < 10000; i++ {
		err := s.Write(ctx, record(i))
		if errors.Is(err, ErrSinkFull) {
			rejected++
			continue
		}
		if i == 99 {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
	}

	// one attempt when the first batch filled, none for the rest of the window
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, 1000, s.Pending())
	assert.Equal(t, 9000, rejected)
	assert.Equal(t, uint64(9000), s.Dropped())

	// window end retries once, still failing
	require.Error(t, s.EndWindow(ctx, stream.Window{ID: 0}))
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, 1000, s.Pending())

	w.fail = nil
	require.NoError(t, s.EndWindow(ctx, stream.Window{ID: 1}))
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 1000)
	assert.Zero(t, s.Pending())

	// healthy again, batches flush on size
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Write(ctx, record(i)))
	}
	assert.Equal(t, 4, w.calls)
	assert.Zero(t, s.Pending())
}

func TestTimescaleSink_MaxPending(t *testing.T) {
	tests := []struct {
		name       string
		batchSize  int
		maxPending int
		want       int
	}{
		{name: "default is ten batches", batchSize: 5, want: 50},
		{name: "explicit", batchSize: 5, maxPending: 7, want: 7},
		{name: "below batch size uses default", batchSize: 5, maxPending: 2, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTimescaleSink(&fakeWriter{}, config.TimescaleSinkConfig{
				Table:      "events",
				BatchSize:  tt.batchSize,
				MaxPending: tt.maxPending,
			}, zap.NewNop())
			assert.Equal(t, tt.want, s.maxPending)
		})
	}
}

func TestJSONValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{name: "json bytes", value: []byte(`{"a":1}`), want: `{"a":1}`},
		{name: "opaque bytes", value: []byte("not json"), want: `"not json"`},
		{name: "json string", value: `[1,2]`, want: `[1,2]`},
		{name: "plain string", value: "hello", want: `"hello"`},
		{name: "map", value: map[string]interface{}{"b": true}, want: `{"b":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsonValue(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := jsonValue(make(chan int))
	assert.Error(t, err)
}

func TestKafkaSink(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaSinkConfig{Topic: "out"}, nil)
	assert.ErrorContains(t, err, "brokers")

	_, err = NewKafkaSink(config.KafkaSinkConfig{Brokers: []string{"127.0.0.1:1"}}, nil)
	assert.ErrorContains(t, err, "topic")

	s, err := NewKafkaSink(config.KafkaSinkConfig{
		Name:         "kafka-out",
		Brokers:      []string{"127.0.0.1:1"},
		Topic:        "out",
		FlushTimeout: time.Second,
		Properties:   map[string]string{"message.timeout.ms": "5000"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), record(1)))

	// nothing is listening, so the message stays queued
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorContains(t, s.Flush(ctx), "still queued")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]int{"x": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(b))
}

func TestBuild(t *testing.T) {
	sinks, err := Build(config.SinksConfig{
		Log: []config.LogSinkConfig{{Name: "a"}, {Name: "b", Level: "info"}},
	}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.Equal(t, "a", sinks[0].Name)
	assert.Equal(t, "b", sinks[1].Name)

	_, err = Build(config.SinksConfig{
		Log:   []config.LogSinkConfig{{Name: "a"}},
		Kafka: []config.KafkaSinkConfig{{Name: "k", Topic: "out"}},
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink k")
}

// Runs against a real TimescaleDB when INLET_TEST_TIMESCALE_DSN is set
func TestTimescaleSink_Postgres(t *testing.T) {
	dsn := os.Getenv("INLET_TEST_TIMESCALE_DSN")
	if dsn == "" {
		t.Skip("INLET_TEST_TIMESCALE_DSN not set")
	}

	table := fmt.Sprintf("inlet_test_%d", time.Now().UnixNano())
	s, err := NewTimescaleSink(config.TimescaleSinkConfig{
		Name:             "tsdb",
		ConnectionString: dsn,
		Table:            table,
		BatchSize:        2,
	}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(ctx, record(i)))
	}
	require.NoError(t, s.EndWindow(ctx, stream.Window{ID: 0}))

	db := s.writer.(*pqWriter).db
	defer db.Exec("DROP TABLE " + table)

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	assert.Equal(t, 3, n)
}
