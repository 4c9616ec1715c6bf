// Package sink holds the destinations the drain loop emits records to.
package sink

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// Named pairs a sink with the name it is registered under
type Named struct {
	Name string
	Sink stream.Sink
}

// Build creates every sink listed in cfg, in config order. On failure the
// sinks created so far are closed.
func Build(cfg config.SinksConfig, logger *zap.Logger) ([]Named, error) {
	var sinks []Named
	fail := func(name string, err error) ([]Named, error) {
		for _, s := range sinks {
			err = multierr.Append(err, s.Sink.Close())
		}
		return nil, fmt.Errorf("failed to create sink %s: %w", name, err)
	}

	for _, c := range cfg.Log {
		s, err := NewLogSink(c, logger)
		if err != nil {
			return fail(c.Name, err)
		}
		sinks = append(sinks, Named{Name: c.Name, Sink: s})
	}
	for _, c := range cfg.Kafka {
		s, err := NewKafkaSink(c, logger)
		if err != nil {
			return fail(c.Name, err)
		}
		sinks = append(sinks, Named{Name: c.Name, Sink: s})
	}
	for _, c := range cfg.TimescaleDB {
		s, err := NewTimescaleSink(c, logger)
		if err != nil {
			return fail(c.Name, err)
		}
		sinks = append(sinks, Named{Name: c.Name, Sink: s})
	}

	return sinks, nil
}
