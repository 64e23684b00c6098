package repository

import (
	"context"
)

// Transport delivers opaque signed gossip datagrams between nodes. The
// adapter owns delivery, retry and fan-out; the coherency manager only
// publishes bytes and consumes whatever arrives.
type Transport interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(handler func(data []byte)) error
	Close() error
}

// Metrics records operational counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordWrite(result string)
	RecordRound(entries int)
	RecordPublish(result string, bytes int)
	RecordRejected(reason string)
	RecordApplied(n int)
	RecordLastPrice(key string, price float64)
	RecordLatency(op string, seconds float64)
	RecordClockSize(n int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordWrite(string)              {}
func (NopMetrics) RecordRound(int)                 {}
func (NopMetrics) RecordPublish(string, int)       {}
func (NopMetrics) RecordRejected(string)           {}
func (NopMetrics) RecordApplied(int)               {}
func (NopMetrics) RecordLastPrice(string, float64) {}
func (NopMetrics) RecordLatency(string, float64)   {}
func (NopMetrics) RecordClockSize(int)             {}
