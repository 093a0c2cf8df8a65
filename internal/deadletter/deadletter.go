// Package deadletter collects failures of best-effort background work so
// they stay observable without ever failing the request path.
package deadletter

import (
	"time"

	"go.uber.org/zap"
)

// Letter describes one failed unit of background work.
type Letter struct {
	Time   time.Time         `json:"time"`
	Source string            `json:"source"` // e.g. "state.flush", "tasks.queue_full"
	Key    string            `json:"key,omitempty"`
	Error  string            `json:"error"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Sink receives dead letters. Record must never block the caller.
type Sink interface {
	Record(l Letter)
	Close()
}

// LogSink writes dead letters to a zap logger. It is the local-development
// sink and the fallback for S3Sink.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(l Letter) {
	fields := []zap.Field{
		zap.String("source", l.Source),
		zap.String("key", l.Key),
		zap.String("error", l.Error),
		zap.Time("time", l.Time),
	}
	if len(l.Attrs) > 0 {
		fields = append(fields, zap.Any("attrs", l.Attrs))
	}
	s.logger.Warn("dead_letter", fields...)
}

func (s *LogSink) Close() {}

// New fills in the timestamp and error text of a letter.
func New(source, key string, err error) Letter {
	l := Letter{Time: time.Now().UTC(), Source: source, Key: key}
	if err != nil {
		l.Error = err.Error()
	}
	return l
}
