package storage

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes request events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted by a
// background goroutine.
//
// Expected table:
//
//	CREATE TABLE request_events (
//	    event_id String, timestamp DateTime64(3), tab_id Int32,
//	    top_site LowCardinality(String), url_preview String, url_hash String,
//	    host String, etld1 LowCardinality(String), resource_type LowCardinality(String),
//	    third_party UInt8, tracker UInt8, blocked UInt8, verdict LowCardinality(String),
//	    latency_us Float32, source LowCardinality(String)
//	) ENGINE = MergeTree ORDER BY (top_site, timestamp)
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *RequestRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// Plain-text native connections are allowed only with ?secure=false.
	if opts.TLS == nil && !strings.Contains(dsn, "secure=false") {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *RequestRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a request event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *RequestRecord) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("event_id", event.EventID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*RequestRecord, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*RequestRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO request_events (
			event_id, timestamp, tab_id, top_site,
			url_preview, url_hash, host, etld1, resource_type,
			third_party, tracker, blocked, verdict,
			latency_us, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.Timestamp,
			e.TabID,
			e.TopSite,
			e.URLPreview,
			e.URLHash,
			e.Host,
			e.ETLD1,
			e.ResourceType,
			boolToUint8(e.ThirdParty),
			boolToUint8(e.Tracker),
			boolToUint8(e.Blocked),
			e.Verdict,
			e.LatencyUs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// ClickHouse has no Bool in older servers; flags are stored as UInt8.
func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *RequestRecord) {
	w.logger.Info("request_event",
		zap.String("event_id", event.EventID),
		zap.Int32("tab_id", event.TabID),
		zap.String("top_site", event.TopSite),
		zap.String("host", event.Host),
		zap.String("resource_type", event.ResourceType),
		zap.Bool("third_party", event.ThirdParty),
		zap.Bool("tracker", event.Tracker),
		zap.String("verdict", event.Verdict),
		zap.Float32("latency_us", event.LatencyUs),
	)
}

func (w *LogWriter) Close() {}
