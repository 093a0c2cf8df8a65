package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse request_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil && !strings.Contains(dsn, "secure=false") {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the request_events table.
type EventRow struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	TabID        int32     `json:"tab_id"`
	TopSite      string    `json:"top_site"`
	URLPreview   string    `json:"url_preview"`
	Host         string    `json:"host"`
	ETLD1        string    `json:"etld1"`
	ResourceType string    `json:"resource_type"`
	ThirdParty   uint8     `json:"third_party"`
	Tracker      uint8     `json:"tracker"`
	Blocked      uint8     `json:"blocked"`
	Verdict      string    `json:"verdict"`
	LatencyUs    float32   `json:"latency_us"`
	Source       string    `json:"source"`
}

const eventColumns = "event_id, timestamp, tab_id, top_site, url_preview, host, etld1, " +
	"resource_type, third_party, tracker, blocked, verdict, latency_us, source"

func (e *EventRow) scanTargets() []any {
	return []any{
		&e.EventID, &e.Timestamp, &e.TabID, &e.TopSite, &e.URLPreview, &e.Host, &e.ETLD1,
		&e.ResourceType, &e.ThirdParty, &e.Tracker, &e.Blocked, &e.Verdict, &e.LatencyUs, &e.Source,
	}
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	TopSite    *string
	ETLD1      *string
	ThirdParty *bool
	Tracker    *bool
	Blocked    *bool
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

// buildFilter returns the WHERE clause and its named arguments. An empty
// parameter set matches every row.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.TopSite != nil {
		conditions = append(conditions, "top_site = @top_site")
		args = append(args, clickhouse.Named("top_site", *params.TopSite))
	}
	if params.ETLD1 != nil {
		conditions = append(conditions, "etld1 = @etld1")
		args = append(args, clickhouse.Named("etld1", *params.ETLD1))
	}
	for _, flag := range []struct {
		column string
		value  *bool
	}{
		{"third_party", params.ThirdParty},
		{"tracker", params.Tracker},
		{"blocked", params.Blocked},
	} {
		if flag.value == nil {
			continue
		}
		var v uint8
		if *flag.value {
			v = 1
		}
		conditions = append(conditions, fmt.Sprintf("%s = @%s", flag.column, flag.column))
		args = append(args, clickhouse.Named(flag.column, v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered request events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM request_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT %s FROM request_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(e.scanTargets()...); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, eventID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM request_events WHERE event_id = @event_id",
		clickhouse.Named("event_id", eventID),
	)

	var e EventRow
	if err := row.Scan(e.scanTargets()...); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.EventID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	Requests   int `json:"requests"`
	ThirdParty int `json:"third_party"`
	Trackers   int `json:"trackers"`
	Blocked    int `json:"blocked"`
	Sites      int `json:"sites"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// DomainCount holds a registrable domain and its count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// LatencyStats holds decision latency percentiles in microseconds.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	BlocksOverTime     []TimeSeriesBucket `json:"blocks_over_time"`
	TopTrackers        []DomainCount      `json:"top_trackers"`
	TopSites           []DomainCount      `json:"top_sites"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics over the given number of days.
// An empty site aggregates across every top site.
func (r *Reader) GetAnalytics(ctx context.Context, site string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	scope := "timestamp >= @range_start"
	baseArgs := []any{clickhouse.Named("range_start", rangeStart)}
	if site != "" {
		scope += " AND top_site = @top_site"
		baseArgs = append(baseArgs, clickhouse.Named("top_site", site))
	}

	result := &AnalyticsResult{}

	// Summary counts
	var requests, thirdParty, trackers, blocked, sites uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as requests, "+
			"countIf(third_party = 1) as third_party, "+
			"countIf(tracker = 1) as trackers, "+
			"countIf(blocked = 1) as blocked, "+
			"uniqExact(top_site) as sites "+
			"FROM request_events WHERE "+scope,
		baseArgs...,
	).Scan(&requests, &thirdParty, &trackers, &blocked, &sites)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		Requests:   int(requests),
		ThirdParty: int(thirdParty),
		Trackers:   int(trackers),
		Blocked:    int(blocked),
		Sites:      int(sites),
	}

	// Blocks over time (hourly)
	botRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM request_events "+
			"WHERE blocked = 1 AND "+scope+" "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics blocks_over_time: %w", err)
	}
	defer func() { _ = botRows.Close() }()
	for botRows.Next() {
		var hour time.Time
		var count uint64
		if err := botRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics blocks_over_time scan: %w", err)
		}
		result.BlocksOverTime = append(result.BlocksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	result.TopTrackers, err = r.topDomains(ctx, "etld1", "tracker = 1 AND "+scope, baseArgs)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_trackers: %w", err)
	}
	result.TopSites, err = r.topDomains(ctx, "top_site", "third_party = 1 AND "+scope, baseArgs)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_sites: %w", err)
	}

	// Latency percentiles (last 24h)
	latencyArgs := []any{clickhouse.Named("day_start", dayStart)}
	latencyScope := "timestamp >= @day_start"
	if site != "" {
		latencyScope += " AND top_site = @top_site"
		latencyArgs = append(latencyArgs, clickhouse.Named("top_site", site))
	}
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_us) as p50, "+
			"quantile(0.95)(latency_us) as p95, "+
			"quantile(0.99)(latency_us) as p99 "+
			"FROM request_events WHERE "+latencyScope,
		latencyArgs...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.BlocksOverTime == nil {
		result.BlocksOverTime = []TimeSeriesBucket{}
	}

	return result, nil
}

func (r *Reader) topDomains(ctx context.Context, column, where string, args []any) ([]DomainCount, error) {
	rows, err := r.conn.Query(ctx,
		fmt.Sprintf("SELECT %s as domain, count() as count FROM request_events "+
			"WHERE %s AND %s != '' GROUP BY domain ORDER BY count DESC LIMIT 10", column, where, column),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []DomainCount{}
	for rows.Next() {
		var d string
		var count uint64
		if err := rows.Scan(&d, &count); err != nil {
			return nil, err
		}
		out = append(out, DomainCount{Domain: d, Count: int(count)})
	}
	return out, rows.Err()
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
