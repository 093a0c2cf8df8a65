package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/state"
)

// Report row types.
const (
	RowBlocked    = "blocked"
	RowTracker    = "tracker"
	RowThirdParty = "request-3p"
	RowFirstParty = "request-1p"
	RowCookieSync = "cookieSync"
	RowCanvas     = "canvas"
	RowHijack     = "hijack"
)

// ReportRow is one line of the flattened activity report.
type ReportRow struct {
	EventType string    `json:"eventType"`
	Site      string    `json:"site"`
	Domain    string    `json:"domain"`
	Details   string    `json:"details"`
	Time      time.Time `json:"time"`
}

// ReportHeader is the CSV header line.
var ReportHeader = []string{"eventType", "site", "domain", "details", "time"}

// Report flattens every tab log and site summary into rows sorted by time.
// A non-empty site keeps only that site's rows.
func (p *Pipeline) Report(ctx context.Context, site string) ([]ReportRow, error) {
	logs, err := p.state.TabLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Report: %w", err)
	}
	summaries, err := p.state.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("Report: %w", err)
	}
	rows := BuildReport(logs, summaries)
	if site = ResolveSite(site); site != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.Site == site {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return rows, nil
}

// BuildReport is the pure part of Report.
func BuildReport(logs map[int][]engine.RequestEvent, summaries []state.SiteSummary) []ReportRow {
	rows := []ReportRow{}
	for _, events := range logs {
		for _, ev := range events {
			site := ev.TopSite
			if site == "" {
				site = "unknown"
			}
			rows = append(rows, ReportRow{
				EventType: classifyEvent(ev),
				Site:      site,
				Domain:    ev.Host,
				Details:   eventDetails(ev),
				Time:      ev.Time,
			})
		}
	}
	for _, sum := range summaries {
		for _, m := range sum.CookieSync {
			rows = append(rows, ReportRow{
				EventType: RowCookieSync,
				Site:      sum.Site,
				Domain:    m.Recipient,
				Details:   fmt.Sprintf("%s (%s)", m.CookieName, m.Kind),
				Time:      m.Time,
			})
		}
		if sum.Canvas != nil {
			rows = append(rows, ReportRow{
				EventType: RowCanvas,
				Site:      sum.Site,
				Details:   fmt.Sprintf("reads:%d measures:%d", sum.Canvas.Reads, sum.Canvas.Measures),
				Time:      sum.Canvas.UpdatedAt,
			})
		}
		if sum.Hijack != nil && sum.Hijack.Suspect {
			rows = append(rows, ReportRow{
				EventType: RowHijack,
				Site:      sum.Site,
				Details:   strings.Join(sum.Hijack.Indicators, "|"),
				Time:      sum.Hijack.UpdatedAt,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	return rows
}

func classifyEvent(ev engine.RequestEvent) string {
	switch {
	case ev.Blocked:
		return RowBlocked
	case ev.Tracker:
		return RowTracker
	case ev.ThirdParty:
		return RowThirdParty
	default:
		return RowFirstParty
	}
}

func eventDetails(ev engine.RequestEvent) string {
	var b strings.Builder
	b.WriteString(ev.ResourceType)
	if ev.ThirdParty {
		b.WriteString(" 3P")
	} else {
		b.WriteString(" 1P")
	}
	if ev.Tracker {
		b.WriteString(" tracker")
	}
	return b.String()
}

// WriteCSV writes rows with a header line. Every field is quoted and the
// time column is epoch milliseconds.
func WriteCSV(w io.Writer, rows []ReportRow) error {
	lines := make([][]string, 0, len(rows)+1)
	lines = append(lines, ReportHeader)
	for _, r := range rows {
		lines = append(lines, []string{
			r.EventType, r.Site, r.Domain, r.Details,
			strconv.FormatInt(r.Time.UnixMilli(), 10),
		})
	}
	for i, line := range lines {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := writeQuoted(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeQuoted(w io.Writer, fields []string) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
