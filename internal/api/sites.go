package api

import (
	"net/http"
	"strconv"

	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := d.Pipeline.Sites(r.Context())
	if err != nil {
		d.Logger.Error("failed to list sites", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sites"})
		return
	}
	writeJSON(w, http.StatusOK, SiteListResp{Sites: sites, Total: len(sites)})
}

// handleGetSite returns the site summary. Unknown sites get an empty one.
func (d *Dependencies) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site := pipeline.ResolveSite(r.PathValue("site"))
	if site == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid site"})
		return
	}
	writeJSON(w, http.StatusOK, d.Pipeline.Summary(r.Context(), site))
}

func (d *Dependencies) handleGetScore(w http.ResponseWriter, r *http.Request) {
	site := pipeline.ResolveSite(r.PathValue("site"))
	if site == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid site"})
		return
	}
	tabID := queryInt(r.URL.Query(), "tab_id", -1)
	writeJSON(w, http.StatusOK, d.Pipeline.Score(r.Context(), site, tabID))
}

func (d *Dependencies) handleTabEvents(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.PathValue("tab_id"))
	if err != nil || tabID < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tab_id must be a non-negative integer"})
		return
	}
	topSite, _ := d.Pipeline.TopSite(tabID)
	writeJSON(w, http.StatusOK, TabEventsResp{
		TabID:   tabID,
		TopSite: topSite,
		Events:  d.Pipeline.Events(r.Context(), tabID),
	})
}

// handleReport returns the activity report as JSON rows, or as CSV when
// format=csv.
func (d *Dependencies) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format != "" && format != "json" && format != "csv" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "format must be json or csv"})
		return
	}

	rows, err := d.Pipeline.Report(r.Context(), q.Get("site"))
	if err != nil {
		d.Logger.Error("failed to build report", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to build report"})
		return
	}

	if format != "csv" {
		if rows == nil {
			rows = []pipeline.ReportRow{}
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="privacy-report.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := pipeline.WriteCSV(w, rows); err != nil {
		d.Logger.Warn("report write failed", zap.Error(err))
	}
}
