package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"go.uber.org/zap"
)

// These routes mirror the gRPC interception service for clients that can
// only speak HTTP.

func (d *Dependencies) handleNavigation(w http.ResponseWriter, r *http.Request) {
	var req NavigationReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "url is required"})
		return
	}
	nav := d.Pipeline.OnNavigationCommitted(r.Context(), req.TabID, req.FrameID, req.URL, req.Cookies)
	writeJSON(w, http.StatusOK, nav)
}

// handleDecide always answers; a request the pipeline cannot classify is
// allowed.
func (d *Dependencies) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req DecideReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	decision := d.Pipeline.Decide(r.Context(), engine.RawRequest{
		TabID:        req.TabID,
		URL:          req.URL,
		ResourceType: req.ResourceType,
	})
	writeJSON(w, http.StatusOK, decision)
}

func (d *Dependencies) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.PathValue("tab_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tab_id must be an integer"})
		return
	}
	d.Pipeline.OnTabRemoved(tabID)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRefreshCookies(w http.ResponseWriter, r *http.Request) {
	var req CookiesReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	records, err := d.Pipeline.RefreshCookies(r.Context(), req.Site, req.Cookies)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CookiesResp{Site: pipeline.ResolveSite(req.Site), Cookies: records})
}

func (d *Dependencies) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req ProbeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	site, err := d.Pipeline.HandleProbe(r.Context(), pipeline.Probe{
		Kind:     req.Kind,
		SiteHint: req.SiteHint,
		TabID:    req.TabID,
		Payload:  req.Payload,
	})
	switch {
	case errors.Is(err, pipeline.ErrNoSite):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "Probe could not be attributed to a site"})
		return
	case err != nil:
		d.Logger.Warn("probe rejected",
			zap.String("kind", req.Kind),
			zap.String("site", site),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, ProbeResp{Site: site})
}
