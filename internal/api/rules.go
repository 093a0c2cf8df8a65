package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"github.com/triage-ai/privacy-shield/internal/rules"
	"github.com/triage-ai/privacy-shield/internal/schema"
	"go.uber.org/zap"
)

// writeRulesError maps rule store errors onto HTTP statuses.
func (d *Dependencies) writeRulesError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	case errors.Is(err, rules.ErrUnknownList):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
	default:
		d.Logger.Error("rules update failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to save rules"})
	}
}

func (d *Dependencies) writeCurrentRules(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, d.Rules.Current().Rules())
}

func (d *Dependencies) handleGetRules(w http.ResponseWriter, _ *http.Request) {
	d.writeCurrentRules(w)
}

// handleReplaceRules imports a whole rule set. The document must match the
// rule set schema and every pattern must be valid, or nothing is written.
func (d *Dependencies) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}
	if err := schema.Validate(schema.RuleSet, body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	var rs rules.RuleSet
	if err := json.Unmarshal(body, &rs); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := rs.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	if err := d.Rules.Save(r.Context(), rs); err != nil {
		d.writeRulesError(w, "replace", err)
		return
	}
	d.writeCurrentRules(w)
}

func (d *Dependencies) handlePatchRules(w http.ResponseWriter, r *http.Request) {
	var req PatchRulesReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	_, err := d.Rules.Update(r.Context(), func(rs *rules.RuleSet) error {
		if req.Enabled != nil {
			rs.Enabled = *req.Enabled
		}
		if req.DeepCookieSyncCheck != nil {
			rs.DeepCookieSyncCheck = *req.DeepCookieSyncCheck
		}
		return nil
	})
	if err != nil {
		d.writeRulesError(w, "patch", err)
		return
	}
	d.writeCurrentRules(w)
}

func (d *Dependencies) handleAddRuleInput(w http.ResponseWriter, r *http.Request) {
	var req RuleInputReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	rule, err := d.Rules.AddRule(r.Context(), req.Input)
	if err != nil {
		d.writeRulesError(w, "add_rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func pathListKind(r *http.Request) (rules.ListKind, bool) {
	switch kind := rules.ListKind(r.PathValue("kind")); kind {
	case rules.ListAllow, rules.ListBlock, rules.ListRegex:
		return kind, true
	default:
		return "", false
	}
}

func (d *Dependencies) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathListKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Unknown list kind."})
		return
	}
	var req PatternReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := d.Rules.AddPattern(r.Context(), kind, req.Pattern); err != nil {
		d.writeRulesError(w, "add_pattern", err)
		return
	}
	d.writeCurrentRules(w)
}

func (d *Dependencies) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathListKind(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Unknown list kind."})
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "pattern query parameter is required"})
		return
	}
	if err := d.Rules.RemovePattern(r.Context(), kind, pattern); err != nil {
		d.writeRulesError(w, "remove_pattern", err)
		return
	}
	d.writeCurrentRules(w)
}

func (d *Dependencies) handleToggleSiteDisabled(w http.ResponseWriter, r *http.Request) {
	site := pipeline.ResolveSite(r.PathValue("site"))
	if site == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid site"})
		return
	}
	disabled, err := d.Rules.ToggleSiteDisabled(r.Context(), site)
	if err != nil {
		d.writeRulesError(w, "toggle_site", err)
		return
	}
	writeJSON(w, http.StatusOK, SiteDisableResp{Site: site, Disabled: disabled})
}

// handleToggleTempAllow accepts an empty body; the default duration applies.
func (d *Dependencies) handleToggleTempAllow(w http.ResponseWriter, r *http.Request) {
	site := pipeline.ResolveSite(r.PathValue("site"))
	if site == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid site"})
		return
	}
	var req TempAllowReq
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
			return
		}
	}
	if req.Minutes < 0 || req.Minutes > 24*60 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "minutes must be between 0 and 1440"})
		return
	}

	until, active, err := d.Rules.ToggleTempAllow(r.Context(), site, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		d.writeRulesError(w, "toggle_temp_allow", err)
		return
	}
	resp := TempAllowResp{Site: site, Active: active}
	if active {
		resp.Until = &until
	}
	writeJSON(w, http.StatusOK, resp)
}
