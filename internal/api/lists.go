package api

import (
	"net/http"

	"github.com/triage-ai/privacy-shield/internal/rules"
)

func (d *Dependencies) writeLists(w http.ResponseWriter, status int) {
	lists := d.Rules.Current().Rules().CustomLists
	if lists == nil {
		lists = map[string]rules.CustomList{}
	}
	writeJSON(w, status, lists)
}

func (d *Dependencies) handleGetLists(w http.ResponseWriter, _ *http.Request) {
	d.writeLists(w, http.StatusOK)
}

func (d *Dependencies) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req CreateListReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}
	if err := d.Rules.CreateList(r.Context(), req.Name); err != nil {
		d.writeRulesError(w, "create_list", err)
		return
	}
	d.writeLists(w, http.StatusCreated)
}

// handleReplaceLists imports custom lists, replacing all existing ones.
func (d *Dependencies) handleReplaceLists(w http.ResponseWriter, r *http.Request) {
	var lists map[string]rules.CustomList
	if err := readJSON(r, &lists); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := d.Rules.ReplaceLists(r.Context(), lists); err != nil {
		d.writeRulesError(w, "replace_lists", err)
		return
	}
	d.writeLists(w, http.StatusOK)
}

func (d *Dependencies) handlePatchList(w http.ResponseWriter, r *http.Request) {
	var req PatchListReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "enabled is required"})
		return
	}
	if err := d.Rules.SetListEnabled(r.Context(), r.PathValue("name"), *req.Enabled); err != nil {
		d.writeRulesError(w, "patch_list", err)
		return
	}
	d.writeLists(w, http.StatusOK)
}

func (d *Dependencies) handleRemoveList(w http.ResponseWriter, r *http.Request) {
	if err := d.Rules.RemoveList(r.Context(), r.PathValue("name")); err != nil {
		d.writeRulesError(w, "remove_list", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleAddListPattern(w http.ResponseWriter, r *http.Request) {
	var req PatternReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := d.Rules.AddListPattern(r.Context(), r.PathValue("name"), req.Pattern); err != nil {
		d.writeRulesError(w, "add_list_pattern", err)
		return
	}
	d.writeLists(w, http.StatusOK)
}

func (d *Dependencies) handleRemoveListPattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "pattern query parameter is required"})
		return
	}
	if err := d.Rules.RemoveListPattern(r.Context(), r.PathValue("name"), pattern); err != nil {
		d.writeRulesError(w, "remove_list_pattern", err)
		return
	}
	d.writeLists(w, http.StatusOK)
}
