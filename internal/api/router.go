package api

import (
	"context"
	"net/http"

	"github.com/triage-ai/privacy-shield/internal/auth"
	"github.com/triage-ai/privacy-shield/internal/chread"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"github.com/triage-ai/privacy-shield/internal/rules"
	"go.uber.org/zap"
)

// EventReader is the read side of the request-event export.
type EventReader interface {
	ListEvents(ctx context.Context, params chread.ListEventsParams) ([]chread.EventRow, int, error)
	GetEvent(ctx context.Context, eventID string) (*chread.EventRow, error)
	GetAnalytics(ctx context.Context, site string, days int) (*chread.AnalyticsResult, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Rules    *rules.Store
	Reader   EventReader // nil if ClickHouse unavailable
	Auth     auth.Authenticator
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewOpenAuthenticator()
	}

	mux := http.NewServeMux()
	client := func(h http.HandlerFunc) http.HandlerFunc { return deps.authMiddleware(false, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return deps.authMiddleware(true, h) }

	// Interception (client keys)
	mux.HandleFunc("POST /v1/shield/navigation", client(deps.handleNavigation))
	mux.HandleFunc("POST /v1/shield/decide", client(deps.handleDecide))
	mux.HandleFunc("DELETE /v1/shield/tabs/{tab_id}", client(deps.handleTabRemoved))
	mux.HandleFunc("POST /v1/shield/cookies", client(deps.handleRefreshCookies))
	mux.HandleFunc("POST /v1/shield/probes", client(deps.handleProbe))

	// Rules
	mux.HandleFunc("GET /api/shield/rules", client(deps.handleGetRules))
	mux.HandleFunc("PUT /api/shield/rules", admin(deps.handleReplaceRules))
	mux.HandleFunc("PATCH /api/shield/rules", admin(deps.handlePatchRules))
	mux.HandleFunc("POST /api/shield/rules/input", admin(deps.handleAddRuleInput))
	mux.HandleFunc("POST /api/shield/rules/{kind}", admin(deps.handleAddPattern))
	mux.HandleFunc("DELETE /api/shield/rules/{kind}", admin(deps.handleRemovePattern))

	// Per-site overrides
	mux.HandleFunc("POST /api/shield/sites/{site}/disable", admin(deps.handleToggleSiteDisabled))
	mux.HandleFunc("POST /api/shield/sites/{site}/temp-allow", admin(deps.handleToggleTempAllow))

	// Custom lists
	mux.HandleFunc("GET /api/shield/lists", client(deps.handleGetLists))
	mux.HandleFunc("POST /api/shield/lists", admin(deps.handleCreateList))
	mux.HandleFunc("PUT /api/shield/lists", admin(deps.handleReplaceLists))
	mux.HandleFunc("PATCH /api/shield/lists/{name}", admin(deps.handlePatchList))
	mux.HandleFunc("DELETE /api/shield/lists/{name}", admin(deps.handleRemoveList))
	mux.HandleFunc("POST /api/shield/lists/{name}/patterns", admin(deps.handleAddListPattern))
	mux.HandleFunc("DELETE /api/shield/lists/{name}/patterns", admin(deps.handleRemoveListPattern))

	// Site & tab data
	mux.HandleFunc("GET /api/shield/sites", client(deps.handleListSites))
	mux.HandleFunc("GET /api/shield/sites/{site}", client(deps.handleGetSite))
	mux.HandleFunc("GET /api/shield/sites/{site}/score", client(deps.handleGetScore))
	mux.HandleFunc("GET /api/shield/tabs/{tab_id}/events", client(deps.handleTabEvents))
	mux.HandleFunc("GET /api/shield/report", client(deps.handleReport))

	// Exported events & analytics
	mux.HandleFunc("GET /api/shield/events", client(deps.handleListEvents))
	mux.HandleFunc("GET /api/shield/events/{event_id}", client(deps.handleGetEvent))
	mux.HandleFunc("GET /api/shield/analytics", client(deps.handleGetAnalytics))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
