package server

import (
	"context"
	"errors"
	"time"

	"github.com/triage-ai/privacy-shield/internal/auth"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptionServer implements the InterceptionService gRPC service.
type InterceptionServer struct {
	pipeline *pipeline.Pipeline
	auth     auth.Authenticator
	logger   *zap.Logger
}

// NewInterceptionServer creates a new InterceptionServer with the given dependencies.
func NewInterceptionServer(p *pipeline.Pipeline, authenticator auth.Authenticator, logger *zap.Logger) *InterceptionServer {
	return &InterceptionServer{
		pipeline: p,
		auth:     authenticator,
		logger:   logger,
	}
}

func (s *InterceptionServer) authenticate(ctx context.Context) error {
	_, err := s.auth.Authenticate(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrAuthUnavailable):
		return status.Errorf(codes.Unavailable, "auth failed: %v", err)
	default:
		return status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
}

func (s *InterceptionServer) NavigationCommitted(ctx context.Context, req *NavigationCommittedRequest) (*NavigationCommittedResponse, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, status.Error(codes.InvalidArgument, "url is required")
	}
	nav := s.pipeline.OnNavigationCommitted(ctx, req.TabID, req.FrameID, req.URL, req.Cookies)
	return &NavigationCommittedResponse{
		Site:    nav.Site,
		Changed: nav.Changed,
		Cookies: nav.Cookies,
	}, nil
}

func (s *InterceptionServer) TabRemoved(ctx context.Context, req *TabRemovedRequest) (*Empty, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	s.pipeline.OnTabRemoved(req.TabID)
	return &Empty{}, nil
}

// Decide answers before any export or cookie-sync work finishes. An
// unclassified request is allowed and carries no event.
func (s *InterceptionServer) Decide(ctx context.Context, req *DecideRequest) (*DecideResponse, error) {
	start := time.Now()

	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	d := s.pipeline.Decide(ctx, engine.RawRequest{
		TabID:        req.TabID,
		URL:          req.URL,
		ResourceType: req.ResourceType,
	})
	resp := &DecideResponse{
		Cancel:     d.Cancel,
		Classified: d.Classified,
		LatencyUs:  float32(time.Since(start).Microseconds()),
	}
	if d.Classified {
		ev := d.Event
		resp.Event = &ev
	}
	return resp, nil
}

func (s *InterceptionServer) ReportProbe(ctx context.Context, req *ReportProbeRequest) (*ReportProbeResponse, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	site, err := s.pipeline.HandleProbe(ctx, *req)
	switch {
	case errors.Is(err, pipeline.ErrNoSite):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		s.logger.Warn("probe rejected",
			zap.String("kind", req.Kind),
			zap.String("site", site),
			zap.Error(err),
		)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &ReportProbeResponse{Site: site}, nil
}

func (s *InterceptionServer) RefreshCookies(ctx context.Context, req *RefreshCookiesRequest) (*RefreshCookiesResponse, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	records, err := s.pipeline.RefreshCookies(ctx, req.Site, req.Cookies)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &RefreshCookiesResponse{
		Site:    pipeline.ResolveSite(req.Site),
		Cookies: records,
	}, nil
}
