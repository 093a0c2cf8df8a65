package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/triage-ai/privacy-shield/internal/auth"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/engine/detectors"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"github.com/triage-ai/privacy-shield/internal/rules"
	"github.com/triage-ai/privacy-shield/internal/state"
	"github.com/triage-ai/privacy-shield/internal/store"
	"github.com/triage-ai/privacy-shield/internal/tabs"
	"github.com/triage-ai/privacy-shield/internal/trackerlist"
)

const testKey = "psk_test_0123456789"

// testServer spins up an in-process gRPC server and returns a connected client.
func testServer(t *testing.T) (*InterceptionServiceClient, *pipeline.Pipeline, func()) {
	t.Helper()

	logger := zap.NewNop()
	kv := store.NewMemory()
	rs := rules.NewStore(kv, logger)
	p := pipeline.New(pipeline.Dependencies{
		Tabs:    tabs.NewTracker(),
		Rules:   rs,
		Decider: engine.NewRuleEngine(rs, trackerlist.Compile(trackerlist.Default(), logger)),
		Signals: engine.NewSignalEngine([]engine.Detector{detectors.NewCookieSyncDetector()}, time.Second, logger),
		State:   state.New(kv, nil, nil, state.Config{}, logger),
		Logger:  logger,
		Source:  "grpc",
	})

	hash, err := auth.HashKey(testKey)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	authenticator := auth.NewKeyAuthenticator(auth.KeyAuthConfig{
		Store: auth.NewStaticKeyStore(auth.KeyRow{
			KeyID: "k1", Prefix: auth.PrefixOf(testKey), Hash: hash, Role: auth.RoleClient,
		}),
		Logger: logger,
	})

	grpcServer := grpc.NewServer()
	RegisterInterceptionServiceServer(grpcServer, NewInterceptionServer(p, authenticator, logger))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go grpcServer.Serve(lis) //nolint:errcheck

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
	}
	return NewInterceptionServiceClient(conn), p, cleanup
}

// authedCtx creates a context with valid auth metadata.
func authedCtx() context.Context {
	md := metadata.Pairs("authorization", "Bearer "+testKey)
	return metadata.NewOutgoingContext(context.Background(), md)
}

func TestIntegration_BlocksThirdPartyTracker(t *testing.T) {
	client, _, cleanup := testServer(t)
	defer cleanup()
	ctx := authedCtx()

	nav, err := client.NavigationCommitted(ctx, &NavigationCommittedRequest{TabID: 4, FrameID: tabs.TopFrameID, URL: "https://news.example/"})
	if err != nil {
		t.Fatalf("NavigationCommitted failed: %v", err)
	}
	if nav.Site != "news.example" || !nav.Changed {
		t.Errorf("expected changed site news.example, got %+v", nav)
	}

	resp, err := client.Decide(ctx, &DecideRequest{TabID: 4, URL: "https://ads.doubleclick.net/px", ResourceType: "image"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !resp.Cancel || !resp.Classified || resp.Event == nil {
		t.Fatalf("expected classified cancel with event, got %+v", resp)
	}
	if !resp.Event.Tracker || resp.Event.ETLD1 != "doubleclick.net" {
		t.Errorf("expected doubleclick.net tracker event, got %+v", resp.Event)
	}

	resp, err = client.Decide(ctx, &DecideRequest{TabID: 4, URL: "https://cdn.news.example/app.js", ResourceType: "script"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if resp.Cancel {
		t.Error("expected first-party request allowed")
	}
}

func TestIntegration_UnknownTabAllowed(t *testing.T) {
	client, _, cleanup := testServer(t)
	defer cleanup()

	resp, err := client.Decide(authedCtx(), &DecideRequest{TabID: 77, URL: "https://ads.doubleclick.net/px"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if resp.Cancel || resp.Classified || resp.Event != nil {
		t.Errorf("expected unclassified allow, got %+v", resp)
	}
}

func TestIntegration_TabRemoved(t *testing.T) {
	client, p, cleanup := testServer(t)
	defer cleanup()
	ctx := authedCtx()

	if _, err := client.NavigationCommitted(ctx, &NavigationCommittedRequest{TabID: 2, URL: "https://shop.example/"}); err != nil {
		t.Fatalf("NavigationCommitted failed: %v", err)
	}
	if _, err := client.TabRemoved(ctx, &TabRemovedRequest{TabID: 2}); err != nil {
		t.Fatalf("TabRemoved failed: %v", err)
	}
	if _, ok := p.TopSite(2); ok {
		t.Error("expected tab forgotten")
	}
}

func TestIntegration_ProbeAndCookies(t *testing.T) {
	client, p, cleanup := testServer(t)
	defer cleanup()
	ctx := authedCtx()

	probe, err := client.ReportProbe(ctx, &ReportProbeRequest{
		Kind:     pipeline.ProbeHijack,
		SiteHint: "https://www.shop.example/checkout",
		Payload:  json.RawMessage(`{"beforeUnload":true,"popupFlood":true}`),
	})
	if err != nil {
		t.Fatalf("ReportProbe failed: %v", err)
	}
	if probe.Site != "shop.example" {
		t.Errorf("expected site shop.example, got %q", probe.Site)
	}
	if h := p.Summary(context.Background(), "shop.example").Hijack; h == nil || !h.PopupFlood {
		t.Errorf("expected hijack signal recorded, got %+v", h)
	}

	cookies, err := client.RefreshCookies(ctx, &RefreshCookiesRequest{
		Site:    "shop.example",
		Cookies: []engine.RawCookie{{Name: "uid", Domain: ".tracker.example", Value: "v"}},
	})
	if err != nil {
		t.Fatalf("RefreshCookies failed: %v", err)
	}
	if len(cookies.Cookies) != 1 || !cookies.Cookies[0].ThirdParty {
		t.Errorf("expected one third-party cookie record, got %+v", cookies.Cookies)
	}
}

func TestIntegration_Errors(t *testing.T) {
	client, _, cleanup := testServer(t)
	defer cleanup()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "no auth",
			call: func() error {
				_, err := client.Decide(context.Background(), &DecideRequest{TabID: 1, URL: "https://a.example/"})
				return err
			},
			want: codes.Unauthenticated,
		},
		{
			name: "wrong key",
			call: func() error {
				ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("authorization", "Bearer psk_nope_000000"))
				_, err := client.Decide(ctx, &DecideRequest{TabID: 1, URL: "https://a.example/"})
				return err
			},
			want: codes.Unauthenticated,
		},
		{
			name: "missing url",
			call: func() error {
				_, err := client.NavigationCommitted(authedCtx(), &NavigationCommittedRequest{TabID: 1})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown probe",
			call: func() error {
				_, err := client.ReportProbe(authedCtx(), &ReportProbeRequest{Kind: "battery", SiteHint: "a.example", Payload: json.RawMessage(`{}`)})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "null probe payload",
			call: func() error {
				_, err := client.ReportProbe(authedCtx(), &ReportProbeRequest{Kind: pipeline.ProbeHijack, SiteHint: "a.example", Payload: json.RawMessage(`null`)})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unattributed probe",
			call: func() error {
				_, err := client.ReportProbe(authedCtx(), &ReportProbeRequest{Kind: pipeline.ProbeCanvas, Payload: json.RawMessage(`{}`)})
				return err
			},
			want: codes.FailedPrecondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := status.Code(err); got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Errorf("expected json, got %q", c.Name())
	}
	data, err := c.Marshal(&DecideRequest{TabID: 9, URL: "https://x.example/"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out DecideRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.TabID != 9 || out.URL != "https://x.example/" {
		t.Errorf("expected round trip, got %+v", out)
	}
}

func TestJSONCodec_ProbeFieldNames(t *testing.T) {
	tab := 4
	data, err := jsonCodec{}.Marshal(&ReportProbeRequest{Kind: pipeline.ProbeCanvas, SiteHint: "a.example", TabID: &tab, Payload: json.RawMessage(`{"reads":1}`)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, field := range []string{`"site_hint":"a.example"`, `"tab_id":4`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("expected %s in %s", field, data)
		}
	}
}
