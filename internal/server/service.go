package server

import (
	"context"

	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "privacyshield.v1.InterceptionService"

// --- Messages ---

type NavigationCommittedRequest struct {
	TabID   int                `json:"tab_id"`
	FrameID int                `json:"frame_id"`
	URL     string             `json:"url"`
	Cookies []engine.RawCookie `json:"cookies,omitempty"`
}

type NavigationCommittedResponse struct {
	Site    string                `json:"site"`
	Changed bool                  `json:"changed"`
	Cookies []engine.CookieRecord `json:"cookies"`
}

type TabRemovedRequest struct {
	TabID int `json:"tab_id"`
}

type Empty struct{}

type DecideRequest struct {
	TabID        int    `json:"tab_id"`
	URL          string `json:"url"`
	ResourceType string `json:"resource_type"`
}

type DecideResponse struct {
	Cancel     bool                 `json:"cancel"`
	Classified bool                 `json:"classified"`
	Event      *engine.RequestEvent `json:"event,omitempty"`
	LatencyUs  float32              `json:"latency_us"`
}

type ReportProbeRequest = pipeline.Probe

type ReportProbeResponse struct {
	Site string `json:"site"`
}

type RefreshCookiesRequest struct {
	Site    string             `json:"site"`
	Cookies []engine.RawCookie `json:"cookies"`
}

type RefreshCookiesResponse struct {
	Site    string                `json:"site"`
	Cookies []engine.CookieRecord `json:"cookies"`
}

// InterceptionServiceServer is the server API for the interception service.
type InterceptionServiceServer interface {
	NavigationCommitted(context.Context, *NavigationCommittedRequest) (*NavigationCommittedResponse, error)
	TabRemoved(context.Context, *TabRemovedRequest) (*Empty, error)
	Decide(context.Context, *DecideRequest) (*DecideResponse, error)
	ReportProbe(context.Context, *ReportProbeRequest) (*ReportProbeResponse, error)
	RefreshCookies(context.Context, *RefreshCookiesRequest) (*RefreshCookiesResponse, error)
}

// RegisterInterceptionServiceServer registers srv on s.
func RegisterInterceptionServiceServer(s grpc.ServiceRegistrar, srv InterceptionServiceServer) {
	s.RegisterService(&interceptionServiceDesc, srv)
}

// unaryHandler adapts one typed method to grpc's MethodHandler shape.
func unaryHandler[Req any, Resp any](method string, call func(InterceptionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(InterceptionServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var interceptionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InterceptionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "NavigationCommitted",
			Handler:    unaryHandler("NavigationCommitted", InterceptionServiceServer.NavigationCommitted),
		},
		{
			MethodName: "TabRemoved",
			Handler:    unaryHandler("TabRemoved", InterceptionServiceServer.TabRemoved),
		},
		{
			MethodName: "Decide",
			Handler:    unaryHandler("Decide", InterceptionServiceServer.Decide),
		},
		{
			MethodName: "ReportProbe",
			Handler:    unaryHandler("ReportProbe", InterceptionServiceServer.ReportProbe),
		},
		{
			MethodName: "RefreshCookies",
			Handler:    unaryHandler("RefreshCookies", InterceptionServiceServer.RefreshCookies),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "privacyshield/v1/interception.json",
}

// --- Client ---

// InterceptionServiceClient calls the interception service with the JSON codec.
type InterceptionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewInterceptionServiceClient(cc grpc.ClientConnInterface) *InterceptionServiceClient {
	return &InterceptionServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InterceptionServiceClient) NavigationCommitted(ctx context.Context, in *NavigationCommittedRequest, opts ...grpc.CallOption) (*NavigationCommittedResponse, error) {
	return invoke[NavigationCommittedResponse](ctx, c.cc, "NavigationCommitted", in, opts)
}

func (c *InterceptionServiceClient) TabRemoved(ctx context.Context, in *TabRemovedRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "TabRemoved", in, opts)
}

func (c *InterceptionServiceClient) Decide(ctx context.Context, in *DecideRequest, opts ...grpc.CallOption) (*DecideResponse, error) {
	return invoke[DecideResponse](ctx, c.cc, "Decide", in, opts)
}

func (c *InterceptionServiceClient) ReportProbe(ctx context.Context, in *ReportProbeRequest, opts ...grpc.CallOption) (*ReportProbeResponse, error) {
	return invoke[ReportProbeResponse](ctx, c.cc, "ReportProbe", in, opts)
}

func (c *InterceptionServiceClient) RefreshCookies(ctx context.Context, in *RefreshCookiesRequest, opts ...grpc.CallOption) (*RefreshCookiesResponse, error) {
	return invoke[RefreshCookiesResponse](ctx, c.cc, "RefreshCookies", in, opts)
}
