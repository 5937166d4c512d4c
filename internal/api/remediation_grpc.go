package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.remediation.v1.RemediationEngine"

// RemediationEngineServer is the server API for the remediation engine.
// Every message is a google.protobuf.Struct carrying the JSON form of the
// request and response types in this package.
type RemediationEngineServer interface {
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Correlate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterActions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IncidentStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FailurePatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RollbackAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ToggleAutoPilot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GovernanceMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImpactPath(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DependencyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ServiceDependencies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GraphSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HandleAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RemediationEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(RemediationEngineServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// RemediationEngineServiceDesc describes the service for grpc.Server.RegisterService.
var RemediationEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemediationEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ingest", RemediationEngineServer.Ingest),
		unary("Correlate", RemediationEngineServer.Correlate),
		unary("AnalyzeIncident", RemediationEngineServer.AnalyzeIncident),
		unary("RegisterActions", RemediationEngineServer.RegisterActions),
		unary("ResolveIncident", RemediationEngineServer.ResolveIncident),
		unary("GetIncident", RemediationEngineServer.GetIncident),
		unary("ListIncidents", RemediationEngineServer.ListIncidents),
		unary("IncidentStats", RemediationEngineServer.IncidentStats),
		unary("FailurePatterns", RemediationEngineServer.FailurePatterns),
		unary("ListActions", RemediationEngineServer.ListActions),
		unary("ApproveAction", RemediationEngineServer.ApproveAction),
		unary("RejectAction", RemediationEngineServer.RejectAction),
		unary("RollbackAction", RemediationEngineServer.RollbackAction),
		unary("ToggleAutoPilot", RemediationEngineServer.ToggleAutoPilot),
		unary("GovernanceMode", RemediationEngineServer.GovernanceMode),
		unary("ExecuteAction", RemediationEngineServer.ExecuteAction),
		unary("ImpactPath", RemediationEngineServer.ImpactPath),
		unary("DependencyChain", RemediationEngineServer.DependencyChain),
		unary("ServiceDependencies", RemediationEngineServer.ServiceDependencies),
		unary("GraphSnapshot", RemediationEngineServer.GraphSnapshot),
		unary("Simulate", RemediationEngineServer.Simulate),
		unary("Reset", RemediationEngineServer.Reset),
		unary("HandleAlerts", RemediationEngineServer.HandleAlerts),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/remediation/v1/remediation.proto",
}

// RegisterRemediationEngineServer registers srv on s.
func RegisterRemediationEngineServer(s grpc.ServiceRegistrar, srv RemediationEngineServer) {
	s.RegisterService(&RemediationEngineServiceDesc, srv)
}

// Client calls the remediation engine with typed request and response values.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call encodes req, invokes method and decodes the reply into resp. resp may be nil.
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	if req == nil {
		req = Empty{}
	}
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := decodeLoose(out, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
