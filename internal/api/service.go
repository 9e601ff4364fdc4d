package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.cognition.v1.CognitionService"

// CognitionServer is the operator surface of the cognition engine. Requests
// and responses are JSON-shaped google.protobuf.Struct messages.
type CognitionServer interface {
	ListActiveAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcknowledgeAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLatestAnalysis(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchRunbooks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddRunbook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	KnowledgeStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(CognitionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = []struct {
	name string
	call unaryCall
}{
	{"ListActiveAnomalies", CognitionServer.ListActiveAnomalies},
	{"AcknowledgeAnomaly", CognitionServer.AcknowledgeAnomaly},
	{"AnalyzeAnomaly", CognitionServer.AnalyzeAnomaly},
	{"GetLatestAnalysis", CognitionServer.GetLatestAnalysis},
	{"SearchIncidents", CognitionServer.SearchIncidents},
	{"SearchRunbooks", CognitionServer.SearchRunbooks},
	{"AddIncident", CognitionServer.AddIncident},
	{"AddRunbook", CognitionServer.AddRunbook},
	{"KnowledgeStats", CognitionServer.KnowledgeStats},
	{"GetStatus", CognitionServer.GetStatus},
}

// CognitionServiceDesc describes the service for grpc.Server registration.
var CognitionServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*CognitionServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "mirador/cognition/v1/cognition.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(m.name, m.call),
		})
	}
	return desc
}

func unaryHandler(name string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CognitionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CognitionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterCognitionServer registers srv with s.
func RegisterCognitionServer(s grpc.ServiceRegistrar, srv CognitionServer) {
	s.RegisterService(&CognitionServiceDesc, srv)
}

// CognitionClient invokes CognitionService methods over a client connection.
type CognitionClient struct {
	cc grpc.ClientConnInterface
}

// NewCognitionClient wraps cc.
func NewCognitionClient(cc grpc.ClientConnInterface) *CognitionClient {
	return &CognitionClient{cc: cc}
}

// Call invokes method with in and returns the response message.
func (c *CognitionClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
