package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the full gRPC service name.
const ServiceName = "segmentd.v1.SegmentService"

// SegmentServiceServer is the server side of segmentd.v1.SegmentService.
type SegmentServiceServer interface {
	Catalog(context.Context, *CatalogRequest) (*CatalogResponse, error)
	CreateSegment(context.Context, *CreateSegmentRequest) (*SegmentResponse, error)
	GetSegment(context.Context, *GetSegmentRequest) (*SegmentResponse, error)
	ListSegments(context.Context, *ListSegmentsRequest) (*ListSegmentsResponse, error)
	UpdateSegment(context.Context, *UpdateSegmentRequest) (*SegmentResponse, error)
	DeleteSegment(context.Context, *DeleteSegmentRequest) (*DeleteSegmentResponse, error)
	RecalculateSegment(context.Context, *RecalculateSegmentRequest) (*RecalculateSegmentResponse, error)
	PreviewSegment(context.Context, *PreviewSegmentRequest) (*PreviewSegmentResponse, error)
	ListSuggestions(context.Context, *ListSuggestionsRequest) (*ListSuggestionsResponse, error)
	ConvertSuggestion(context.Context, *ConvertSuggestionRequest) (*SegmentResponse, error)
}

var _ SegmentServiceServer = (*SegmentAPI)(nil)

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req, Resp any](name string, call func(SegmentServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SegmentServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SegmentServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes segmentd.v1.SegmentService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SegmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Catalog", SegmentServiceServer.Catalog),
		unary("CreateSegment", SegmentServiceServer.CreateSegment),
		unary("GetSegment", SegmentServiceServer.GetSegment),
		unary("ListSegments", SegmentServiceServer.ListSegments),
		unary("UpdateSegment", SegmentServiceServer.UpdateSegment),
		unary("DeleteSegment", SegmentServiceServer.DeleteSegment),
		unary("RecalculateSegment", SegmentServiceServer.RecalculateSegment),
		unary("PreviewSegment", SegmentServiceServer.PreviewSegment),
		unary("ListSuggestions", SegmentServiceServer.ListSuggestions),
		unary("ConvertSuggestion", SegmentServiceServer.ConvertSuggestion),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segmentd/v1/segment_service",
}

// RegisterSegmentServiceServer registers srv on s.
func RegisterSegmentServiceServer(s grpc.ServiceRegistrar, srv SegmentServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
