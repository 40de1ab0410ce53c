package api

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls segmentd.v1.SegmentService. Every call is sent with the
// JSON content-subtype.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Catalog(ctx context.Context, opts ...grpc.CallOption) (*CatalogResponse, error) {
	return invoke[CatalogResponse](ctx, c.cc, "Catalog", &CatalogRequest{}, opts)
}

func (c *Client) CreateSegment(ctx context.Context, req *CreateSegmentRequest, opts ...grpc.CallOption) (*SegmentResponse, error) {
	return invoke[SegmentResponse](ctx, c.cc, "CreateSegment", req, opts)
}

func (c *Client) GetSegment(ctx context.Context, req *GetSegmentRequest, opts ...grpc.CallOption) (*SegmentResponse, error) {
	return invoke[SegmentResponse](ctx, c.cc, "GetSegment", req, opts)
}

func (c *Client) ListSegments(ctx context.Context, req *ListSegmentsRequest, opts ...grpc.CallOption) (*ListSegmentsResponse, error) {
	return invoke[ListSegmentsResponse](ctx, c.cc, "ListSegments", req, opts)
}

func (c *Client) UpdateSegment(ctx context.Context, req *UpdateSegmentRequest, opts ...grpc.CallOption) (*SegmentResponse, error) {
	return invoke[SegmentResponse](ctx, c.cc, "UpdateSegment", req, opts)
}

func (c *Client) DeleteSegment(ctx context.Context, req *DeleteSegmentRequest, opts ...grpc.CallOption) (*DeleteSegmentResponse, error) {
	return invoke[DeleteSegmentResponse](ctx, c.cc, "DeleteSegment", req, opts)
}

func (c *Client) RecalculateSegment(ctx context.Context, req *RecalculateSegmentRequest, opts ...grpc.CallOption) (*RecalculateSegmentResponse, error) {
	return invoke[RecalculateSegmentResponse](ctx, c.cc, "RecalculateSegment", req, opts)
}

func (c *Client) PreviewSegment(ctx context.Context, req *PreviewSegmentRequest, opts ...grpc.CallOption) (*PreviewSegmentResponse, error) {
	return invoke[PreviewSegmentResponse](ctx, c.cc, "PreviewSegment", req, opts)
}

func (c *Client) ListSuggestions(ctx context.Context, req *ListSuggestionsRequest, opts ...grpc.CallOption) (*ListSuggestionsResponse, error) {
	return invoke[ListSuggestionsResponse](ctx, c.cc, "ListSuggestions", req, opts)
}

func (c *Client) ConvertSuggestion(ctx context.Context, req *ConvertSuggestionRequest, opts ...grpc.CallOption) (*SegmentResponse, error) {
	return invoke[SegmentResponse](ctx, c.cc, "ConvertSuggestion", req, opts)
}
