// Package api exposes the segment lifecycle and preview over gRPC.
//
// Messages are Go structs carried by the JSON codec registered in codec.go;
// the service descriptor in desc.go is hand-written against them. The
// organization always comes from the authenticated API key, never from a
// request body.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/segments"
	"github.com/donorhub/segmentd/internal/types"
)

// SegmentAPI implements SegmentServiceServer over a segments.Service.
type SegmentAPI struct {
	segments *segments.Service
	logger   *slog.Logger
}

// NewSegmentAPI creates the gRPC-facing service.
func NewSegmentAPI(svc *segments.Service, logger *slog.Logger) (*SegmentAPI, error) {
	if svc == nil {
		return nil, fmt.Errorf("svc cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentAPI{segments: svc, logger: logger}, nil
}

func (a *SegmentAPI) Catalog(ctx context.Context, _ *CatalogRequest) (*CatalogResponse, error) {
	specs := rules.Fields()
	out := &CatalogResponse{Fields: make([]CatalogField, len(specs))}
	for i, f := range specs {
		out.Fields[i] = CatalogField{FieldSpec: f, Operators: rules.OperatorsFor(f.ValueType)}
	}
	return out, nil
}

func (a *SegmentAPI) CreateSegment(ctx context.Context, req *CreateSegmentRequest) (*SegmentResponse, error) {
	org, err := organization(ctx)
	if err != nil {
		return nil, a.fail("CreateSegment", err)
	}
	seg, err := a.segments.Create(ctx, org, segments.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Type:        req.Type,
		Rules:       req.Rules,
	})
	if err != nil {
		return nil, a.fail("CreateSegment", err)
	}
	return segmentResponse(seg), nil
}

func (a *SegmentAPI) GetSegment(ctx context.Context, req *GetSegmentRequest) (*SegmentResponse, error) {
	org, id, err := scopedSegment(ctx, req.ID)
	if err != nil {
		return nil, a.fail("GetSegment", err)
	}
	seg, err := a.segments.Get(ctx, org, id)
	if err != nil {
		return nil, a.fail("GetSegment", err)
	}
	return segmentResponse(seg), nil
}

func (a *SegmentAPI) ListSegments(ctx context.Context, req *ListSegmentsRequest) (*ListSegmentsResponse, error) {
	org, err := organization(ctx)
	if err != nil {
		return nil, a.fail("ListSegments", err)
	}
	res, err := a.segments.List(ctx, org, segments.ListOptions{
		Type:   req.Type,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, a.fail("ListSegments", err)
	}
	return &ListSegmentsResponse{Segments: res.Segments, Total: res.Total}, nil
}

func (a *SegmentAPI) UpdateSegment(ctx context.Context, req *UpdateSegmentRequest) (*SegmentResponse, error) {
	org, id, err := scopedSegment(ctx, req.ID)
	if err != nil {
		return nil, a.fail("UpdateSegment", err)
	}
	seg, err := a.segments.Update(ctx, org, id, segments.UpdatePatch{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Rules:       req.Rules,
	})
	if err != nil {
		return nil, a.fail("UpdateSegment", err)
	}
	return segmentResponse(seg), nil
}

func (a *SegmentAPI) DeleteSegment(ctx context.Context, req *DeleteSegmentRequest) (*DeleteSegmentResponse, error) {
	org, id, err := scopedSegment(ctx, req.ID)
	if err != nil {
		return nil, a.fail("DeleteSegment", err)
	}
	if err := a.segments.Delete(ctx, org, id); err != nil {
		return nil, a.fail("DeleteSegment", err)
	}
	return &DeleteSegmentResponse{}, nil
}

func (a *SegmentAPI) RecalculateSegment(ctx context.Context, req *RecalculateSegmentRequest) (*RecalculateSegmentResponse, error) {
	org, id, err := scopedSegment(ctx, req.ID)
	if err != nil {
		return nil, a.fail("RecalculateSegment", err)
	}
	res, err := a.segments.Recalculate(ctx, org, id)
	if err != nil {
		return nil, a.fail("RecalculateSegment", err)
	}
	return &RecalculateSegmentResponse{
		SegmentID:    res.SegmentID,
		Count:        res.Count,
		Entered:      res.Entered,
		Exited:       res.Exited,
		Dropped:      res.Dropped,
		CalculatedAt: res.CalculatedAt,
	}, nil
}

// PreviewSegment counts a draft group. Drafts are not validated.
func (a *SegmentAPI) PreviewSegment(ctx context.Context, req *PreviewSegmentRequest) (*PreviewSegmentResponse, error) {
	org, err := organization(ctx)
	if err != nil {
		return nil, a.fail("PreviewSegment", err)
	}
	res, err := a.segments.Preview(ctx, org, req.Group)
	if err != nil {
		return nil, a.fail("PreviewSegment", err)
	}
	return &PreviewSegmentResponse{Count: res.Count, Dropped: res.Dropped}, nil
}

func (a *SegmentAPI) ListSuggestions(ctx context.Context, req *ListSuggestionsRequest) (*ListSuggestionsResponse, error) {
	org, err := organization(ctx)
	if err != nil {
		return nil, a.fail("ListSuggestions", err)
	}
	list, err := a.segments.Suggestions(ctx, org, req.IncludeAccepted)
	if err != nil {
		return nil, a.fail("ListSuggestions", err)
	}
	if list == nil {
		list = []types.Suggestion{}
	}
	return &ListSuggestionsResponse{Suggestions: list}, nil
}

func (a *SegmentAPI) ConvertSuggestion(ctx context.Context, req *ConvertSuggestionRequest) (*SegmentResponse, error) {
	org, err := organization(ctx)
	if err != nil {
		return nil, a.fail("ConvertSuggestion", err)
	}
	id, err := types.ParseSuggestionID(req.SuggestionID)
	if err != nil {
		return nil, a.fail("ConvertSuggestion", fmt.Errorf("%w: suggestion id: %v", types.ErrValidation, err))
	}
	seg, err := a.segments.ConvertSuggestion(ctx, org, id)
	if err != nil {
		return nil, a.fail("ConvertSuggestion", err)
	}
	return segmentResponse(seg), nil
}

func (a *SegmentAPI) fail(method string, err error) error {
	return toStatus(a.logger, method, err)
}

func organization(ctx context.Context) (types.OrganizationID, error) {
	org := auth.OrganizationFromContext(ctx)
	if org == "" {
		return "", types.ErrMissingOrganization
	}
	return org, nil
}

func scopedSegment(ctx context.Context, raw string) (types.OrganizationID, types.SegmentID, error) {
	org, err := organization(ctx)
	if err != nil {
		return "", "", err
	}
	id, err := types.ParseSegmentID(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: segment id: %v", types.ErrValidation, err)
	}
	return org, id, nil
}

func segmentResponse(seg *types.Segment) *SegmentResponse {
	return &SegmentResponse{Segment: seg, NeedsRecalculation: seg.NeedsRecalculation()}
}
