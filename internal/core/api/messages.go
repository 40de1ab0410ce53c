package api

import (
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

// Requests never carry an organization id; it comes from the API key.

type CatalogRequest struct{}

type CatalogField struct {
	rules.FieldSpec
	Operators []rules.OperatorSpec `json:"operators"`
}

type CatalogResponse struct {
	Fields []CatalogField `json:"fields"`
}

type CreateSegmentRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Color       string              `json:"color,omitempty"`
	Type        types.SegmentType   `json:"type"`
	Rules       *types.SegmentRules `json:"rules,omitempty"`
}

type GetSegmentRequest struct {
	ID string `json:"id"`
}

// SegmentResponse wraps a segment with its staleness flag so clients never
// mistake a nil count for zero.
type SegmentResponse struct {
	Segment            *types.Segment `json:"segment"`
	NeedsRecalculation bool           `json:"needs_recalculation"`
}

type ListSegmentsRequest struct {
	Type   types.SegmentType `json:"type,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

type ListSegmentsResponse struct {
	Segments []types.Segment `json:"segments"`
	Total    int             `json:"total"`
}

type UpdateSegmentRequest struct {
	ID          string              `json:"id"`
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Color       *string             `json:"color,omitempty"`
	Rules       *types.SegmentRules `json:"rules,omitempty"`
}

type DeleteSegmentRequest struct {
	ID string `json:"id"`
}

type DeleteSegmentResponse struct{}

type RecalculateSegmentRequest struct {
	ID string `json:"id"`
}

type RecalculateSegmentResponse struct {
	SegmentID    types.SegmentID `json:"segment_id"`
	Count        int             `json:"count"`
	Entered      []types.DonorID `json:"entered"`
	Exited       []types.DonorID `json:"exited"`
	Dropped      []rules.Dropped `json:"dropped,omitempty"`
	CalculatedAt time.Time       `json:"calculated_at"`
}

type PreviewSegmentRequest struct {
	Group *types.RuleGroup `json:"group"`
}

type PreviewSegmentResponse struct {
	Count   int             `json:"count"`
	Dropped []rules.Dropped `json:"dropped,omitempty"`
}

type ListSuggestionsRequest struct {
	IncludeAccepted bool `json:"include_accepted,omitempty"`
}

type ListSuggestionsResponse struct {
	Suggestions []types.Suggestion `json:"suggestions"`
}

type ConvertSuggestionRequest struct {
	SuggestionID string `json:"suggestion_id"`
}
