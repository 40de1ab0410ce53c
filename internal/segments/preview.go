package segments

import (
	"context"
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

// PreviewResult is the live count for a draft rule group.
// Dropped lists conditions that contributed no constraint.
type PreviewResult struct {
	Count   int             `json:"count"`
	Dropped []rules.Dropped `json:"dropped,omitempty"`
}

// Preview counts org's donors matching a draft group without persisting
// anything. The group is not validated: half-edited drafts still compile,
// and a nil group counts every donor of org. Safe to call at any rate;
// callers debounce.
func (s *Service) Preview(ctx context.Context, org types.OrganizationID, group *types.RuleGroup) (res *PreviewResult, err error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	start := time.Now()
	defer func() {
		s.metrics.previews.WithLabelValues(statusLabel(err)).Inc()
		s.metrics.previewDuration.Observe(time.Since(start).Seconds())
	}()

	p := s.compile(ctx, group, org)
	n, err := s.donors.Count(ctx, p)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Count: n, Dropped: p.Dropped}, nil
}
