package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

// MinClusterSize is the smallest cluster turned into a suggestion.
const MinClusterSize = 3

// DonorLister reads every donor of an organization.
type DonorLister interface {
	ListByOrganization(ctx context.Context, org types.OrganizationID) ([]types.Donor, error)
}

// SuggestionWriter replaces an organization's pending suggestions.
type SuggestionWriter interface {
	ReplacePending(ctx context.Context, org types.OrganizationID, fresh []types.Suggestion) error
}

// Generator turns donor clusters into stored suggestions.
type Generator struct {
	donors  DonorLister
	store   SuggestionWriter
	now     func() time.Time
	logger  *slog.Logger
	maxIter int
}

// NewGenerator creates a generator. A nil clock uses time.Now and a nil
// logger uses slog.Default.
func NewGenerator(donors DonorLister, store SuggestionWriter, clock func() time.Time, logger *slog.Logger) *Generator {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{donors: donors, store: store, now: clock, logger: logger, maxIter: DefaultMaxIterations}
}

// ClusterCount picks k for n donors: n/10 clamped to [2, 5].
func ClusterCount(n int) int {
	return min(5, max(2, n/10))
}

// Generate clusters org's donors and replaces its pending suggestions with
// one per cluster of at least MinClusterSize donors. Accepted suggestions
// are kept. An organization without donors is left untouched.
func (g *Generator) Generate(ctx context.Context, org types.OrganizationID) ([]types.Suggestion, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	donors, err := g.donors.ListByOrganization(ctx, org)
	if err != nil {
		return nil, err
	}
	if len(donors) == 0 {
		g.logger.InfoContext(ctx, "no donors; suggestions unchanged", "organization_id", org)
		return nil, nil
	}

	now := g.now().UTC()
	points := make([]Features, len(donors))
	for i, d := range donors {
		points[i] = FeaturesOf(d, now)
	}
	k := ClusterCount(len(points))
	clusters := KMeans(points, k, g.maxIter)

	var out []types.Suggestion
	for _, c := range clusters {
		if len(c.Members) < MinClusterSize {
			continue
		}
		desc := Describe(c, now)
		criteria, err := json.Marshal(desc.Rules)
		if err != nil {
			return nil, fmt.Errorf("encode criteria: %w", err)
		}
		out = append(out, types.Suggestion{
			ID:             types.NewSuggestionID(),
			OrganizationID: org,
			Name:           desc.Name,
			Description:    desc.Description,
			Criteria:       criteria,
			DonorCount:     desc.DonorCount,
			Confidence:     desc.Confidence,
			ClusterID:      c.Index,
			CreatedAt:      now,
		})
	}

	if err := g.store.ReplacePending(ctx, org, out); err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "suggestions generated",
		"organization_id", org, "donors", len(donors), "clusters", len(clusters), "suggestions", len(out))
	return out, nil
}
