// Package segments implements the segment lifecycle and the live preview.
//
// Every rule-derived count, whether a preview or a persisted
// recalculation, goes through the same rules.Engine and the same
// DonorQuerier, so the two paths cannot disagree about membership.
package segments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

// DonorQuerier runs compiled predicates against the donor store.
type DonorQuerier interface {
	Count(ctx context.Context, p *rules.Predicate) (int, error)
	MatchingIDs(ctx context.Context, p *rules.Predicate) ([]types.DonorID, error)
}

// SegmentRepository persists segments and their membership.
type SegmentRepository interface {
	Create(ctx context.Context, seg *types.Segment, members []types.DonorID) error
	Get(ctx context.Context, org types.OrganizationID, id types.SegmentID) (*types.Segment, error)
	FindBySuggestion(ctx context.Context, org types.OrganizationID, id types.SuggestionID) (*types.Segment, error)
	List(ctx context.Context, org types.OrganizationID, f db.ListFilter) ([]types.Segment, int, error)
	IDsByType(ctx context.Context, org types.OrganizationID, t types.SegmentType) ([]types.SegmentID, error)
	Update(ctx context.Context, seg *types.Segment, rulesChanged bool) error
	ReplaceMembers(ctx context.Context, org types.OrganizationID, id types.SegmentID, rulesRevision int, members []types.DonorID, at time.Time) (entered, exited []types.DonorID, err error)
	Delete(ctx context.Context, org types.OrganizationID, id types.SegmentID) error
}

// SuggestionRepository reads suggestions and records their acceptance.
type SuggestionRepository interface {
	Get(ctx context.Context, org types.OrganizationID, id types.SuggestionID) (*types.Suggestion, error)
	List(ctx context.Context, org types.OrganizationID, includeAccepted bool) ([]types.Suggestion, error)
	MarkAccepted(ctx context.Context, org types.OrganizationID, id types.SuggestionID, segID types.SegmentID, at time.Time) error
}

// Options tunes a Service. Zero values take the defaults.
type Options struct {
	MaxConditions     int
	RecalcConcurrency int
	Logger            *slog.Logger
	Metrics           *Metrics
}

// Service is the segment lifecycle manager and preview service.
type Service struct {
	donors      DonorQuerier
	segments    SegmentRepository
	suggestions SuggestionRepository
	engine      *rules.Engine

	maxConditions int
	concurrency   int
	logger        *slog.Logger
	metrics       *Metrics
}

// NewService wires a Service over its stores.
func NewService(donors DonorQuerier, segments SegmentRepository, suggestions SuggestionRepository, engine *rules.Engine, opts Options) (*Service, error) {
	if donors == nil {
		return nil, fmt.Errorf("donors cannot be nil")
	}
	if segments == nil {
		return nil, fmt.Errorf("segments cannot be nil")
	}
	if suggestions == nil {
		return nil, fmt.Errorf("suggestions cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	s := &Service{
		donors:        donors,
		segments:      segments,
		suggestions:   suggestions,
		engine:        engine,
		maxConditions: opts.MaxConditions,
		concurrency:   opts.RecalcConcurrency,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
	if s.maxConditions <= 0 {
		s.maxConditions = types.MaxConditions
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s, nil
}

// RecalcResult is the outcome of one recalculation. Err is set only in
// RecalculateAll results.
type RecalcResult struct {
	SegmentID    types.SegmentID `json:"segment_id"`
	Count        int             `json:"count"`
	Entered      []types.DonorID `json:"entered"`
	Exited       []types.DonorID `json:"exited"`
	Dropped      []rules.Dropped `json:"dropped,omitempty"`
	CalculatedAt time.Time       `json:"calculated_at"`
	Err          error           `json:"-"`
}

// ListResult is one page of segments and the organization's total.
type ListResult struct {
	Segments []types.Segment `json:"segments"`
	Total    int             `json:"total"`
}

// Create validates and persists a segment. A DYNAMIC segment is counted
// and its membership materialised before the insert.
func (s *Service) Create(ctx context.Context, org types.OrganizationID, in CreateInput) (*types.Segment, error) {
	return s.create(ctx, org, in, "")
}

func (s *Service) create(ctx context.Context, org types.OrganizationID, in CreateInput, from types.SuggestionID) (*types.Segment, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	in.normalize()
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.engine.Now().UTC()
	seg := &types.Segment{
		ID:             types.NewSegmentID(),
		OrganizationID: org,
		Name:           in.Name,
		Description:    in.Description,
		Color:          in.Color,
		Type:           in.Type,
		SuggestionID:   from,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var members []types.DonorID
	if in.Type == types.SegmentDynamic {
		if in.Rules == nil {
			return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrMissingRules)
		}
		doc := *in.Rules
		if err := rules.ValidateRules(&doc, s.maxConditions); err != nil {
			return nil, err
		}
		seg.Rules = &doc

		ids, _, err := s.match(ctx, seg)
		if err != nil {
			return nil, err
		}
		members = ids
	}
	count := len(members)
	seg.DonorCount = &count
	seg.CountedAt = &now

	if err := s.segments.Create(ctx, seg, members); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "segment created",
		"organization_id", org, "segment_id", seg.ID, "type", seg.Type, "donor_count", count)
	return seg, nil
}

// Get returns one segment of org.
func (s *Service) Get(ctx context.Context, org types.OrganizationID, id types.SegmentID) (*types.Segment, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	return s.segments.Get(ctx, org, id)
}

// List returns one page of org's segments.
func (s *Service) List(ctx context.Context, org types.OrganizationID, opts ListOptions) (*ListResult, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	if err := validateList(&opts); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultListLimit
	}
	segs, total, err := s.segments.List(ctx, org, db.ListFilter{Type: opts.Type, Limit: opts.Limit, Offset: opts.Offset})
	if err != nil {
		return nil, err
	}
	return &ListResult{Segments: segs, Total: total}, nil
}

// Update applies patch. A rules change on a DYNAMIC segment clears the
// cached count first, then recalculates. If that recalculation fails the
// segment is returned with a nil count and the failure is logged.
func (s *Service) Update(ctx context.Context, org types.OrganizationID, id types.SegmentID, patch UpdatePatch) (*types.Segment, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	patch.normalize()
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	seg, err := s.segments.Get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if patch.empty() {
		return seg, nil
	}

	if patch.Name != nil {
		seg.Name = *patch.Name
	}
	if patch.Description != nil {
		seg.Description = *patch.Description
	}
	if patch.Color != nil {
		seg.Color = *patch.Color
	}

	rulesChanged := false
	if patch.Rules != nil {
		if seg.Type != types.SegmentDynamic {
			return nil, fmt.Errorf("update rules: %w", types.ErrStaticSegment)
		}
		doc := *patch.Rules
		if err := rules.ValidateRules(&doc, s.maxConditions); err != nil {
			return nil, err
		}
		rulesChanged, err = differentRules(seg.Rules, &doc)
		if err != nil {
			return nil, err
		}
		seg.Rules = &doc
	}
	seg.UpdatedAt = s.engine.Now().UTC()

	if err := s.segments.Update(ctx, seg, rulesChanged); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "segment updated",
		"organization_id", org, "segment_id", id, "rules_changed", rulesChanged)

	if !rulesChanged {
		return seg, nil
	}

	res, err := s.Recalculate(ctx, org, id)
	if err != nil {
		s.logger.WarnContext(ctx, "recalculation after rules change failed; count left stale",
			"organization_id", org, "segment_id", id, "error", err)
		return seg, nil
	}
	seg.DonorCount = &res.Count
	seg.CountedAt = &res.CalculatedAt
	return seg, nil
}

func differentRules(a, b *types.SegmentRules) (bool, error) {
	if a == nil || b == nil {
		return a != b, nil
	}
	ja, err := rules.MarshalRules(a)
	if err != nil {
		return false, err
	}
	jb, err := rules.MarshalRules(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(ja, jb), nil
}

// Delete removes a segment. Donor records are never touched.
func (s *Service) Delete(ctx context.Context, org types.OrganizationID, id types.SegmentID) error {
	if org == "" {
		return types.ErrMissingOrganization
	}
	if err := s.segments.Delete(ctx, org, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "segment deleted", "organization_id", org, "segment_id", id)
	return nil
}

// Recalculate re-evaluates a DYNAMIC segment's stored rules, replaces its
// membership and count, and reports who entered and exited. Concurrent
// calls on one segment are last-write-wins. If the rules change while the
// donors are being matched, nothing is stored and ErrRulesChanged is
// returned.
func (s *Service) Recalculate(ctx context.Context, org types.OrganizationID, id types.SegmentID) (res *RecalcResult, err error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	start := time.Now()
	defer func() {
		s.metrics.recalcs.WithLabelValues(statusLabel(err)).Inc()
		s.metrics.recalcDuration.Observe(time.Since(start).Seconds())
	}()

	seg, err := s.segments.Get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if seg.Type != types.SegmentDynamic {
		return nil, fmt.Errorf("recalculate %s: %w", id, types.ErrStaticSegment)
	}
	if seg.Rules == nil {
		return nil, fmt.Errorf("recalculate %s: %w: %w", id, types.ErrValidation, types.ErrMissingRules)
	}
	if err := rules.ValidateRules(seg.Rules, s.maxConditions); err != nil {
		return nil, fmt.Errorf("recalculate %s: %w", id, err)
	}

	now := s.engine.Now().UTC()
	ids, p, err := s.match(ctx, seg)
	if err != nil {
		return nil, err
	}
	entered, exited, err := s.segments.ReplaceMembers(ctx, org, id, seg.RulesRevision, ids, now)
	if err != nil {
		return nil, err
	}

	s.metrics.membershipMoves.WithLabelValues("entered").Add(float64(len(entered)))
	s.metrics.membershipMoves.WithLabelValues("exited").Add(float64(len(exited)))
	s.logger.InfoContext(ctx, "segment recalculated",
		"organization_id", org, "segment_id", id,
		"count", len(ids), "entered", len(entered), "exited", len(exited))

	return &RecalcResult{
		SegmentID:    id,
		Count:        len(ids),
		Entered:      entered,
		Exited:       exited,
		Dropped:      p.Dropped,
		CalculatedAt: now,
	}, nil
}

// RecalculateAll recalculates every DYNAMIC segment of org with bounded
// concurrency. Per-segment failures are reported in the results; the
// returned error covers only listing the segments.
func (s *Service) RecalculateAll(ctx context.Context, org types.OrganizationID) ([]RecalcResult, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	ids, err := s.segments.IDsByType(ctx, org, types.SegmentDynamic)
	if err != nil {
		return nil, err
	}

	results := make([]RecalcResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := s.Recalculate(ctx, org, id)
			if err != nil {
				results[i] = RecalcResult{SegmentID: id, Err: err}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Suggestions lists org's suggestions.
func (s *Service) Suggestions(ctx context.Context, org types.OrganizationID, includeAccepted bool) ([]types.Suggestion, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	return s.suggestions.List(ctx, org, includeAccepted)
}

// ConvertSuggestion creates a DYNAMIC segment from a suggestion and marks
// the suggestion accepted. Both steps must succeed. A retry after a partial
// failure reuses the segment created by the earlier attempt, and marking
// acceptance is idempotent, so retrying is always safe.
func (s *Service) ConvertSuggestion(ctx context.Context, org types.OrganizationID, id types.SuggestionID) (*types.Segment, error) {
	if org == "" {
		return nil, types.ErrMissingOrganization
	}
	fail := func(step ConversionStep, segID types.SegmentID, err error) error {
		return &ConversionError{Step: step, SuggestionID: id, SegmentID: segID, Err: err}
	}

	sg, err := s.suggestions.Get(ctx, org, id)
	if err != nil {
		return nil, fail(StepLoad, "", err)
	}
	if sg.Accepted {
		seg, err := s.segments.Get(ctx, org, sg.SegmentID)
		if errors.Is(err, types.ErrSegmentNotFound) {
			return nil, fail(StepLoad, "", types.ErrSuggestionAccepted)
		}
		if err != nil {
			return nil, fail(StepLoad, "", err)
		}
		return seg, nil
	}

	seg, err := s.segments.FindBySuggestion(ctx, org, id)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "resuming suggestion conversion",
			"organization_id", org, "suggestion_id", id, "segment_id", seg.ID)
	case errors.Is(err, types.ErrSegmentNotFound):
		doc, err := rules.FromCriteria(sg.Criteria, s.maxConditions)
		if err != nil {
			return nil, fail(StepCriteria, "", err)
		}
		seg, err = s.create(ctx, org, CreateInput{
			Name:        sg.Name,
			Description: sg.Description,
			Type:        types.SegmentDynamic,
			Rules:       doc,
		}, id)
		if err != nil {
			return nil, fail(StepCreate, "", err)
		}
	default:
		return nil, fail(StepCreate, "", err)
	}

	if err := s.suggestions.MarkAccepted(ctx, org, id, seg.ID, s.engine.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "suggestion conversion incomplete",
			"organization_id", org, "suggestion_id", id, "segment_id", seg.ID, "error", err)
		return nil, fail(StepMarkAccepted, seg.ID, err)
	}
	s.logger.InfoContext(ctx, "suggestion converted",
		"organization_id", org, "suggestion_id", id, "segment_id", seg.ID)
	return seg, nil
}

// match compiles seg's rules and returns the matching donor ids.
func (s *Service) match(ctx context.Context, seg *types.Segment) ([]types.DonorID, *rules.Predicate, error) {
	p := s.compile(ctx, seg.Rules.Group, seg.OrganizationID)
	ids, err := s.donors.MatchingIDs(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return ids, p, nil
}

func (s *Service) compile(ctx context.Context, group *types.RuleGroup, org types.OrganizationID) *rules.Predicate {
	p := s.engine.Compile(group, org)
	if len(p.Dropped) > 0 {
		s.metrics.observeDropped(p.Dropped)
		for _, d := range p.Dropped {
			s.logger.DebugContext(ctx, "condition dropped",
				"organization_id", org, "condition_id", d.ConditionID,
				"field", d.Field, "operator", d.Operator, "reason", d.Reason)
		}
	}
	return p
}
