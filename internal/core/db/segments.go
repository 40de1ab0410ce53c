package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donorhub/segmentd/internal/types"
)

// SegmentStore persists segments and their materialised membership.
type SegmentStore struct {
	q *Queries
}

// NewSegmentStore creates a segment store over loaded queries.
func NewSegmentStore(q *Queries) *SegmentStore {
	return &SegmentStore{q: q}
}

// ListFilter narrows List. Empty Type lists both types.
type ListFilter struct {
	Type   types.SegmentType
	Limit  int
	Offset int
}

type segmentRow struct {
	ID             string         `db:"segment_id"`
	OrganizationID string         `db:"organization_id"`
	Name           string         `db:"name"`
	Description    string         `db:"description"`
	Color          string         `db:"color"`
	Type           string         `db:"segment_type"`
	Rules          sql.NullString `db:"rules"`
	DonorCount     sql.NullInt64  `db:"donor_count"`
	CountedAt      NullTime       `db:"counted_at"`
	RulesRevision  int            `db:"rules_revision"`
	SuggestionID   sql.NullString `db:"suggestion_id"`
	CreatedAt      NullTime       `db:"created_at"`
	UpdatedAt      NullTime       `db:"updated_at"`
}

func (r segmentRow) toSegment() (*types.Segment, error) {
	seg := &types.Segment{
		ID:             types.SegmentID(r.ID),
		OrganizationID: types.OrganizationID(r.OrganizationID),
		Name:           r.Name,
		Description:    r.Description,
		Color:          r.Color,
		Type:           types.SegmentType(r.Type),
		CountedAt:      r.CountedAt.Ptr(),
		RulesRevision:  r.RulesRevision,
		SuggestionID:   types.SuggestionID(r.SuggestionID.String),
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
	if r.DonorCount.Valid {
		n := int(r.DonorCount.Int64)
		seg.DonorCount = &n
	}
	if r.Rules.Valid && r.Rules.String != "" {
		var doc types.SegmentRules
		if err := json.Unmarshal([]byte(r.Rules.String), &doc); err != nil {
			return nil, fmt.Errorf("decode rules of segment %s: %w", r.ID, err)
		}
		seg.Rules = &doc
	}
	return seg, nil
}

// segmentArgs returns the rules column value and the nullable count columns.
func segmentArgs(seg *types.Segment) (rules any, count any, countedAt any, err error) {
	if seg.Rules != nil {
		data, err := json.Marshal(seg.Rules)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode rules: %w", err)
		}
		rules = string(data)
	}
	if seg.DonorCount != nil {
		count = *seg.DonorCount
	}
	return rules, count, nullableTime(seg.CountedAt), nil
}

func nullableSuggestion(id types.SuggestionID) any {
	if id == "" {
		return nil
	}
	return string(id)
}

// Create inserts seg and its initial members in one transaction. The
// segment starts at rules revision 1.
func (s *SegmentStore) Create(ctx context.Context, seg *types.Segment, members []types.DonorID) error {
	rulesArg, count, countedAt, err := segmentArgs(seg)
	if err != nil {
		return err
	}
	seg.RulesRevision = 1
	return s.q.InTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "create-segment",
			string(seg.ID), string(seg.OrganizationID), seg.Name, seg.Description, seg.Color,
			string(seg.Type), rulesArg, count, countedAt, seg.RulesRevision, nullableSuggestion(seg.SuggestionID),
			FormatTime(seg.CreatedAt), FormatTime(seg.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
		addedAt := FormatTime(seg.CreatedAt)
		for _, id := range members {
			if _, err := tx.ExecContext(ctx, "insert-segment-member", string(seg.ID), string(id), addedAt); err != nil {
				return fmt.Errorf("insert segment member: %w", err)
			}
		}
		return nil
	})
}

// Get loads one segment of org.
func (s *SegmentStore) Get(ctx context.Context, org types.OrganizationID, id types.SegmentID) (*types.Segment, error) {
	var row segmentRow
	err := s.q.GetContext(ctx, "get-segment", &row, string(org), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return row.toSegment()
}

// FindBySuggestion loads the segment created from a suggestion.
func (s *SegmentStore) FindBySuggestion(ctx context.Context, org types.OrganizationID, id types.SuggestionID) (*types.Segment, error) {
	var row segmentRow
	err := s.q.GetContext(ctx, "find-segment-by-suggestion", &row, string(org), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find segment by suggestion: %w", err)
	}
	return row.toSegment()
}

// List returns one page of org's segments, newest first, and the total.
func (s *SegmentStore) List(ctx context.Context, org types.OrganizationID, f ListFilter) ([]types.Segment, int, error) {
	var (
		rows  []segmentRow
		total int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if f.Type == "" {
			return s.q.GetContext(gctx, "count-segments", &total, string(org))
		}
		return s.q.GetContext(gctx, "count-segments-by-type", &total, string(org), string(f.Type))
	})
	g.Go(func() error {
		if f.Type == "" {
			return s.q.SelectContext(gctx, "list-segments", &rows, string(org), f.Limit, f.Offset)
		}
		return s.q.SelectContext(gctx, "list-segments-by-type", &rows, string(org), string(f.Type), f.Limit, f.Offset)
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("list segments: %w", err)
	}

	out := make([]types.Segment, 0, len(rows))
	for _, r := range rows {
		seg, err := r.toSegment()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *seg)
	}
	return out, total, nil
}

// IDsByType returns the ids of org's segments of one type, oldest first.
func (s *SegmentStore) IDsByType(ctx context.Context, org types.OrganizationID, t types.SegmentType) ([]types.SegmentID, error) {
	var ids []string
	if err := s.q.SelectContext(ctx, "list-segment-ids-by-type", &ids, string(org), string(t)); err != nil {
		return nil, fmt.Errorf("list segment ids: %w", err)
	}
	out := make([]types.SegmentID, len(ids))
	for i, id := range ids {
		out[i] = types.SegmentID(id)
	}
	return out, nil
}

// Update writes the metadata columns of seg. With rulesChanged it also
// stores the new rules, clears the cached count and advances
// seg.RulesRevision. The count columns are never written from seg.
func (s *SegmentStore) Update(ctx context.Context, seg *types.Segment, rulesChanged bool) error {
	org, id := string(seg.OrganizationID), string(seg.ID)
	updatedAt := FormatTime(seg.UpdatedAt)

	if !rulesChanged {
		res, err := s.q.ExecContext(ctx, "update-segment-metadata",
			seg.Name, seg.Description, seg.Color, updatedAt, org, id)
		if err != nil {
			return fmt.Errorf("update segment: %w", err)
		}
		return expectRow(res, types.ErrSegmentNotFound)
	}

	rulesArg, _, _, err := segmentArgs(seg)
	if err != nil {
		return err
	}
	return s.q.InTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, "update-segment-rules",
			seg.Name, seg.Description, seg.Color, rulesArg, updatedAt, org, id)
		if err != nil {
			return fmt.Errorf("update segment rules: %w", err)
		}
		if err := expectRow(res, types.ErrSegmentNotFound); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, "get-segment-rules-revision", &seg.RulesRevision, org, id); err != nil {
			return fmt.Errorf("get rules revision: %w", err)
		}
		seg.DonorCount = nil
		seg.CountedAt = nil
		return nil
	})
}

// ReplaceMembers makes the stored membership equal to members and stores
// its size as the count, all in one transaction. members must have been
// computed from rules at rulesRevision; if the stored rules have moved on,
// nothing is written and ErrRulesChanged is returned. The segment row stays
// locked until commit, so rewrites of one segment apply one at a time.
// Returns the donors that entered and exited relative to the previous
// membership.
func (s *SegmentStore) ReplaceMembers(ctx context.Context, org types.OrganizationID, id types.SegmentID, rulesRevision int, members []types.DonorID, at time.Time) (entered, exited []types.DonorID, err error) {
	err = s.q.InTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, "lock-segment-revision", string(org), string(id), rulesRevision)
		if err != nil {
			return fmt.Errorf("lock segment: %w", err)
		}
		if err := expectRow(res, types.ErrRulesChanged); err != nil {
			if !errors.Is(err, types.ErrRulesChanged) {
				return err
			}
			var rev int
			lookupErr := tx.GetContext(ctx, "get-segment-rules-revision", &rev, string(org), string(id))
			if errors.Is(lookupErr, sql.ErrNoRows) {
				return types.ErrSegmentNotFound
			}
			if lookupErr != nil {
				return fmt.Errorf("get rules revision: %w", lookupErr)
			}
			return fmt.Errorf("segment %s at revision %d, members computed at %d: %w", id, rev, rulesRevision, err)
		}

		var current []string
		if err := tx.SelectContext(ctx, "list-segment-members", &current, string(id)); err != nil {
			return fmt.Errorf("list segment members: %w", err)
		}

		entered, exited = diffMembers(current, members)

		addedAt := FormatTime(at)
		for _, d := range entered {
			if _, err := tx.ExecContext(ctx, "insert-segment-member", string(id), string(d), addedAt); err != nil {
				return fmt.Errorf("insert segment member: %w", err)
			}
		}
		for _, d := range exited {
			if _, err := tx.ExecContext(ctx, "delete-segment-member", string(id), string(d)); err != nil {
				return fmt.Errorf("delete segment member: %w", err)
			}
		}

		count := len(current) + len(entered) - len(exited)
		if _, err := tx.ExecContext(ctx, "update-segment-count", count, addedAt, string(org), string(id)); err != nil {
			return fmt.Errorf("update segment count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entered, exited, nil
}

// Members returns the materialised membership of a segment.
func (s *SegmentStore) Members(ctx context.Context, org types.OrganizationID, id types.SegmentID) ([]types.DonorID, error) {
	if _, err := s.Get(ctx, org, id); err != nil {
		return nil, err
	}
	var ids []string
	if err := s.q.SelectContext(ctx, "list-segment-members", &ids, string(id)); err != nil {
		return nil, fmt.Errorf("list segment members: %w", err)
	}
	out := make([]types.DonorID, len(ids))
	for i, d := range ids {
		out[i] = types.DonorID(d)
	}
	return out, nil
}

// Delete removes a segment and its membership rows. Donor rows are untouched.
func (s *SegmentStore) Delete(ctx context.Context, org types.OrganizationID, id types.SegmentID) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		var row segmentRow
		err := tx.GetContext(ctx, "get-segment", &row, string(org), string(id))
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrSegmentNotFound
		}
		if err != nil {
			return fmt.Errorf("get segment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "delete-segment-members", string(id)); err != nil {
			return fmt.Errorf("delete segment members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "delete-segment", string(org), string(id)); err != nil {
			return fmt.Errorf("delete segment: %w", err)
		}
		return nil
	})
}

// diffMembers returns the ids added to and removed from current.
// Repeated ids in next count once.
func diffMembers(current []string, next []types.DonorID) (entered, exited []types.DonorID) {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[string]bool, len(next))
	for _, id := range next {
		if want[string(id)] {
			continue
		}
		want[string(id)] = true
		if !have[string(id)] {
			entered = append(entered, id)
		}
	}
	for _, id := range current {
		if !want[id] {
			exited = append(exited, types.DonorID(id))
		}
	}
	return entered, exited
}

// expectRow returns notFound when res touched no rows.
func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
