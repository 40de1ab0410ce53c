package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

// SuggestionStore persists candidate segments produced by the clustering job.
type SuggestionStore struct {
	q *Queries
}

// NewSuggestionStore creates a suggestion store over loaded queries.
func NewSuggestionStore(q *Queries) *SuggestionStore {
	return &SuggestionStore{q: q}
}

type suggestionRow struct {
	ID             string         `db:"suggestion_id"`
	OrganizationID string         `db:"organization_id"`
	Name           string         `db:"name"`
	Description    string         `db:"description"`
	Criteria       string         `db:"criteria"`
	DonorCount     int            `db:"donor_count"`
	Confidence     float64        `db:"confidence"`
	ClusterID      int            `db:"cluster_id"`
	Accepted       bool           `db:"accepted"`
	AcceptedAt     NullTime       `db:"accepted_at"`
	SegmentID      sql.NullString `db:"segment_id"`
	CreatedAt      NullTime       `db:"created_at"`
}

func (r suggestionRow) toSuggestion() types.Suggestion {
	return types.Suggestion{
		ID:             types.SuggestionID(r.ID),
		OrganizationID: types.OrganizationID(r.OrganizationID),
		Name:           r.Name,
		Description:    r.Description,
		Criteria:       json.RawMessage(r.Criteria),
		DonorCount:     r.DonorCount,
		Confidence:     r.Confidence,
		ClusterID:      r.ClusterID,
		Accepted:       r.Accepted,
		AcceptedAt:     r.AcceptedAt.Ptr(),
		SegmentID:      types.SegmentID(r.SegmentID.String),
		CreatedAt:      r.CreatedAt.Time,
	}
}

// Get loads one suggestion of org.
func (s *SuggestionStore) Get(ctx context.Context, org types.OrganizationID, id types.SuggestionID) (*types.Suggestion, error) {
	var row suggestionRow
	err := s.q.GetContext(ctx, "get-suggestion", &row, string(org), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSuggestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	sg := row.toSuggestion()
	return &sg, nil
}

// List returns org's suggestions by descending confidence. Accepted ones are
// included only when includeAccepted is set.
func (s *SuggestionStore) List(ctx context.Context, org types.OrganizationID, includeAccepted bool) ([]types.Suggestion, error) {
	var rows []suggestionRow
	var err error
	if includeAccepted {
		err = s.q.SelectContext(ctx, "list-suggestions", &rows, string(org))
	} else {
		err = s.q.SelectContext(ctx, "list-suggestions-by-accepted", &rows, string(org), false)
	}
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	out := make([]types.Suggestion, len(rows))
	for i, r := range rows {
		out[i] = r.toSuggestion()
	}
	return out, nil
}

// MarkAccepted records that suggestion id became segment segID.
//
// Idempotent: repeating the call with the same segment succeeds. A
// suggestion already accepted into a different segment returns
// types.ErrSuggestionAccepted.
func (s *SuggestionStore) MarkAccepted(ctx context.Context, org types.OrganizationID, id types.SuggestionID, segID types.SegmentID, at time.Time) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		var row suggestionRow
		err := tx.GetContext(ctx, "get-suggestion", &row, string(org), string(id))
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrSuggestionNotFound
		}
		if err != nil {
			return fmt.Errorf("get suggestion: %w", err)
		}
		if row.Accepted {
			if row.SegmentID.String == string(segID) {
				return nil
			}
			return types.ErrSuggestionAccepted
		}

		res, err := tx.ExecContext(ctx, "mark-suggestion-accepted",
			true, FormatTime(at), string(segID), string(org), string(id), false)
		if err != nil {
			return fmt.Errorf("mark suggestion accepted: %w", err)
		}
		return expectRow(res, types.ErrSuggestionAccepted)
	})
}

// ReplacePending deletes org's non-accepted suggestions and inserts fresh ones.
// Accepted suggestions are kept as the audit trail of conversions.
func (s *SuggestionStore) ReplacePending(ctx context.Context, org types.OrganizationID, fresh []types.Suggestion) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "delete-pending-suggestions", string(org), false); err != nil {
			return fmt.Errorf("delete pending suggestions: %w", err)
		}
		for _, sg := range fresh {
			if sg.OrganizationID != org {
				return fmt.Errorf("suggestion %s: %w", sg.ID, types.ErrMissingOrganization)
			}
			_, err := tx.ExecContext(ctx, "insert-suggestion",
				string(sg.ID), string(sg.OrganizationID), sg.Name, sg.Description, string(sg.Criteria),
				sg.DonorCount, sg.Confidence, sg.ClusterID, false, nil, nil, FormatTime(sg.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert suggestion: %w", err)
			}
		}
		return nil
	})
}
