package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

// ErrDonorOrganizationMismatch indicates an upsert of a donor id that
// already belongs to another organization.
var ErrDonorOrganizationMismatch = errors.New("donor belongs to another organization")

// DonorStore is the read side the evaluator queries, plus Upsert for imports.
type DonorStore struct {
	q       *Queries
	dialect Dialect
}

// NewDonorStore creates a donor store over loaded queries.
func NewDonorStore(q *Queries) *DonorStore {
	return &DonorStore{q: q, dialect: DialectOf(q.DB())}
}

type donorRow struct {
	ID                string          `db:"donor_id"`
	OrganizationID    string          `db:"organization_id"`
	TotalDonations    float64         `db:"total_donations"`
	DonationCount     int             `db:"donation_count"`
	LastDonationDate  NullTime        `db:"last_donation_date"`
	FirstDonationDate NullTime        `db:"first_donation_date"`
	Segment           sql.NullString  `db:"segment"`
	Score             sql.NullFloat64 `db:"score"`
	Country           sql.NullString  `db:"country"`
	PreferredLanguage sql.NullString  `db:"preferred_language"`
	UnsubscribedAt    NullTime        `db:"unsubscribed_at"`
}

func (r donorRow) toDonor() types.Donor {
	return types.Donor{
		ID:                types.DonorID(r.ID),
		OrganizationID:    types.OrganizationID(r.OrganizationID),
		TotalDonations:    r.TotalDonations,
		DonationCount:     r.DonationCount,
		LastDonationDate:  r.LastDonationDate.Ptr(),
		FirstDonationDate: r.FirstDonationDate.Ptr(),
		Segment:           nullString(r.Segment),
		Score:             nullFloat(r.Score),
		Country:           nullString(r.Country),
		PreferredLanguage: nullString(r.PreferredLanguage),
		UnsubscribedAt:    r.UnsubscribedAt.Ptr(),
	}
}

// Count returns the number of donors matching p.
func (s *DonorStore) Count(ctx context.Context, p *rules.Predicate) (int, error) {
	where, args, err := RenderWhere(p, s.dialect)
	if err != nil {
		return 0, err
	}
	db := s.q.DB()
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind("SELECT COUNT(*) FROM donors WHERE "+where), args...); err != nil {
		return 0, fmt.Errorf("count donors: %w", err)
	}
	return n, nil
}

// MatchingIDs returns the ids of donors matching p, ordered by id.
func (s *DonorStore) MatchingIDs(ctx context.Context, p *rules.Predicate) ([]types.DonorID, error) {
	where, args, err := RenderWhere(p, s.dialect)
	if err != nil {
		return nil, err
	}
	db := s.q.DB()
	var ids []string
	query := db.Rebind("SELECT donor_id FROM donors WHERE " + where + " ORDER BY donor_id")
	if err := db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("select matching donors: %w", err)
	}
	out := make([]types.DonorID, len(ids))
	for i, id := range ids {
		out[i] = types.DonorID(id)
	}
	return out, nil
}

// ListByOrganization returns every donor of org, ordered by id.
func (s *DonorStore) ListByOrganization(ctx context.Context, org types.OrganizationID) ([]types.Donor, error) {
	var rows []donorRow
	if err := s.q.SelectContext(ctx, "list-donors-by-organization", &rows, string(org)); err != nil {
		return nil, fmt.Errorf("list donors: %w", err)
	}
	donors := make([]types.Donor, len(rows))
	for i, r := range rows {
		donors[i] = r.toDonor()
	}
	return donors, nil
}

// Upsert inserts or replaces a donor. A donor id owned by another
// organization is never moved.
func (s *DonorStore) Upsert(ctx context.Context, d *types.Donor) error {
	if d.OrganizationID == "" {
		return types.ErrMissingOrganization
	}
	res, err := s.q.ExecContext(ctx, "upsert-donor",
		string(d.ID), string(d.OrganizationID), d.TotalDonations, d.DonationCount,
		nullableTime(d.LastDonationDate), nullableTime(d.FirstDonationDate),
		d.Segment, d.Score, d.Country, d.PreferredLanguage,
		nullableTime(d.UnsubscribedAt), FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert donor %s: %w", d.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upsert donor %s: %w", d.ID, ErrDonorOrganizationMismatch)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
