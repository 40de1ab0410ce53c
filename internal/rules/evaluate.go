// internal/rules/evaluate.go
package rules

import (
	"github.com/donorhub/segmentd/internal/types"
)

/*
 * In-memory predicate evaluation.
 *
 * Evaluates a compiled Predicate against donor records: the "array filter"
 * backend. The SQL backend lives in internal/core/db and must agree with
 * this file clause for clause; tests run both against the same fixtures.
 *
 * Evaluation flow:
 *   1. Organization check first (tenant isolation, independent of clauses)
 *   2. No clauses -> match
 *   3. Clauses run cheapest first (cost.go); AND short-circuits on the
 *      first non-match, OR on the first match
 *   4. Per clause: read column (nil = NULL) -> Compare
 */

// Matches reports whether donor satisfies p.
func Matches(p *Predicate, donor *types.Donor) bool {
	if p == nil || donor == nil {
		return false
	}
	if donor.OrganizationID != p.Organization {
		return false
	}
	if len(p.Clauses) == 0 {
		return true
	}

	clauses := p.ByCost()
	if p.Logic == types.LogicOr {
		for _, c := range clauses {
			if matchClause(c, donor) {
				return true
			}
		}
		return false
	}

	for _, c := range clauses {
		if !matchClause(c, donor) {
			return false
		}
	}
	return true
}

// Filter returns the donors matching p, preserving input order.
func Filter(p *Predicate, donors []types.Donor) []types.Donor {
	var out []types.Donor
	for i := range donors {
		if Matches(p, &donors[i]) {
			out = append(out, donors[i])
		}
	}
	return out
}

func matchClause(c Clause, donor *types.Donor) bool {
	return Compare(c.Cmp, fieldValue(donor, c.Field), c.Value)
}

// fieldValue reads a donor column. nil means NULL.
func fieldValue(d *types.Donor, f Field) any {
	switch f {
	case FieldTotalDonations:
		return d.TotalDonations
	case FieldDonationCount:
		return float64(d.DonationCount)
	case FieldLastDonationDate:
		if d.LastDonationDate == nil {
			return nil
		}
		return *d.LastDonationDate
	case FieldFirstDonationDate:
		if d.FirstDonationDate == nil {
			return nil
		}
		return *d.FirstDonationDate
	case FieldSegment:
		return derefString(d.Segment)
	case FieldScore:
		if d.Score == nil {
			return nil
		}
		return *d.Score
	case FieldCountry:
		return derefString(d.Country)
	case FieldPreferredLanguage:
		return derefString(d.PreferredLanguage)
	case FieldUnsubscribed:
		if d.UnsubscribedAt == nil {
			return nil
		}
		return *d.UnsubscribedAt
	default:
		return nil
	}
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
