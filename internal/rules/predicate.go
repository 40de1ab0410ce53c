// internal/rules/predicate.go
package rules

import "github.com/donorhub/segmentd/internal/types"

// Cmp is a storage-level comparison on one donor column.
type Cmp int

const (
	CmpUnspecified Cmp = iota
	CmpEq
	CmpNe
	CmpGt
	CmpGte
	CmpLt
	CmpLte
	CmpContainsFold // case-insensitive substring
	CmpIsSet        // column is not NULL
	CmpIsNotSet     // column is NULL
)

// Clause is one compiled single-field constraint.
// Value is float64 (number), string (string), time.Time (date) or nil (presence).
type Clause struct {
	Field Field
	Cmp   Cmp
	Value any
}

// DropReason explains why a condition contributed no constraint.
type DropReason string

const (
	DropUnknownField    DropReason = "unknown_field"
	DropIllegalOperator DropReason = "illegal_operator"
	DropBadValue        DropReason = "bad_value"
)

// Dropped records a condition ignored under the fail-open policy.
type Dropped struct {
	ConditionID string     `json:"condition_id"`
	Field       string     `json:"field"`
	Operator    string     `json:"operator"`
	Reason      DropReason `json:"reason"`
}

// Predicate is the compiled, storage-agnostic filter for one organization.
//
// Organization is always applied by every backend as an exact match and is
// never derived from rule content. Empty Clauses means no constraint beyond
// the organization.
type Predicate struct {
	Organization types.OrganizationID
	Logic        types.Logic
	Clauses      []Clause
	Dropped      []Dropped
}
