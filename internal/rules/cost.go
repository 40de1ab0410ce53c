// internal/rules/cost.go
package rules

import (
	"slices"
	"time"
)

/*
 * Cost model for in-memory clause evaluation.
 *
 * Cost formula: cmp_cost * value_multiplier
 *
 * Matches evaluates clauses cheapest first so a non-matching donor is
 * rejected (AND) or a matching one accepted (OR) after the fewest
 * comparisons. AND and OR are commutative, so ordering never changes
 * the result. The SQL backend leaves ordering to the query planner.
 */

const (
	// Comparison base costs
	CostPresence = 1
	CostEq       = 5
	CostOrdered  = 7
	CostContains = 10

	// Value multipliers
	MultiplierNumber = 1
	MultiplierTime   = 2
	MultiplierString = 48
)

// ClauseCost estimates the cost of evaluating c against one donor.
func ClauseCost(c Clause) int {
	return cmpCost(c.Cmp) * valueMultiplier(c.Value)
}

// ByCost returns p's clauses ordered cheapest first. Ties keep compile order.
func (p *Predicate) ByCost() []Clause {
	out := slices.Clone(p.Clauses)
	slices.SortStableFunc(out, func(a, b Clause) int {
		return ClauseCost(a) - ClauseCost(b)
	})
	return out
}

func cmpCost(c Cmp) int {
	switch c {
	case CmpIsSet, CmpIsNotSet:
		return CostPresence
	case CmpEq, CmpNe:
		return CostEq
	case CmpGt, CmpGte, CmpLt, CmpLte:
		return CostOrdered
	case CmpContainsFold:
		return CostContains
	default:
		return CostEq
	}
}

// valueMultiplier weighs the comparison by operand type. Strings are
// case-folded or compared byte-wise.
func valueMultiplier(v any) int {
	switch v.(type) {
	case nil, float64:
		return MultiplierNumber
	case time.Time:
		return MultiplierTime
	case string:
		return MultiplierString
	default:
		return MultiplierString
	}
}
