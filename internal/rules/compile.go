// internal/rules/compile.go
package rules

import (
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

/*
 * Rule group compilation.
 *
 * Compiles a types.RuleGroup into a Predicate scoped to one organization.
 *
 * Compilation workflow:
 *   1. Look up the condition's field in the catalog (unknown -> dropped)
 *   2. Check the operator is legal for the field's value type (else dropped)
 *   3. Coerce the value for that type (failure -> dropped)
 *   4. Emit one Clause per surviving condition, in input order
 *   5. Stamp the organization scope and the group logic
 *
 * Fail-open: a malformed condition contributes no constraint and is listed
 * in Predicate.Dropped. A group whose conditions all drop compiles to
 * "every donor of the organization".
 *
 * Tenant scope is a separate Predicate field, not a Clause. No rule
 * content can remove or widen it.
 *
 * Logic: "OR" combines with union, anything else with intersection.
 * Strict logic validation happens in ValidateRules at the lifecycle
 * boundary; previews of half-edited drafts still compile.
 */

// Compile translates group into a Predicate for org. now anchors within_days.
// A nil group compiles to the organization scope alone.
func Compile(group *types.RuleGroup, org types.OrganizationID, now time.Time) *Predicate {
	p := &Predicate{
		Organization: org,
		Logic:        types.LogicAnd,
	}
	if group == nil {
		return p
	}
	if group.Logic == types.LogicOr {
		p.Logic = types.LogicOr
	}

	p.Clauses = make([]Clause, 0, len(group.Conditions))
	for _, cond := range group.Conditions {
		clause, reason, ok := compileCondition(cond, now)
		if !ok {
			p.Dropped = append(p.Dropped, Dropped{
				ConditionID: cond.ID,
				Field:       cond.Field,
				Operator:    cond.Operator,
				Reason:      reason,
			})
			continue
		}
		p.Clauses = append(p.Clauses, clause)
	}
	return p
}

// compileCondition dispatches on the field's value type.
// Returns ok=false with a reason when the condition must be dropped.
func compileCondition(cond types.Condition, now time.Time) (Clause, DropReason, bool) {
	spec, ok := LookupField(Field(cond.Field))
	if !ok {
		return Clause{}, DropUnknownField, false
	}
	op := Operator(cond.Operator)
	if !Allowed(spec.ValueType, op) {
		return Clause{}, DropIllegalOperator, false
	}

	switch spec.ValueType {
	case ValueNumber:
		n, ok := coerceNumber(cond.Value)
		if !ok {
			return Clause{}, DropBadValue, false
		}
		return Clause{Field: spec.Key, Cmp: orderedCmp(op), Value: n}, "", true

	case ValueString:
		s, ok := coerceText(cond.Value)
		if !ok {
			return Clause{}, DropBadValue, false
		}
		cmp := CmpEq
		switch op {
		case OpNe:
			cmp = CmpNe
		case OpContains:
			cmp = CmpContainsFold
		}
		return Clause{Field: spec.Key, Cmp: cmp, Value: s}, "", true

	case ValueDate:
		if op == OpWithinDays {
			days, ok := coerceDays(cond.Value)
			if !ok {
				return Clause{}, DropBadValue, false
			}
			since := lookbackSince(now, days)
			return Clause{Field: spec.Key, Cmp: CmpGte, Value: since}, "", true
		}
		t, ok := coerceDate(cond.Value)
		if !ok {
			return Clause{}, DropBadValue, false
		}
		cmp := CmpLt
		if op == OpAfter {
			cmp = CmpGt
		}
		return Clause{Field: spec.Key, Cmp: cmp, Value: t}, "", true

	case ValueBoolean:
		// eq+set and ne+unset both mean "is set"
		set := coerceFlag(cond.Value)
		if (op == OpEq) == set {
			return Clause{Field: spec.Key, Cmp: CmpIsSet}, "", true
		}
		return Clause{Field: spec.Key, Cmp: CmpIsNotSet}, "", true

	default:
		return Clause{}, DropUnknownField, false
	}
}

// orderedCmp maps numeric operators onto storage comparisons.
func orderedCmp(op Operator) Cmp {
	switch op {
	case OpEq:
		return CmpEq
	case OpNe:
		return CmpNe
	case OpGt:
		return CmpGt
	case OpGte:
		return CmpGte
	case OpLt:
		return CmpLt
	case OpLte:
		return CmpLte
	default:
		return CmpUnspecified
	}
}
