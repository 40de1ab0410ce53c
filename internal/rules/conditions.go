// internal/rules/conditions.go
package rules

import (
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

/*
 * Condition and group factories plus the authoring edits the UI performs.
 *
 * Group invariant: Conditions is never empty. RemoveCondition replaces the
 * last remaining condition with a fresh empty one so the UI always has a
 * row to render and the evaluator has a deterministic default
 * (totalDonations >= 0, which matches every donor).
 *
 * Edits return new values; the input group is not modified.
 */

// NewCondition returns the default condition: first numeric field, gte, 0.
// An empty id is replaced with a fresh unique id.
func NewCondition(id string) types.Condition {
	if id == "" {
		id = types.NewConditionID()
	}
	return types.Condition{
		ID:       id,
		Field:    string(FieldTotalDonations),
		Operator: string(OpGte),
		Value:    float64(0),
	}
}

// NewRuleGroup returns an AND group holding one default condition.
func NewRuleGroup() *types.RuleGroup {
	return &types.RuleGroup{
		Logic:      types.LogicAnd,
		Conditions: []types.Condition{NewCondition("")},
	}
}

// NewSegmentRules wraps NewRuleGroup in a versioned document.
func NewSegmentRules() *types.SegmentRules {
	return &types.SegmentRules{Version: types.SegmentRulesVersion, Group: NewRuleGroup()}
}

// AddCondition returns a copy of group with a default condition appended.
func AddCondition(group *types.RuleGroup) *types.RuleGroup {
	out := cloneGroup(group)
	out.Conditions = append(out.Conditions, NewCondition(""))
	return out
}

// RemoveCondition returns a copy of group without the condition id.
// Removing the last condition leaves exactly one new default condition.
func RemoveCondition(group *types.RuleGroup, id string) *types.RuleGroup {
	out := cloneGroup(group)
	kept := out.Conditions[:0]
	for _, c := range out.Conditions {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	out.Conditions = kept
	if len(out.Conditions) == 0 {
		out.Conditions = []types.Condition{NewCondition("")}
	}
	return out
}

// ChangeField switches a condition to another field and resets operator and
// value to that field's type defaults. Unknown fields are kept verbatim with
// cleared operator/value; Compile will drop them.
func ChangeField(cond types.Condition, field Field, now time.Time) types.Condition {
	cond.Field = string(field)
	spec, ok := LookupField(field)
	if !ok {
		cond.Operator = ""
		cond.Value = nil
		return cond
	}
	cond.Operator = string(DefaultOperator(spec.ValueType))
	cond.Value = DefaultValue(spec.ValueType, now)
	return cond
}

func cloneGroup(group *types.RuleGroup) *types.RuleGroup {
	if group == nil {
		return NewRuleGroup()
	}
	out := &types.RuleGroup{
		Logic:      group.Logic,
		Conditions: make([]types.Condition, len(group.Conditions)),
	}
	copy(out.Conditions, group.Conditions)
	return out
}
