// internal/types/rules.go
package types

/*
 * Persisted shape of a dynamic segment's membership rule.
 *
 * Provides SegmentRules, RuleGroup and Condition. These are the JSON
 * documents the authoring UI sends and the segments table stores; grammar
 * (which fields and operators exist) and compilation live in
 * internal/rules.
 *
 * Document shape:
 *   {"version": 1, "group": {"logic": "AND", "conditions": [
 *       {"id": "cond-...", "field": "totalDonations", "operator": "gte", "value": 100}
 *   ]}}
 *
 * Field and Operator are plain strings on purpose: a stored document may
 * reference keys this build does not know, and those conditions must still
 * load and then drop at evaluation time instead of failing the whole segment.
 *
 * Value holds whatever JSON decoded to (float64, string, bool, nil).
 */

// SegmentRulesVersion is the current rules document schema version.
// Documents without a version field are read as version 1.
const SegmentRulesVersion = 1

// Logic combines the conditions of a group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is a single field/operator/value comparison.
type Condition struct {
	ID       string `json:"id"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// RuleGroup is a flat list of conditions combined by one Logic.
type RuleGroup struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// SegmentRules is the root document stored on a DYNAMIC segment.
type SegmentRules struct {
	Version int        `json:"version,omitempty"`
	Group   *RuleGroup `json:"group"`
}
