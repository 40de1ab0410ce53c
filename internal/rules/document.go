// internal/rules/document.go
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/donorhub/segmentd/internal/types"
)

/*
 * SegmentRules document parsing and validation.
 *
 * Structural validation only: the document must have a group, a known
 * logic, at least one and at most maxConditions conditions, and a version
 * this build understands. Field/operator/value problems are deliberately
 * not validated here; they are dropped at compile time (fail-open).
 *
 * Version 0 (field absent) is read as version 1, the first schema.
 *
 * FromCriteria also accepts the legacy suggestion criteria map produced by
 * the clustering job and converts it to an AND group.
 */

// ParseRules decodes and validates a stored rules document.
func ParseRules(data []byte, maxConditions int) (*types.SegmentRules, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrMissingRules)
	}
	var doc types.SegmentRules
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", types.ErrValidation, types.ErrInvalidRules, err)
	}
	if err := ValidateRules(&doc, maxConditions); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ValidateRules checks document structure and normalizes the version.
// maxConditions <= 0 uses types.MaxConditions.
func ValidateRules(doc *types.SegmentRules, maxConditions int) error {
	if maxConditions <= 0 {
		maxConditions = types.MaxConditions
	}
	if doc == nil {
		return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrMissingRules)
	}
	if doc.Version == 0 {
		doc.Version = types.SegmentRulesVersion
	}
	if doc.Version < 0 || doc.Version > types.SegmentRulesVersion {
		return fmt.Errorf("%w: %w: version %d", types.ErrValidation, types.ErrUnsupportedRulesVersion, doc.Version)
	}
	if doc.Group == nil {
		return fmt.Errorf("%w: %w: missing group", types.ErrValidation, types.ErrInvalidRules)
	}
	switch doc.Group.Logic {
	case types.LogicAnd, types.LogicOr:
	default:
		return fmt.Errorf("%w: %w: unknown logic %q", types.ErrValidation, types.ErrInvalidRules, doc.Group.Logic)
	}
	if len(doc.Group.Conditions) == 0 {
		return fmt.Errorf("%w: %w: group has no conditions", types.ErrValidation, types.ErrInvalidRules)
	}
	if len(doc.Group.Conditions) > maxConditions {
		return fmt.Errorf("%w: %w: %d > %d", types.ErrValidation, types.ErrTooManyConditions, len(doc.Group.Conditions), maxConditions)
	}
	return nil
}

// MarshalRules encodes doc with its version tag set.
func MarshalRules(doc *types.SegmentRules) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrMissingRules)
	}
	out := *doc
	if out.Version == 0 {
		out.Version = types.SegmentRulesVersion
	}
	return json.Marshal(&out)
}

// Legacy criteria keys written by the clustering job.
const (
	criteriaMinTotalDonated = "min_total_donated"
	criteriaMaxTotalDonated = "max_total_donated"
	criteriaMinDonations    = "min_donation_count"
	criteriaMinScore        = "min_score"
	criteriaMaxDaysSince    = "max_days_since_last_donation"
)

// legacyCriteria lists the recognised keys in the order conditions are emitted.
var legacyCriteria = []struct {
	key   string
	field Field
	op    Operator
}{
	{criteriaMinTotalDonated, FieldTotalDonations, OpGte},
	{criteriaMaxTotalDonated, FieldTotalDonations, OpLte},
	{criteriaMinDonations, FieldDonationCount, OpGte},
	{criteriaMinScore, FieldScore, OpGte},
	{criteriaMaxDaysSince, FieldLastDonationDate, OpWithinDays},
}

// FromCriteria converts suggestion criteria to a validated rules document.
// Accepts a SegmentRules document (has "group") or a legacy criteria map.
// A legacy map without any recognised key is rejected rather than turned
// into an everyone-matching segment.
func FromCriteria(raw json.RawMessage, maxConditions int) (*types.SegmentRules, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w: criteria: %v", types.ErrValidation, types.ErrInvalidRules, err)
	}
	if _, ok := fields["group"]; ok {
		return ParseRules(raw, maxConditions)
	}

	group := &types.RuleGroup{Logic: types.LogicAnd}
	for _, lc := range legacyCriteria {
		v, ok := fields[lc.key]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			continue
		}
		group.Conditions = append(group.Conditions, types.Condition{
			ID:       types.NewConditionID(),
			Field:    string(lc.field),
			Operator: string(lc.op),
			Value:    value,
		})
	}
	if len(group.Conditions) == 0 {
		return nil, fmt.Errorf("%w: %w: criteria has no recognised keys", types.ErrValidation, types.ErrInvalidRules)
	}

	doc := &types.SegmentRules{Version: types.SegmentRulesVersion, Group: group}
	if err := ValidateRules(doc, maxConditions); err != nil {
		return nil, err
	}
	return doc, nil
}
