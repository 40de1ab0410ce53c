// internal/rules/catalog.go
package rules

import "time"

/*
 * Rule grammar: the closed catalog of donor fields and operators.
 *
 * Two lookup tables, both fixed at compile time and never mutated:
 *   - fieldCatalog: ordered donor fields (order is what the UI shows)
 *   - operatorCatalog: legal operators per value type, first entry is the
 *     type's default operator
 *
 * The value type of a field decides which operators are legal and how the
 * raw condition value is coerced (see coercion.go). A field/operator pair
 * outside operatorCatalog is dropped by Compile, never rejected.
 *
 * Accessors return copies so callers cannot mutate the tables.
 */

// ValueType is the closed set of donor attribute types.
type ValueType string

const (
	ValueNumber  ValueType = "number"
	ValueString  ValueType = "string"
	ValueDate    ValueType = "date"
	ValueBoolean ValueType = "boolean"
)

// Field is a donor attribute key usable in a condition.
type Field string

const (
	FieldTotalDonations    Field = "totalDonations"
	FieldDonationCount     Field = "donationCount"
	FieldLastDonationDate  Field = "lastDonationDate"
	FieldFirstDonationDate Field = "firstDonationDate"
	FieldSegment           Field = "segment"
	FieldScore             Field = "score"
	FieldCountry           Field = "country"
	FieldPreferredLanguage Field = "preferredLanguage"
	FieldUnsubscribed      Field = "unsubscribedAt"
)

// Operator is a comparison usable in a condition.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpBefore     Operator = "before"
	OpAfter      Operator = "after"
	OpWithinDays Operator = "within_days"
)

// FieldSpec describes one catalog entry.
type FieldSpec struct {
	Key       Field     `json:"value"`
	Label     string    `json:"label"`
	ValueType ValueType `json:"valueType"`
}

// OperatorSpec pairs an operator with its display label.
type OperatorSpec struct {
	Op    Operator `json:"value"`
	Label string   `json:"label"`
}

var fieldCatalog = []FieldSpec{
	{FieldTotalDonations, "Total donations", ValueNumber},
	{FieldDonationCount, "Number of donations", ValueNumber},
	{FieldLastDonationDate, "Last donation date", ValueDate},
	{FieldFirstDonationDate, "First donation date", ValueDate},
	{FieldSegment, "Segment (VIP, Active, etc.)", ValueString},
	{FieldScore, "Score (0-100)", ValueNumber},
	{FieldCountry, "Country", ValueString},
	{FieldPreferredLanguage, "Preferred language", ValueString},
	{FieldUnsubscribed, "Email unsubscribed", ValueBoolean},
}

var operatorCatalog = map[ValueType][]OperatorSpec{
	ValueNumber: {
		{OpEq, "equal to"},
		{OpNe, "not equal to"},
		{OpGt, "greater than"},
		{OpGte, "greater than or equal to"},
		{OpLt, "less than"},
		{OpLte, "less than or equal to"},
	},
	ValueString: {
		{OpEq, "equal to"},
		{OpNe, "not equal to"},
		{OpContains, "contains"},
	},
	ValueDate: {
		{OpBefore, "before"},
		{OpAfter, "after"},
		{OpWithinDays, "within the last N days"},
	},
	ValueBoolean: {
		{OpEq, "equal to"},
		{OpNe, "not equal to"},
	},
}

// Fields returns the ordered field catalog.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(fieldCatalog))
	copy(out, fieldCatalog)
	return out
}

// LookupField returns the catalog entry for key.
func LookupField(key Field) (FieldSpec, bool) {
	for _, f := range fieldCatalog {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// OperatorsFor returns the legal operators for a value type in display order.
// Unknown value types yield nil.
func OperatorsFor(vt ValueType) []OperatorSpec {
	ops := operatorCatalog[vt]
	if ops == nil {
		return nil
	}
	out := make([]OperatorSpec, len(ops))
	copy(out, ops)
	return out
}

// Allowed reports whether op is legal for values of type vt.
func Allowed(vt ValueType, op Operator) bool {
	for _, spec := range operatorCatalog[vt] {
		if spec.Op == op {
			return true
		}
	}
	return false
}

// DefaultOperator returns the first operator legal for vt.
func DefaultOperator(vt ValueType) Operator {
	ops := operatorCatalog[vt]
	if len(ops) == 0 {
		return ""
	}
	return ops[0].Op
}

// DefaultValue returns the authoring default for vt: 0, "", today's date, false.
func DefaultValue(vt ValueType, now time.Time) any {
	switch vt {
	case ValueNumber:
		return float64(0)
	case ValueString:
		return ""
	case ValueDate:
		return now.Format(dateLayout)
	case ValueBoolean:
		return false
	default:
		return nil
	}
}
