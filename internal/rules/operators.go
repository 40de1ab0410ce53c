// internal/rules/operators.go
package rules

import (
	"strings"
	"time"
)

/*
 * Clause comparison logic for in-memory evaluation.
 *
 * Mirrors what the SQL renderer emits so both backends agree:
 *   - NULL column: every value comparison is false (including Ne),
 *     IsSet false, IsNotSet true
 *   - Eq/Ne on strings: case-sensitive
 *   - ContainsFold: case-insensitive substring
 *   - ordered comparisons on float64 and time.Time only
 *
 * Why function-based: the comparison set is closed and small; a switch is
 * clearer than one type per comparison.
 */

// Compare applies cmp to a column value (nil = NULL) and a clause target.
func Compare(cmp Cmp, value, target any) bool {
	switch cmp {
	case CmpIsSet:
		return value != nil
	case CmpIsNotSet:
		return value == nil
	}
	if value == nil {
		return false
	}
	if cmp == CmpContainsFold {
		return containsFold(value, target)
	}
	if !sameKind(value, target) {
		return false
	}

	switch cmp {
	case CmpEq:
		return compareOrdered(value, target) == 0
	case CmpNe:
		return compareOrdered(value, target) != 0
	case CmpGt:
		return compareOrdered(value, target) > 0
	case CmpGte:
		return compareOrdered(value, target) >= 0
	case CmpLt:
		return compareOrdered(value, target) < 0
	case CmpLte:
		return compareOrdered(value, target) <= 0
	default:
		return false
	}
}

// sameKind reports whether value and target share a comparable kind.
func sameKind(a, b any) bool {
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	default:
		return false
	}
}

// compareOrdered performs three-way comparison (-1/0/1).
// Returns 0 for incomparable kinds; callers guard with sameKind.
func compareOrdered(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Compare(bv)
	default:
		return 0
	}
}

// containsFold checks case-insensitive substring (both must be strings).
func containsFold(value, target any) bool {
	vs, ok1 := value.(string)
	ts, ok2 := target.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.Contains(strings.ToLower(vs), strings.ToLower(ts))
}
