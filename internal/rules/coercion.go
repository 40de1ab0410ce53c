// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

/*
 * Value coercion for condition compilation.
 *
 * Condition values arrive as whatever JSON decoded to (float64, string,
 * bool, nil) or whatever a Go caller passed (int, int64, ...). Each value
 * type has one coercion:
 *   - number: strict - numeric types and numeric strings, finite only;
 *     booleans and blank strings fail
 *   - string: lenient - any scalar converted to its string form; nil fails
 *   - date:   strings only, RFC3339 or date-only layouts, zone-less is UTC
 *   - days:   number coercion, then non-negative, truncated toward zero
 *   - flag:   true or the literal "true" is set; anything else is unset
 *
 * Failure is reported as ok=false. Compile turns that into a dropped
 * condition; nothing here returns an error.
 */

// dateLayout is the date-only authoring format.
const dateLayout = "2006-01-02"

// maxLookbackDays caps within_days so AddDate stays in range.
// Larger values match the same donors as the cap (any set date).
const maxLookbackDays = 1_000_000

// minDate is the earliest storable date. Lookback windows reaching
// past it are clamped to it.
var minDate = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	dateLayout,
}

// coerceNumber converts value to a finite float64.
func coerceNumber(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		// bool, nil, objects: strict mode rejects
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coerceText converts any scalar to its string form.
func coerceText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// coerceDate parses a date string. Non-strings and years outside
// 0001-9999 fail.
func coerceDate(value any) (time.Time, bool) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		if y := t.Year(); y < 1 || y > 9999 {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// lookbackSince returns now minus days, clamped to minDate.
func lookbackSince(now time.Time, days int) time.Time {
	since := now.AddDate(0, 0, -days)
	if since.Before(minDate) {
		return minDate
	}
	return since
}

// coerceDays converts value to a non-negative whole day count.
func coerceDays(value any) (int, bool) {
	f, ok := coerceNumber(value)
	if !ok || f < 0 {
		return 0, false
	}
	if f > maxLookbackDays {
		return maxLookbackDays, true
	}
	return int(math.Trunc(f)), true
}

// coerceFlag reports whether value means "set". Never fails.
func coerceFlag(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
