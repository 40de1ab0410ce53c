package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

/*
 * SQL rendering of compiled predicates.
 *
 * The output is the WHERE body for the donors table with ? placeholders;
 * callers Rebind. Shape:
 *
 *   organization_id = ? [AND (c1 AND|OR c2 ...)]
 *
 * The organization term is emitted from Predicate.Organization before any
 * clause and is never inside the clause group.
 *
 * Semantics match rules.Matches:
 *   - NULL columns fail every comparison, including <> (SQL three-valued
 *     logic gives NULL, which WHERE treats as false)
 *   - ContainsFold: LOWER(col) LIKE LOWER(?) with % and _ escaped.
 *     SQLite's LOWER folds ASCII only.
 *   - numeric parameters are cast to the column's float type so an integer
 *     column compares correctly against a fractional bound
 *   - time values bind as FormatTime strings
 */

// donorColumns maps catalog fields to donors table columns.
var donorColumns = map[rules.Field]string{
	rules.FieldTotalDonations:    "total_donations",
	rules.FieldDonationCount:     "donation_count",
	rules.FieldLastDonationDate:  "last_donation_date",
	rules.FieldFirstDonationDate: "first_donation_date",
	rules.FieldSegment:           "segment",
	rules.FieldScore:             "score",
	rules.FieldCountry:           "country",
	rules.FieldPreferredLanguage: "preferred_language",
	rules.FieldUnsubscribed:      "unsubscribed_at",
}

// RenderWhere renders p as a WHERE body and its arguments.
func RenderWhere(p *rules.Predicate, dialect Dialect) (string, []any, error) {
	if p == nil {
		return "", nil, fmt.Errorf("nil predicate")
	}
	if p.Organization == "" {
		return "", nil, fmt.Errorf("predicate has no organization scope")
	}

	var sb strings.Builder
	args := []any{string(p.Organization)}
	sb.WriteString("organization_id = ?")

	if len(p.Clauses) == 0 {
		return sb.String(), args, nil
	}

	joiner := " AND "
	if p.Logic == types.LogicOr {
		joiner = " OR "
	}

	parts := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		sqlText, clauseArgs, err := renderClause(c, dialect)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sqlText)
		args = append(args, clauseArgs...)
	}

	sb.WriteString(" AND (")
	sb.WriteString(strings.Join(parts, joiner))
	sb.WriteString(")")
	return sb.String(), args, nil
}

func renderClause(c rules.Clause, dialect Dialect) (string, []any, error) {
	col, ok := donorColumns[c.Field]
	if !ok {
		return "", nil, fmt.Errorf("no column for field %q", c.Field)
	}

	switch c.Cmp {
	case rules.CmpIsSet:
		return col + " IS NOT NULL", nil, nil
	case rules.CmpIsNotSet:
		return col + " IS NULL", nil, nil
	case rules.CmpContainsFold:
		s, ok := c.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("contains on %s needs a string, got %T", col, c.Value)
		}
		return "LOWER(" + col + ") LIKE LOWER(?) ESCAPE '\\'", []any{"%" + escapeLike(s) + "%"}, nil
	}

	op, ok := sqlOperators[c.Cmp]
	if !ok {
		return "", nil, fmt.Errorf("unsupported comparison %d on %s", c.Cmp, col)
	}

	placeholder := "?"
	var arg any
	switch v := c.Value.(type) {
	case float64:
		placeholder = numericPlaceholder(dialect)
		arg = v
	case string:
		arg = v
	case time.Time:
		arg = FormatTime(v)
	default:
		return "", nil, fmt.Errorf("unsupported value %T for %s", c.Value, col)
	}
	return col + " " + op + " " + placeholder, []any{arg}, nil
}

var sqlOperators = map[rules.Cmp]string{
	rules.CmpEq:  "=",
	rules.CmpNe:  "<>",
	rules.CmpGt:  ">",
	rules.CmpGte: ">=",
	rules.CmpLt:  "<",
	rules.CmpLte: "<=",
}

func numericPlaceholder(dialect Dialect) string {
	if dialect == DialectPostgres {
		return "CAST(? AS DOUBLE PRECISION)"
	}
	return "CAST(? AS REAL)"
}

// escapeLike escapes LIKE metacharacters with backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
