package db

import (
	"reflect"
	"testing"
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

func TestRenderWhere(t *testing.T) {
	since := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		pred     *rules.Predicate
		dialect  Dialect
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "organization only",
			pred:     &rules.Predicate{Organization: "org1", Logic: types.LogicAnd},
			dialect:  DialectSQLite,
			wantSQL:  "organization_id = ?",
			wantArgs: []any{"org1"},
		},
		{
			name: "and of number and string",
			pred: &rules.Predicate{Organization: "org1", Logic: types.LogicAnd, Clauses: []rules.Clause{
				{Field: rules.FieldTotalDonations, Cmp: rules.CmpGte, Value: float64(100)},
				{Field: rules.FieldCountry, Cmp: rules.CmpEq, Value: "CA"},
			}},
			dialect:  DialectSQLite,
			wantSQL:  "organization_id = ? AND (total_donations >= CAST(? AS REAL) AND country = ?)",
			wantArgs: []any{"org1", float64(100), "CA"},
		},
		{
			name: "or with postgres cast",
			pred: &rules.Predicate{Organization: "org1", Logic: types.LogicOr, Clauses: []rules.Clause{
				{Field: rules.FieldDonationCount, Cmp: rules.CmpLt, Value: float64(2.5)},
				{Field: rules.FieldSegment, Cmp: rules.CmpNe, Value: "VIP"},
			}},
			dialect:  DialectPostgres,
			wantSQL:  "organization_id = ? AND (donation_count < CAST(? AS DOUBLE PRECISION) OR segment <> ?)",
			wantArgs: []any{"org1", float64(2.5), "VIP"},
		},
		{
			name: "contains escapes wildcards",
			pred: &rules.Predicate{Organization: "org1", Logic: types.LogicAnd, Clauses: []rules.Clause{
				{Field: rules.FieldPreferredLanguage, Cmp: rules.CmpContainsFold, Value: `50%_a\b`},
			}},
			dialect:  DialectSQLite,
			wantSQL:  `organization_id = ? AND (LOWER(preferred_language) LIKE LOWER(?) ESCAPE '\')`,
			wantArgs: []any{"org1", `%50\%\_a\\b%`},
		},
		{
			name: "time and presence",
			pred: &rules.Predicate{Organization: "org1", Logic: types.LogicAnd, Clauses: []rules.Clause{
				{Field: rules.FieldLastDonationDate, Cmp: rules.CmpGte, Value: since},
				{Field: rules.FieldUnsubscribed, Cmp: rules.CmpIsNotSet},
				{Field: rules.FieldScore, Cmp: rules.CmpIsSet},
			}},
			dialect:  DialectSQLite,
			wantSQL:  "organization_id = ? AND (last_donation_date >= ? AND unsubscribed_at IS NULL AND score IS NOT NULL)",
			wantArgs: []any{"org1", "2026-02-13T12:00:00.000000Z"},
		},
		{
			name: "lookback clamped to year one",
			pred: rules.Compile(&types.RuleGroup{Logic: types.LogicAnd, Conditions: []types.Condition{
				{ID: "c1", Field: "firstDonationDate", Operator: "within_days", Value: float64(800_000)},
			}}, "org1", since),
			dialect:  DialectSQLite,
			wantSQL:  "organization_id = ? AND (first_donation_date >= ?)",
			wantArgs: []any{"org1", "0001-01-01T00:00:00.000000Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs, err := RenderWhere(tt.pred, tt.dialect)
			if err != nil {
				t.Fatalf("RenderWhere() error = %v, want nil", err)
			}
			if gotSQL != tt.wantSQL {
				t.Errorf("RenderWhere() sql = %q, want %q", gotSQL, tt.wantSQL)
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("RenderWhere() args = %#v, want %#v", gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestRenderWhere_Errors(t *testing.T) {
	tests := []struct {
		name string
		pred *rules.Predicate
	}{
		{"nil predicate", nil},
		{"no organization", &rules.Predicate{Logic: types.LogicAnd}},
		{"unknown field", &rules.Predicate{Organization: "org1", Clauses: []rules.Clause{
			{Field: "organizationId", Cmp: rules.CmpEq, Value: "org2"},
		}}},
		{"unspecified comparison", &rules.Predicate{Organization: "org1", Clauses: []rules.Clause{
			{Field: rules.FieldScore, Cmp: rules.CmpUnspecified, Value: float64(1)},
		}}},
		{"contains with number", &rules.Predicate{Organization: "org1", Clauses: []rules.Clause{
			{Field: rules.FieldCountry, Cmp: rules.CmpContainsFold, Value: float64(1)},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := RenderWhere(tt.pred, DialectSQLite); err == nil {
				t.Error("RenderWhere() error = nil, want error")
			}
		})
	}
}

func TestNullTime_Scan(t *testing.T) {
	want := time.Date(2026, 3, 15, 12, 30, 0, 123000000, time.UTC)

	tests := []struct {
		name      string
		src       any
		wantValid bool
	}{
		{"nil", nil, false},
		{"time", want.In(time.FixedZone("CET", 3600)), true},
		{"stored text", "2026-03-15T12:30:00.123000Z", true},
		{"bytes", []byte("2026-03-15T12:30:00.123000Z"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nt NullTime
			if err := nt.Scan(tt.src); err != nil {
				t.Fatalf("Scan() error = %v, want nil", err)
			}
			if nt.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", nt.Valid, tt.wantValid)
			}
			if nt.Valid && !nt.Time.Equal(want) {
				t.Errorf("Time = %v, want %v", nt.Time, want)
			}
		})
	}

	var nt NullTime
	if err := nt.Scan("last tuesday"); err == nil {
		t.Error("Scan(garbage) error = nil, want error")
	}
	if err := nt.Scan(42); err == nil {
		t.Error("Scan(int) error = nil, want error")
	}
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)
	c := a.Add(10 * time.Hour).In(time.FixedZone("PST", -8*3600))

	if !(FormatTime(a) < FormatTime(b) && FormatTime(b) < FormatTime(c)) {
		t.Errorf("FormatTime order broken: %s, %s, %s", FormatTime(a), FormatTime(b), FormatTime(c))
	}
	if len(FormatTime(a)) != len(FormatTime(b)) {
		t.Error("FormatTime is not fixed width")
	}
}
