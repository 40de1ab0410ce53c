package rules

import (
	"testing"
	"time"
)

func TestClauseCost(t *testing.T) {
	tests := []struct {
		name string
		c    Clause
		want int
	}{
		{"presence", Clause{Field: FieldScore, Cmp: CmpIsSet}, CostPresence * MultiplierNumber},
		{"number eq", Clause{Field: FieldScore, Cmp: CmpEq, Value: float64(1)}, CostEq * MultiplierNumber},
		{"date order", Clause{Field: FieldLastDonationDate, Cmp: CmpLt, Value: time.Now()}, CostOrdered * MultiplierTime},
		{"string eq", Clause{Field: FieldCountry, Cmp: CmpEq, Value: "CA"}, CostEq * MultiplierString},
		{"contains", Clause{Field: FieldCountry, Cmp: CmpContainsFold, Value: "ca"}, CostContains * MultiplierString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClauseCost(tt.c); got != tt.want {
				t.Errorf("ClauseCost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPredicate_ByCost(t *testing.T) {
	p := &Predicate{Organization: "org1", Clauses: []Clause{
		{Field: FieldCountry, Cmp: CmpContainsFold, Value: "ca"},
		{Field: FieldSegment, Cmp: CmpEq, Value: "VIP"},
		{Field: FieldTotalDonations, Cmp: CmpGte, Value: float64(100)},
		{Field: FieldUnsubscribed, Cmp: CmpIsNotSet},
		{Field: FieldScore, Cmp: CmpGte, Value: float64(5)},
	}}

	got := p.ByCost()
	want := []Field{FieldUnsubscribed, FieldTotalDonations, FieldScore, FieldSegment, FieldCountry}
	if len(got) != len(want) {
		t.Fatalf("ByCost() len = %d, want %d", len(got), len(want))
	}
	for i, f := range want {
		if got[i].Field != f {
			t.Errorf("ByCost()[%d] = %s, want %s", i, got[i].Field, f)
		}
	}
	if p.Clauses[0].Field != FieldCountry {
		t.Error("ByCost() reordered the predicate in place")
	}
}
