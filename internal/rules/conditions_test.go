package rules

import (
	"testing"
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

func TestNewCondition(t *testing.T) {
	c := NewCondition("")
	if c.ID == "" {
		t.Error("NewCondition(\"\").ID is empty")
	}
	if c.Field != string(FieldTotalDonations) || c.Operator != string(OpGte) || c.Value != float64(0) {
		t.Errorf("NewCondition() = %+v, want totalDonations gte 0", c)
	}

	if got := NewCondition("row-1").ID; got != "row-1" {
		t.Errorf("NewCondition(row-1).ID = %v, want row-1", got)
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCondition("").ID
		if seen[id] {
			t.Fatalf("NewCondition() produced duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewRuleGroup(t *testing.T) {
	g := NewRuleGroup()
	if g.Logic != types.LogicAnd {
		t.Errorf("Logic = %v, want AND", g.Logic)
	}
	if len(g.Conditions) != 1 {
		t.Fatalf("len(Conditions) = %d, want 1", len(g.Conditions))
	}

	doc := NewSegmentRules()
	if doc.Version != types.SegmentRulesVersion {
		t.Errorf("Version = %d, want %d", doc.Version, types.SegmentRulesVersion)
	}
	if err := ValidateRules(doc, 0); err != nil {
		t.Errorf("ValidateRules(NewSegmentRules()) error = %v, want nil", err)
	}
}

func TestAddCondition_DoesNotMutate(t *testing.T) {
	g := NewRuleGroup()
	out := AddCondition(g)

	if len(g.Conditions) != 1 {
		t.Errorf("input len(Conditions) = %d, want 1", len(g.Conditions))
	}
	if len(out.Conditions) != 2 {
		t.Errorf("output len(Conditions) = %d, want 2", len(out.Conditions))
	}
	if out.Conditions[0].ID == out.Conditions[1].ID {
		t.Error("added condition reuses an existing id")
	}
}

func TestRemoveCondition(t *testing.T) {
	t.Run("removes by id", func(t *testing.T) {
		g := &types.RuleGroup{Logic: types.LogicOr, Conditions: []types.Condition{
			NewCondition("a"), NewCondition("b"),
		}}
		out := RemoveCondition(g, "a")
		if len(out.Conditions) != 1 || out.Conditions[0].ID != "b" {
			t.Errorf("RemoveCondition() = %+v, want only b", out.Conditions)
		}
		if out.Logic != types.LogicOr {
			t.Errorf("Logic = %v, want OR", out.Logic)
		}
		if len(g.Conditions) != 2 {
			t.Error("RemoveCondition() mutated its input")
		}
	})

	t.Run("last condition replaced", func(t *testing.T) {
		g := &types.RuleGroup{Logic: types.LogicAnd, Conditions: []types.Condition{
			{ID: "only", Field: "country", Operator: "eq", Value: "FR"},
		}}
		out := RemoveCondition(g, "only")
		if len(out.Conditions) != 1 {
			t.Fatalf("len(Conditions) = %d, want 1", len(out.Conditions))
		}
		c := out.Conditions[0]
		if c.ID == "only" {
			t.Error("remaining condition kept the removed id")
		}
		if c.Field != string(FieldTotalDonations) || c.Operator != string(OpGte) {
			t.Errorf("remaining condition = %+v, want fresh default", c)
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		g := &types.RuleGroup{Logic: types.LogicAnd, Conditions: []types.Condition{NewCondition("a")}}
		out := RemoveCondition(g, "missing")
		if len(out.Conditions) != 1 || out.Conditions[0].ID != "a" {
			t.Errorf("RemoveCondition(missing) = %+v, want unchanged", out.Conditions)
		}
	})
}

func TestChangeField(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	base := types.Condition{ID: "c1", Field: "totalDonations", Operator: "gt", Value: float64(100)}

	tests := []struct {
		field     Field
		wantOp    string
		wantValue any
	}{
		{FieldCountry, "eq", ""},
		{FieldLastDonationDate, "before", "2026-03-15"},
		{FieldUnsubscribed, "eq", false},
		{FieldScore, "eq", float64(0)},
		{Field("nonexistent"), "", nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			got := ChangeField(base, tt.field, now)
			if got.ID != "c1" {
				t.Errorf("ID = %v, want c1", got.ID)
			}
			if got.Field != string(tt.field) {
				t.Errorf("Field = %v, want %v", got.Field, tt.field)
			}
			if got.Operator != tt.wantOp {
				t.Errorf("Operator = %v, want %v", got.Operator, tt.wantOp)
			}
			if got.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v", got.Value, tt.wantValue)
			}
		})
	}
}
