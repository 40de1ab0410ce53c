package suggest

import (
	"fmt"
	"math"
	"time"

	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/types"
)

// lapsedAfterDays is the average recency beyond which a cluster of past
// donors is described as lapsing.
const lapsedAfterDays = 180

// Description is the human and rule form of one cluster.
type Description struct {
	Name        string
	Description string
	Rules       *types.SegmentRules
	DonorCount  int
	Confidence  float64
}

// Describe classifies a cluster by its centroid, first match wins:
//
//	score >= 70 and monetary >= 500     high potential
//	recency > 180 and frequency > 0     lapsing
//	frequency >= 5 and monetary >= 250  loyal
//	score >= 50 and recency <= 90       recently active
//	monetary >= 1000                    major
//	otherwise                           thresholds at 80-120% of the centroid
func Describe(c Cluster, now time.Time) Description {
	ctr := c.Centroid
	d := Description{DonorCount: len(c.Members), Confidence: confidence(c)}

	var conds []types.Condition
	switch {
	case ctr.Score >= 70 && ctr.Monetary >= 500:
		d.Name = "High-potential donors"
		d.Description = fmt.Sprintf("Donors with a high propensity score (%d) and significant lifetime giving. Good candidates for a major-gift campaign.", round(ctr.Score))
		conds = append(conds, condition(rules.FieldScore, rules.OpGte, 70), condition(rules.FieldTotalDonations, rules.OpGte, 500))
	case ctr.Recency > lapsedAfterDays && ctr.Frequency > 0:
		d.Name = "Donors at risk of lapsing"
		d.Description = fmt.Sprintf("Donors who have not given for about %d days. A reactivation campaign is recommended.", round(ctr.Recency))
		cutoff := now.AddDate(0, 0, -lapsedAfterDays).Format("2006-01-02")
		conds = append(conds, condition(rules.FieldLastDonationDate, rules.OpBefore, cutoff), condition(rules.FieldDonationCount, rules.OpGte, 1))
	case ctr.Frequency >= 5 && ctr.Monetary >= 250:
		d.Name = "Loyal donors"
		d.Description = fmt.Sprintf("Regular donors with %d or more gifts and %d in lifetime giving.", round(ctr.Frequency), round(ctr.Monetary))
		conds = append(conds, condition(rules.FieldDonationCount, rules.OpGte, 5), condition(rules.FieldTotalDonations, rules.OpGte, 250))
	case ctr.Score >= 50 && ctr.Recency <= 90:
		d.Name = "Recently active donors"
		d.Description = fmt.Sprintf("Donors who gave within the last %d days and have a good propensity score.", round(ctr.Recency))
		conds = append(conds, condition(rules.FieldLastDonationDate, rules.OpWithinDays, 90), condition(rules.FieldScore, rules.OpGte, 50))
	case ctr.Monetary >= 1000:
		d.Name = "Major donors"
		d.Description = fmt.Sprintf("Donors who have given more than %d in total.", round(ctr.Monetary))
		conds = append(conds, condition(rules.FieldTotalDonations, rules.OpGte, 1000))
	default:
		d.Name = fmt.Sprintf("Cluster segment %d", c.Index+1)
		d.Description = fmt.Sprintf("Group of %d donors identified by clustering.", len(c.Members))
		if ctr.Recency < NeverDonated {
			conds = append(conds, condition(rules.FieldLastDonationDate, rules.OpWithinDays, round(ctr.Recency*1.2)))
		}
		if ctr.Frequency > 0 {
			conds = append(conds, condition(rules.FieldDonationCount, rules.OpGte, max(1, round(ctr.Frequency*0.8))))
		}
		if ctr.Monetary > 0 {
			conds = append(conds, condition(rules.FieldTotalDonations, rules.OpGte, round(ctr.Monetary*0.8)))
		}
		if ctr.Score > 0 {
			conds = append(conds, condition(rules.FieldScore, rules.OpGte, round(ctr.Score*0.8)))
		}
		if len(conds) == 0 {
			conds = append(conds, rules.NewCondition(""))
		}
	}

	d.Rules = &types.SegmentRules{
		Version: types.SegmentRulesVersion,
		Group:   &types.RuleGroup{Logic: types.LogicAnd, Conditions: conds},
	}
	return d
}

func condition[V int | string](field rules.Field, op rules.Operator, value V) types.Condition {
	var v any = value
	if n, ok := v.(int); ok {
		v = float64(n)
	}
	return types.Condition{ID: types.NewConditionID(), Field: string(field), Operator: string(op), Value: v}
}

// confidence is 1 minus the mean per-feature variance over 10000,
// clamped to [0.3, 1].
func confidence(c Cluster) float64 {
	if len(c.Members) == 0 {
		return 0.3
	}
	var vr, vf, vm, vs float64
	for _, m := range c.Members {
		vr += sq(m.Recency - c.Centroid.Recency)
		vf += sq(m.Frequency - c.Centroid.Frequency)
		vm += sq(m.Monetary - c.Centroid.Monetary)
		vs += sq(m.Score - c.Centroid.Score)
	}
	n := float64(len(c.Members))
	avg := (vr/n + vf/n + vm/n + vs/n) / 4
	return math.Max(0.3, math.Min(1.0, 1-avg/10000))
}

func sq(x float64) float64 { return x * x }

func round(x float64) int { return int(math.Round(x)) }
