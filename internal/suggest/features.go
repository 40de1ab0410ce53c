// Package suggest proposes candidate segments by clustering an
// organization's donors on recency, frequency, monetary value and score.
//
// Suggestions are written as rules documents so that converting one into
// a segment goes through the same validation and compiler as any other
// DYNAMIC segment.
package suggest

import (
	"math"
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

// NeverDonated is the recency of a donor without a last donation date.
const NeverDonated = 9999

// Normalisation caps. Each feature is divided by its cap; recency,
// frequency and monetary are clipped at 1, score is not.
const (
	recencyCap   = 365.0
	frequencyCap = 50.0
	monetaryCap  = 10000.0
	scoreCap     = 100.0
)

// Features is one donor's position in RFM space.
type Features struct {
	DonorID   types.DonorID
	Recency   float64 // days since last donation
	Frequency float64
	Monetary  float64
	Score     float64
}

// FeaturesOf computes a donor's features at now.
func FeaturesOf(d types.Donor, now time.Time) Features {
	f := Features{
		DonorID:   d.ID,
		Recency:   NeverDonated,
		Frequency: float64(d.DonationCount),
		Monetary:  d.TotalDonations,
	}
	if d.LastDonationDate != nil {
		f.Recency = math.Floor(now.Sub(*d.LastDonationDate).Hours() / 24)
	}
	if d.Score != nil {
		f.Score = *d.Score
	}
	return f
}

func (f Features) normalized() [4]float64 {
	return [4]float64{
		math.Min(f.Recency/recencyCap, 1),
		math.Min(f.Frequency/frequencyCap, 1),
		math.Min(f.Monetary/monetaryCap, 1),
		f.Score / scoreCap,
	}
}

// Distance is the Euclidean distance between normalised features.
func Distance(a, b Features) float64 {
	na, nb := a.normalized(), b.normalized()
	var sum float64
	for i := range na {
		d := na[i] - nb[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
