package suggest

import (
	"sort"
)

// convergence is the centroid movement, in normalised units, below which
// a centroid counts as settled.
const convergence = 0.01

// DefaultMaxIterations bounds Cluster when the caller passes 0.
const DefaultMaxIterations = 20

// Cluster is one k-means group. Centroid is the mean of Members.
type Cluster struct {
	Index    int
	Members  []Features
	Centroid Features
}

// KMeans partitions points into at most k clusters and drops empty ones.
//
// Seeding is deterministic: points are ordered by monetary value (donor id
// breaks ties) and the seeds are spaced evenly across that order, so the
// same donors always produce the same clusters.
func KMeans(points []Features, k, maxIter int) []Cluster {
	if len(points) == 0 || k <= 0 {
		return nil
	}
	if k > len(points) {
		k = len(points)
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	ordered := make([]Features, len(points))
	copy(ordered, points)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Monetary != ordered[j].Monetary {
			return ordered[i].Monetary < ordered[j].Monetary
		}
		return ordered[i].DonorID < ordered[j].DonorID
	})

	centroids := make([]Features, k)
	for i := range centroids {
		idx := 0
		if k > 1 {
			idx = i * (len(ordered) - 1) / (k - 1)
		}
		centroids[i] = ordered[idx]
	}

	var assign [][]Features
	for iter := 0; iter < maxIter; iter++ {
		assign = make([][]Features, k)
		for _, p := range ordered {
			best := nearest(p, centroids)
			assign[best] = append(assign[best], p)
		}

		moved := false
		for i, members := range assign {
			if len(members) == 0 {
				continue
			}
			next := mean(members)
			if Distance(centroids[i], next) > convergence {
				moved = true
			}
			centroids[i] = next
		}
		if !moved {
			break
		}
	}

	out := make([]Cluster, 0, k)
	for i, members := range assign {
		if len(members) == 0 {
			continue
		}
		out = append(out, Cluster{Index: i, Members: members, Centroid: mean(members)})
	}
	return out
}

func nearest(p Features, centroids []Features) int {
	best, bestDist := 0, Distance(p, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := Distance(p, centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func mean(members []Features) Features {
	var m Features
	for _, f := range members {
		m.Recency += f.Recency
		m.Frequency += f.Frequency
		m.Monetary += f.Monetary
		m.Score += f.Score
	}
	n := float64(len(members))
	m.Recency /= n
	m.Frequency /= n
	m.Monetary /= n
	m.Score /= n
	return m
}
