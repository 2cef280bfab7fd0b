package util

import (
	"math"

	"github.com/rcrowley/go-metrics"
)

// DistributionStats describes how evenly records are spread over shards
type DistributionStats struct {
	StdDeviation        float64 `json:"std_deviation"`
	Min                 int64   `json:"min"`
	Max                 int64   `json:"max"`
	Mean                float64 `json:"mean"`
	MinMaxRatio         float64 `json:"min_max_ratio"`
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes quality metrics for the given shard sizes
func NewDistributionStats(shardSizes []int) DistributionStats {
	if len(shardSizes) == 0 {
		return DistributionStats{}
	}

	// the sample is large enough to hold every shard, so all values are exact
	h := metrics.NewHistogram(metrics.NewUniformSample(len(shardSizes)))
	for _, size := range shardSizes {
		h.Update(int64(size))
	}
	snap := h.Snapshot()

	stats := DistributionStats{
		StdDeviation: snap.StdDev(),
		Min:          snap.Min(),
		Max:          snap.Max(),
		Mean:         snap.Mean(),
		MinMaxRatio:  1.0,
	}
	if stats.Max > 0 {
		stats.MinMaxRatio = float64(stats.Min) / float64(stats.Max)
	}

	// coefficient of variation
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	// lower CV and higher min/max ratio indicate a better distribution
	stats.DistributionQuality = (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5

	return stats
}
