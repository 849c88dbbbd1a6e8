// Package normalizer computes the per-item heat_normalized value for
// one period's batch of source items, in three passes: per-platform
// min-max, platform weighting, and period-global sum-to-1 scaling.
package normalizer

import (
	"errors"

	"echoman/internal/domain"
)

// ErrEmptyPeriod is returned when Normalize is called with no items;
// there is nothing to scale and producing a result would divide by
// zero.
var ErrEmptyPeriod = errors.New("normalizer: empty period")

// Normalizer holds the per-platform weight table (PLATFORM_WEIGHTS).
// A platform absent from Weights is treated as weight 1.0.
type Normalizer struct {
	Weights map[domain.Platform]float64
}

func (n Normalizer) weightOf(p domain.Platform) float64 {
	if w, ok := n.Weights[p]; ok {
		return w
	}
	return 1.0
}

// Normalize mutates HeatNormalized on each item in place.
//
// Pass 1: within each platform, min-max scale HeatValue to [0, 1].
// Platforms where every item has a nil HeatValue get a flat 0.5 (no
// signal to rank on). Platforms where max == min also get a flat 0.5
// (every item tied).
//
// Pass 2: multiply each item's [0,1] value by its platform's weight.
//
// Pass 3: scale the whole period's weighted values so they sum to 1.
// If every weighted value is exactly 0 (T == 0), every item instead
// gets an equal 1/N share.
func (n Normalizer) Normalize(items []domain.SourceItem) error {
	if len(items) == 0 {
		return ErrEmptyPeriod
	}

	byPlatform := make(map[domain.Platform][]*domain.SourceItem)
	for i := range items {
		p := items[i].Platform
		byPlatform[p] = append(byPlatform[p], &items[i])
	}

	for _, group := range byPlatform {
		hasHeat := false
		var min, max float64
		for _, it := range group {
			if it.HeatValue == nil {
				continue
			}
			if !hasHeat {
				min, max = *it.HeatValue, *it.HeatValue
				hasHeat = true
				continue
			}
			if *it.HeatValue < min {
				min = *it.HeatValue
			}
			if *it.HeatValue > max {
				max = *it.HeatValue
			}
		}

		for _, it := range group {
			switch {
			case !hasHeat || it.HeatValue == nil:
				it.HeatNormalized = 0.5
			case max == min:
				it.HeatNormalized = 0.5
			default:
				it.HeatNormalized = (*it.HeatValue - min) / (max - min)
			}
		}
	}

	var total float64
	for i := range items {
		items[i].HeatNormalized *= n.weightOf(items[i].Platform)
		total += items[i].HeatNormalized
	}

	count := float64(len(items))
	if total == 0 {
		for i := range items {
			items[i].HeatNormalized = 1.0 / count
		}
		return nil
	}

	for i := range items {
		items[i].HeatNormalized /= total
	}
	return nil
}
