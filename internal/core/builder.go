package core

import (
	"sort"
)

// BuildSeries converts an accumulator into plot-ready series. Points are
// ordered by timestamp with ties broken by source row, series by label.
// Groups without points are omitted; see GroupSummary for their counts.
func BuildSeries(acc *Accumulator) []Series {
	series := make([]Series, 0, acc.Len())
	for key, g := range acc.groups {
		if len(g.points) == 0 {
			continue
		}

		points := make([]Point, len(g.points))
		copy(points, g.points)
		sort.SliceStable(points, func(i, j int) bool {
			if !points[i].X.Equal(points[j].X) {
				return points[i].X.Before(points[j].X)
			}
			return points[i].Row < points[j].Row
		})

		series = append(series, Series{
			Key:    key,
			Label:  key.Label(),
			Metric: acc.metric,
			Points: points,
		})
	}

	sort.Slice(series, func(i, j int) bool {
		return lessKey(series[i].Label, series[i].Key, series[j].Label, series[j].Key)
	})
	return series
}

// GroupSummary returns per-key counters for every key, including keys that
// produced no points, in label order.
func GroupSummary(acc *Accumulator) []GroupStats {
	stats := make([]GroupStats, 0, acc.Len())
	for key, g := range acc.groups {
		stats = append(stats, GroupStats{
			Key:    key,
			Label:  key.Label(),
			Events: g.events,
			Points: len(g.points),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return lessKey(stats[i].Label, stats[i].Key, stats[j].Label, stats[j].Key)
	})
	return stats
}

// lessKey orders by label, then by key fields so distinct keys that render
// the same label still sort deterministically.
func lessKey(la string, ka SeriesKey, lb string, kb SeriesKey) bool {
	if la != lb {
		return la < lb
	}
	if ka.Actor != kb.Actor {
		return ka.Actor < kb.Actor
	}
	if ka.Action != kb.Action {
		return ka.Action < kb.Action
	}
	return ka.Category < kb.Category
}
