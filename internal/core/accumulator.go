package core

// Accumulator folds accepted events into per-key point lists.
//
// The fold is commutative per SeriesKey: adding the same events in any order,
// or splitting them across accumulators and merging, yields the same multiset
// of points. Ordering is imposed later by BuildSeries.
type Accumulator struct {
	mode   GroupMode
	metric string
	groups map[SeriesKey]*group
}

type group struct {
	events int
	points []Point
}

// NewAccumulator creates an empty accumulator for one grouping mode and metric.
func NewAccumulator(mode GroupMode, metric string) *Accumulator {
	return &Accumulator{
		mode:   mode,
		metric: metric,
		groups: make(map[SeriesKey]*group),
	}
}

// Add folds one event. Events without the configured metric count toward
// their group but contribute no point.
func (a *Accumulator) Add(ev ActionEvent) {
	key := KeyFor(a.mode, ev)
	g := a.groups[key]
	if g == nil {
		g = &group{}
		a.groups[key] = g
	}
	g.events++

	if v, ok := ev.Metrics[a.metric]; ok {
		g.points = append(g.points, Point{X: ev.Timestamp, Y: v, Row: ev.Row})
	}
}

// Merge folds other into a. other must not be used afterwards.
func (a *Accumulator) Merge(other *Accumulator) {
	for key, og := range other.groups {
		g := a.groups[key]
		if g == nil {
			a.groups[key] = og
			continue
		}
		g.events += og.events
		g.points = append(g.points, og.points...)
	}
}

// Len returns the number of distinct keys seen.
func (a *Accumulator) Len() int {
	return len(a.groups)
}

// Metric returns the metric the accumulator plots.
func (a *Accumulator) Metric() string {
	return a.metric
}
