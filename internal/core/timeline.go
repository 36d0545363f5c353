package core

// timeline.go derives spans and error links that depend on row order. It runs
// once after all partials are merged and sorted, so the fold itself stays
// order-independent.

import (
	"sort"
	"time"
)

// ErrorMarkerWindow is how far apart a marker and the action it flags may be.
const ErrorMarkerWindow = 2 * time.Second

// PeriodKind names a span type.
type PeriodKind string

const (
	PeriodStage PeriodKind = "stage"
	PeriodCPR   PeriodKind = "cpr"
)

// Period is a time span drawn behind the series.
type Period struct {
	Kind     PeriodKind
	Label    string
	Stage    int
	Start    time.Time
	End      time.Time
	StartRow int
	EndRow   int
	Open     bool // No closing row; End is the last event time
}

// FlagKind names what an error marker resolved to.
type FlagKind string

const (
	FlagErroneousAction FlagKind = "erroneous_action"
	FlagUnlinkedMarker  FlagKind = "unlinked_marker"
	FlagMissedAction    FlagKind = "missed_action"
)

// Flag is one error-marker row, linked to the action it points at when one
// was found within ErrorMarkerWindow.
type Flag struct {
	Kind      FlagKind
	MarkerRow int
	MarkerAt  time.Time
	Marker    MarkerInfo

	// Linked action; zero for unlinked markers and missed actions.
	ActionRow int
	ActionAt  time.Time
	Action    string
	Actor     string
	Stage     int
	Value     float64
	HasValue  bool
}

// Timeline is the order-dependent view of a run.
type Timeline struct {
	Periods []Period
	Flags   []Flag
}

// BuildTimeline pairs stage boundaries and CPR markers into periods and
// links error markers to actions. metric selects the y value carried on
// linked flags. Events are sorted by row first.
func BuildTimeline(events []ActionEvent, metric string) Timeline {
	evs := make([]ActionEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind != KindNone {
			evs = append(evs, ev)
		}
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Row < evs[j].Row })

	var tl Timeline
	if len(evs) == 0 {
		return tl
	}

	last := evs[0].Timestamp
	for _, ev := range evs[1:] {
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}

	tl.Periods = append(stagePeriods(evs, last), cprPeriods(evs, last)...)
	tl.Flags = linkMarkers(evs, metric)
	return tl
}

// stagePeriods spans each stage from its boundary row to the next boundary,
// the last one to the final event.
func stagePeriods(evs []ActionEvent, last time.Time) []Period {
	var out []Period
	var open *Period
	for _, ev := range evs {
		if ev.Kind != KindStageBoundary {
			continue
		}
		if open != nil {
			open.End, open.EndRow = ev.Timestamp, ev.Row
			out = append(out, *open)
		}
		open = &Period{
			Kind:     PeriodStage,
			Label:    ev.StageName,
			Stage:    ev.Stage,
			Start:    ev.Timestamp,
			StartRow: ev.Row,
		}
	}
	if open != nil {
		open.End, open.Open = last, true
		out = append(out, *open)
	}
	return out
}

// cprPeriods pairs each CPR start with the next CPR end. Repeated starts
// keep the first; an end with nothing open is ignored.
func cprPeriods(evs []ActionEvent, last time.Time) []Period {
	var out []Period
	var open *Period
	for _, ev := range evs {
		switch ev.Kind {
		case KindCPRStart:
			if open == nil {
				open = &Period{Kind: PeriodCPR, Label: "CPR", Stage: ev.Stage, Start: ev.Timestamp, StartRow: ev.Row}
			}
		case KindCPREnd:
			if open != nil {
				open.End, open.EndRow = ev.Timestamp, ev.Row
				out = append(out, *open)
				open = nil
			}
		}
	}
	if open != nil {
		open.End, open.Open = last, true
		out = append(out, *open)
	}
	return out
}

// linkMarkers resolves each error marker to the nearest preceding action
// point with a matching parent label, then to the nearest following one.
func linkMarkers(evs []ActionEvent, metric string) []Flag {
	var out []Flag
	for i, ev := range evs {
		if ev.Marker == nil {
			continue
		}
		f := Flag{MarkerRow: ev.Row, MarkerAt: ev.Timestamp, Marker: *ev.Marker}
		if ev.Kind == KindMissedAction {
			f.Kind = FlagMissedAction
			out = append(out, f)
			continue
		}

		f.Kind = FlagUnlinkedMarker
		if j := findFlagged(evs, i); j >= 0 {
			a := evs[j]
			f.Kind = FlagErroneousAction
			f.ActionRow, f.ActionAt = a.Row, a.Timestamp
			f.Action, f.Actor, f.Stage = a.ActionType, a.ActorID, a.Stage
			f.Value, f.HasValue = a.Metric(metric)
		}
		out = append(out, f)
	}
	return out
}

func findFlagged(evs []ActionEvent, marker int) int {
	m := evs[marker]
	matches := func(a ActionEvent) bool {
		return a.Kind.ActionPoint() && a.Parent == m.Marker.Target
	}

	for j := marker - 1; j >= 0; j-- {
		if !withinWindow(evs[j].Timestamp, m.Timestamp) {
			break
		}
		if matches(evs[j]) {
			return j
		}
	}
	for j := marker + 1; j < len(evs); j++ {
		if !withinWindow(evs[j].Timestamp, m.Timestamp) {
			break
		}
		if matches(evs[j]) {
			return j
		}
	}
	return -1
}

func withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= ErrorMarkerWindow
}
