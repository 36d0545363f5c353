package core

import (
	"testing"
	"time"
)

func at(sec int) time.Time {
	return time.Date(2024, 9, 18, 10, 0, sec, 0, time.UTC)
}

func event(row, sec int, actor, action string, score *float64) ActionEvent {
	ev := ActionEvent{
		Timestamp:  at(sec),
		ActorID:    actor,
		ActionType: action,
		Category:   action,
		Metrics:    map[string]float64{},
		Row:        row,
	}
	if score != nil {
		ev.Metrics["score"] = *score
	}
	return ev
}

func ptr(v float64) *float64 { return &v }

func TestBuildSeries_OrdersPointsAndSeries(t *testing.T) {
	acc := NewAccumulator(GroupByAction, "score")
	acc.Add(event(1, 30, "p1", "jump", ptr(3)))
	acc.Add(event(2, 10, "p2", "jump", ptr(1)))
	acc.Add(event(3, 10, "p1", "jump", ptr(2))) // same X as row 2
	acc.Add(event(4, 5, "p1", "attack", ptr(9)))

	series := BuildSeries(acc)
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if series[0].Label != "attack" || series[1].Label != "jump" {
		t.Errorf("labels = %q, %q, want attack, jump", series[0].Label, series[1].Label)
	}

	jump := series[1]
	if jump.Metric != "score" {
		t.Errorf("Metric = %q, want score", jump.Metric)
	}
	wantRows := []int{2, 3, 1}
	wantY := []float64{1, 2, 3}
	for i, p := range jump.Points {
		if p.Row != wantRows[i] || p.Y != wantY[i] {
			t.Errorf("point %d = row %d y %v, want row %d y %v", i, p.Row, p.Y, wantRows[i], wantY[i])
		}
	}
}

func TestBuildSeries_OmitsEmptyGroups(t *testing.T) {
	acc := NewAccumulator(GroupByActor, "score")
	acc.Add(event(1, 0, "p1", "jump", ptr(1)))
	acc.Add(event(2, 1, "p2", "jump", nil))
	acc.Add(event(3, 2, "p2", "jump", nil))

	series := BuildSeries(acc)
	if len(series) != 1 || series[0].Key.Actor != "p1" {
		t.Fatalf("series = %+v, want only p1", series)
	}

	groups := GroupSummary(acc)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[1].Key.Actor != "p2" || groups[1].Events != 2 || groups[1].Points != 0 {
		t.Errorf("groups[1] = %+v, want p2 with 2 events and 0 points", groups[1])
	}
}

func TestAccumulator_MergeMatchesSingleFold(t *testing.T) {
	events := []ActionEvent{
		event(1, 3, "p1", "jump", ptr(1)),
		event(2, 1, "p2", "jump", ptr(2)),
		event(3, 2, "p1", "attack", ptr(3)),
		event(4, 2, "p1", "jump", nil),
		event(5, 0, "p2", "attack", ptr(5)),
	}

	single := NewAccumulator(GroupByActorAction, "score")
	for _, ev := range events {
		single.Add(ev)
	}

	left := NewAccumulator(GroupByActorAction, "score")
	right := NewAccumulator(GroupByActorAction, "score")
	for i, ev := range events {
		if i%2 == 0 {
			left.Add(ev)
		} else {
			right.Add(ev)
		}
	}
	right.Merge(left)

	assertSameSeries(t, BuildSeries(single), BuildSeries(right))

	gs, gm := GroupSummary(single), GroupSummary(right)
	if len(gs) != len(gm) {
		t.Fatalf("group count %d vs %d", len(gs), len(gm))
	}
	for i := range gs {
		if gs[i] != gm[i] {
			t.Errorf("group %d = %+v, want %+v", i, gm[i], gs[i])
		}
	}
}

func TestSeriesKey_Label(t *testing.T) {
	tests := []struct {
		key  SeriesKey
		want string
	}{
		{SeriesKey{Action: "jump"}, "jump"},
		{SeriesKey{Actor: "p1", Action: "jump"}, "p1 / jump"},
		{SeriesKey{Category: "Medication"}, "Medication"},
		{SeriesKey{}, "(none)"},
	}
	for _, tt := range tests {
		if got := tt.key.Label(); got != tt.want {
			t.Errorf("%+v.Label() = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func assertSameSeries(t *testing.T, want, got []Series) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("series count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].Key != got[i].Key || want[i].Label != got[i].Label {
			t.Fatalf("series %d key = %+v, want %+v", i, got[i].Key, want[i].Key)
		}
		if len(want[i].Points) != len(got[i].Points) {
			t.Fatalf("series %q points = %d, want %d", want[i].Label, len(got[i].Points), len(want[i].Points))
		}
		for j := range want[i].Points {
			w, g := want[i].Points[j], got[i].Points[j]
			if !w.X.Equal(g.X) || w.Y != g.Y || w.Row != g.Row {
				t.Errorf("series %q point %d = %+v, want %+v", want[i].Label, j, g, w)
			}
		}
	}
}
