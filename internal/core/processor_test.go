package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(t *testing.T, opts Options) *Processor {
	t.Helper()
	if opts.Schema.Key == "" {
		opts.Schema = GenericSchema()
	}
	opts.Logger = quietLogger()
	p, err := NewProcessor(opts)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func process(t *testing.T, opts Options, input string) *Result {
	t.Helper()
	res, err := newTestProcessor(t, opts).Process(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return res
}

func TestProcess_MixedRows(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00,p1,score,5\n" +
		"2024-09-18T09:59:00,p1,score,3\n" +
		"bad-ts,p2,move,\n"

	res := process(t, Options{}, input)

	if len(res.Series) != 1 {
		t.Fatalf("len(Series) = %d, want 1: %+v", len(res.Series), res.Series)
	}
	s := res.Series[0]
	if s.Label != "score" || s.Metric != "score" {
		t.Errorf("series = %q/%q, want score/score", s.Label, s.Metric)
	}
	want := []struct {
		x time.Time
		y float64
	}{
		{time.Date(2024, 9, 18, 9, 59, 0, 0, time.UTC), 3},
		{time.Date(2024, 9, 18, 10, 0, 0, 0, time.UTC), 5},
	}
	if len(s.Points) != len(want) {
		t.Fatalf("points = %+v, want %d", s.Points, len(want))
	}
	for i, w := range want {
		if !s.Points[i].X.Equal(w.x) || s.Points[i].Y != w.y {
			t.Errorf("point %d = %+v, want x=%v y=%v", i, s.Points[i], w.x, w.y)
		}
	}

	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %+v, want 1", res.Errors)
	}
	e := res.Errors[0]
	if e.Row != 3 || e.Line != 4 || e.Reason != ReasonInvalidTimestamp || e.Column != "timestamp" {
		t.Errorf("error = %+v, want row 3 line 4 invalid_timestamp on timestamp", e)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %+v, want none", res.Warnings)
	}

	wantStats := Stats{Rows: 3, Accepted: 2, Rejected: 1}
	if res.Stats != wantStats {
		t.Errorf("Stats = %+v, want %+v", res.Stats, wantStats)
	}
}

func TestProcess_HeaderOnly(t *testing.T) {
	res := process(t, Options{}, "timestamp,actor,action_type,score\n")

	if len(res.Series) != 0 || len(res.Groups) != 0 {
		t.Errorf("Series/Groups = %v/%v, want empty", res.Series, res.Groups)
	}
	if len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Errorf("diagnostics = %v/%v, want empty", res.Errors, res.Warnings)
	}
	if res.Stats != (Stats{}) {
		t.Errorf("Stats = %+v, want zero", res.Stats)
	}
}

func TestProcess_FatalHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty input", input: "", wantErr: ErrMissingHeader},
		{name: "only a BOM", input: "\ufeff", wantErr: ErrMissingHeader},
		{name: "unparsable header", input: "time\"stamp,action_type\n", wantErr: ErrMalformedHeader},
		{name: "missing action type", input: "timestamp,actor,score\n2024-09-18T10:00:00Z,p1,5\n", wantErr: ErrMissingColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, Options{})
			res, err := p.Process(context.Background(), strings.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
			}
			if res != nil {
				t.Errorf("Process() result = %+v, want nil on fatal error", res)
			}
		})
	}
}

func TestProcess_EmptyMetricNeverAPointNorAnError(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00Z,p1,jump,\n" +
		"2024-09-18T10:00:01Z,p1,jump,4\n"

	res := process(t, Options{}, input)

	if len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("diagnostics = %+v / %+v, want none", res.Errors, res.Warnings)
	}
	if len(res.Series) != 1 || len(res.Series[0].Points) != 1 || res.Series[0].Points[0].Row != 2 {
		t.Fatalf("series = %+v, want one point from row 2", res.Series)
	}
	if res.Groups[0].Events != 2 || res.Groups[0].Points != 1 {
		t.Errorf("group = %+v, want 2 events 1 point", res.Groups[0])
	}
}

func TestProcess_MissingActionTypeReportedOnce(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00Z,p1,jump,1\n" +
		"2024-09-18T10:00:01Z,p1,,2\n" +
		"2024-09-18T10:00:02Z,p2\n" +
		"2024-09-18T10:00:03Z,p2,jump,3\n"

	res := process(t, Options{Group: GroupByActor}, input)

	if len(res.Errors) != 2 {
		t.Fatalf("Errors = %+v, want 2", res.Errors)
	}
	for i, wantRow := range []int{2, 3} {
		if res.Errors[i].Row != wantRow || res.Errors[i].Reason != ReasonMissingField {
			t.Errorf("Errors[%d] = %+v, want row %d missing_field", i, res.Errors[i], wantRow)
		}
	}
	for _, s := range res.Series {
		for _, p := range s.Points {
			if p.Row == 2 || p.Row == 3 {
				t.Errorf("series %q contains rejected row %d", s.Label, p.Row)
			}
		}
	}
}

func TestProcess_BlankAndMalformedRows(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00Z,p1,jump,1\n" +
		",,,\n" +
		"2024-09-18T10:00:01Z,p\"1,jump,2\n" +
		"2024-09-18T10:00:02Z,p1,jump,3\n"

	res := process(t, Options{}, input)

	if res.Stats.Blank != 1 {
		t.Errorf("Blank = %d, want 1", res.Stats.Blank)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %+v, want 1", res.Errors)
	}
	if e := res.Errors[0]; e.Reason != ReasonMalformedRecord || e.Row != 3 || e.Line != 4 {
		t.Errorf("error = %+v, want malformed_record at row 3 line 4", e)
	}
	if got := len(res.Series[0].Points); got != 2 {
		t.Errorf("points = %d, want 2", got)
	}
	if res.Series[0].Points[1].Row != 4 {
		t.Errorf("last point row = %d, want 4", res.Series[0].Points[1].Row)
	}
}

func TestProcess_UnparsableMetricIsWarning(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00Z,p1,jump,lots\n"

	res := process(t, Options{}, input)

	if len(res.Errors) != 0 {
		t.Errorf("Errors = %+v, want none", res.Errors)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Reason != ReasonTypeMismatch || res.Warnings[0].Row != 1 {
		t.Errorf("Warnings = %+v, want one type_mismatch at row 1", res.Warnings)
	}
	if res.Stats.Accepted != 1 || res.Stats.Dropped != 1 {
		t.Errorf("Stats = %+v, want 1 accepted 1 dropped", res.Stats)
	}
	if len(res.Groups) != 1 || res.Groups[0].Events != 1 {
		t.Errorf("Groups = %+v, want one group with one event", res.Groups)
	}
}

func TestProcess_Filters(t *testing.T) {
	input := "timestamp,actor,action_type,score\n" +
		"2024-09-18T10:00:00Z,p1,jump,1\n" +
		"2024-09-18T10:05:00Z,p1,attack,2\n" +
		"2024-09-18T10:10:00Z,p2,jump,3\n" +
		"2024-09-18T10:15:00Z,p1,jump,4\n"

	tests := []struct {
		name         string
		opts         Options
		wantPoints   int
		wantFiltered int
	}{
		{name: "no filter", opts: Options{}, wantPoints: 4},
		{name: "actions", opts: Options{Actions: []string{"jump"}}, wantPoints: 3, wantFiltered: 1},
		{name: "actors", opts: Options{Actors: []string{"p2"}}, wantPoints: 1, wantFiltered: 3},
		{
			name: "window inclusive",
			opts: Options{
				From: time.Date(2024, 9, 18, 10, 5, 0, 0, time.UTC),
				To:   time.Date(2024, 9, 18, 10, 10, 0, 0, time.UTC),
			},
			wantPoints:   2,
			wantFiltered: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := process(t, tt.opts, input)
			points := 0
			for _, s := range res.Series {
				points += len(s.Points)
			}
			if points != tt.wantPoints {
				t.Errorf("points = %d, want %d", points, tt.wantPoints)
			}
			if res.Stats.Filtered != tt.wantFiltered {
				t.Errorf("Filtered = %d, want %d", res.Stats.Filtered, tt.wantFiltered)
			}
			if res.Stats.Accepted != 4 {
				t.Errorf("Accepted = %d, want 4", res.Stats.Accepted)
			}
		})
	}
}

func TestNewProcessor_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "no schema", opts: Options{}},
		{name: "bad group mode", opts: Options{Schema: GenericSchema(), Group: "weekly"}},
		{
			name: "inverted window",
			opts: Options{
				Schema: GenericSchema(),
				From:   time.Date(2024, 9, 18, 11, 0, 0, 0, time.UTC),
				To:     time.Date(2024, 9, 18, 10, 0, 0, 0, time.UTC),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProcessor(tt.opts); err == nil {
				t.Error("NewProcessor() error = nil, want error")
			}
		})
	}
}

func buildLargeInput(rows int) string {
	var b strings.Builder
	b.WriteString("timestamp,actor,action_type,score\n")
	actions := []string{"jump", "attack", "heal"}
	for i := 0; i < rows; i++ {
		switch {
		case i%17 == 0:
			fmt.Fprintf(&b, "garbage,p%d,%s,1\n", i%4, actions[i%3])
		case i%11 == 0:
			fmt.Fprintf(&b, "2024-09-18T10:00:%02dZ,p%d,%s,\n", i%60, i%4, actions[i%3])
		default:
			fmt.Fprintf(&b, "2024-09-18T10:00:%02dZ,p%d,%s,%d\n", i%60, i%4, actions[i%3], i)
		}
	}
	return b.String()
}

func TestProcess_ParallelMatchesSequential(t *testing.T) {
	input := buildLargeInput(2500)

	for _, mode := range []GroupMode{GroupByAction, GroupByActor, GroupByActorAction} {
		t.Run(string(mode), func(t *testing.T) {
			seq := process(t, Options{Group: mode, KeepEvents: true}, input)
			par := process(t, Options{Group: mode, KeepEvents: true, Workers: 4, BatchSize: 64}, input)

			assertSameSeries(t, seq.Series, par.Series)
			if seq.Stats != par.Stats {
				t.Errorf("Stats seq=%+v par=%+v", seq.Stats, par.Stats)
			}
			if len(seq.Errors) != len(par.Errors) {
				t.Fatalf("Errors seq=%d par=%d", len(seq.Errors), len(par.Errors))
			}
			for i := range seq.Errors {
				if seq.Errors[i] != par.Errors[i] {
					t.Errorf("Errors[%d] seq=%+v par=%+v", i, seq.Errors[i], par.Errors[i])
				}
			}
			if len(seq.Events) != len(par.Events) {
				t.Fatalf("Events seq=%d par=%d", len(seq.Events), len(par.Events))
			}
			for i := range seq.Events {
				if seq.Events[i].Row != par.Events[i].Row {
					t.Fatalf("Events[%d].Row seq=%d par=%d", i, seq.Events[i].Row, par.Events[i].Row)
				}
			}
			if seq.Fingerprint != par.Fingerprint {
				t.Errorf("Fingerprint seq=%s par=%s", seq.Fingerprint, par.Fingerprint)
			}
		})
	}
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		p := newTestProcessor(t, Options{Workers: workers})
		_, err := p.Process(ctx, strings.NewReader(buildLargeInput(500)))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: Process() error = %v, want context.Canceled", workers, err)
		}
	}
}

func TestProcess_FingerprintIgnoresBOM(t *testing.T) {
	body := "timestamp,actor,action_type,score\n2024-09-18T10:00:00Z,p1,jump,1\n"

	plain := process(t, Options{}, body)
	withBOM := process(t, Options{}, "\ufeff"+body)

	if plain.Fingerprint == "" || plain.Fingerprint != withBOM.Fingerprint {
		t.Errorf("fingerprints = %q vs %q, want equal and non-empty", plain.Fingerprint, withBOM.Fingerprint)
	}
	if len(withBOM.Series) != 1 {
		t.Errorf("BOM header not bound: %+v", withBOM.Series)
	}
}

func TestProcess_DashboardExport(t *testing.T) {
	input := "\"Time Stamp[Hr:Min:Sec]\",\"Action/Vital Name\",\"SubAction Time[Min:Sec]\",\"SubAction Name\",\"Score\",\"Old Value\",\"New Value\",\"Username\",\"Speech Command\"\n" +
		"0:00:05,(1) Initial Assessment (action),,,,,,alice,\n" +
		"0:00:40,Airway,00:35,Check Airway,,,,alice,\n" +
		"0:02:10,Defib,00:10,Defib (UNsynchronized Shock) 200J,,,,bob,\n" +
		"0:03:00,(2) Resuscitation (action),,,,,,alice,\n" +
		"0:04:00,CPR,,Check Pulse,Action-Was-Not-Performed,Error-Triggered,,dave,Check the pulse\n"

	res := process(t, Options{Schema: DashboardSchema(), Group: GroupByCategory, SessionDate: testSession}, input)

	if res.Metric != MetricStage {
		t.Errorf("Metric = %q, want %q", res.Metric, MetricStage)
	}
	if len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("diagnostics = %+v / %+v, want none", res.Errors, res.Warnings)
	}
	if len(res.Series) != 2 {
		t.Fatalf("series = %+v, want two stage series", res.Series)
	}
	if res.Series[0].Label != "Initial Assessment" || res.Series[1].Label != "Resuscitation" {
		t.Errorf("labels = %q, %q", res.Series[0].Label, res.Series[1].Label)
	}
	if y := res.Series[1].Points[0].Y; y != 2 {
		t.Errorf("Resuscitation stage = %v, want 2", y)
	}

	var missed bool
	for _, g := range res.Groups {
		if g.Key.Category == CategoryMissedAction && g.Events == 1 {
			missed = true
		}
	}
	if !missed {
		t.Errorf("Groups = %+v, want one Missed Action event", res.Groups)
	}
}

const dashboardHeader = "Time Stamp[Hr:Min:Sec],Action/Vital Name,SubAction Time[Min:Sec],SubAction Name,Score,Old Value,New Value,Username,Speech Command\n"

const dashboardTimeline = dashboardHeader +
	"0:00:05,(1) Stage One (action),,,,,,,\n" +
	"0:01:10,(1) Stage One (action),01:05,Begin CPR,,,,alice,\n" +
	"0:02:00,(1) Stage One (action),01:55,Check Airway,,,,alice,\n" +
	"0:02:01,Error Rules,,Airway Before Breathing,Action-Was-Performed,Error-Triggered,,(1) Stage One (action),Check breathing first\n" +
	"0:03:10,(1) Stage One (action),03:05,End CPR,,,,alice,\n" +
	"0:04:00,(2) Stage Two (action),,,,,,,\n"

func TestProcess_DashboardTimeline(t *testing.T) {
	res := process(t, Options{Schema: DashboardSchema(), Group: GroupByActor, SessionDate: testSession}, dashboardTimeline)

	periods := res.Timeline.Periods
	if len(periods) != 3 {
		t.Fatalf("periods = %+v, want two stages and one CPR span", periods)
	}
	if p := periods[0]; p.Kind != PeriodStage || p.Stage != 1 || !p.Start.Equal(clock(0, 5)) || !p.End.Equal(clock(4, 0)) {
		t.Errorf("stage one = %+v", p)
	}
	if p := periods[1]; p.Kind != PeriodStage || p.Stage != 2 || !p.Open {
		t.Errorf("stage two = %+v, want open final stage", p)
	}
	if p := periods[2]; p.Kind != PeriodCPR || !p.Start.Equal(clock(1, 10)) || !p.End.Equal(clock(3, 10)) || p.StartRow != 2 || p.EndRow != 5 {
		t.Errorf("cpr = %+v, want rows 2..5 from 1:10 to 3:10", p)
	}

	if len(res.Timeline.Flags) != 1 {
		t.Fatalf("flags = %+v, want 1", res.Timeline.Flags)
	}
	f := res.Timeline.Flags[0]
	if f.Kind != FlagErroneousAction || f.MarkerRow != 4 || f.ActionRow != 3 {
		t.Errorf("flag = %+v, want marker row 4 linked to action row 3", f)
	}
	if f.Action != "Check Airway" || f.Actor != "alice" || f.Stage != 1 || !f.HasValue || f.Value != 1 {
		t.Errorf("flagged action = %q by %q stage %d value %v", f.Action, f.Actor, f.Stage, f.Value)
	}
	if f.Marker.Rule != "Airway Before Breathing" || f.Marker.Advice != "Check breathing first" {
		t.Errorf("marker info = %+v", f.Marker)
	}

	for _, g := range res.Groups {
		if g.Key.Actor == "(1) Stage One (action)" {
			t.Errorf("marker target leaked into actor grouping: %+v", g)
		}
	}
}

func TestProcess_DashboardTimelineParallel(t *testing.T) {
	seq := process(t, Options{Schema: DashboardSchema(), SessionDate: testSession}, dashboardTimeline)
	par := process(t, Options{Schema: DashboardSchema(), SessionDate: testSession, Workers: 3, BatchSize: 1}, dashboardTimeline)

	if !reflect.DeepEqual(seq.Timeline, par.Timeline) {
		t.Errorf("parallel timeline = %+v, want %+v", par.Timeline, seq.Timeline)
	}
}
