// Package report renders processing results as JSON payloads, HTML plot
// pages and plain-text diagnostics summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/google/uuid"
)

// TimeFormat renders point x values.
const TimeFormat = time.RFC3339Nano

// Payload is the JSON document produced for one run.
type Payload struct {
	RunID       string          `json:"run_id"`
	Source      string          `json:"source"`
	Schema      string          `json:"schema"`
	Metric      string          `json:"metric"`
	GroupBy     core.GroupMode  `json:"group_by"`
	Fingerprint string          `json:"fingerprint"`
	Bytes       int64           `json:"bytes"`
	DurationMS  int64           `json:"duration_ms"`
	Stats       Stats           `json:"stats"`
	Series      []SeriesPayload `json:"series"`
	Groups      []GroupPayload  `json:"groups"`
	Periods     []PeriodPayload `json:"periods"`
	Flags       []FlagPayload   `json:"flags"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// Stats mirrors core.Stats with JSON names.
type Stats struct {
	Rows     int `json:"rows"`
	Blank    int `json:"blank"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Filtered int `json:"filtered"`
	Dropped  int `json:"dropped"`
}

type SeriesPayload struct {
	Key    core.SeriesKey `json:"key"`
	Label  string         `json:"label"`
	Metric string         `json:"metric"`
	Points []PointPayload `json:"points"`
}

type PointPayload struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

type GroupPayload struct {
	Key    core.SeriesKey `json:"key"`
	Label  string         `json:"label"`
	Events int            `json:"events"`
	Points int            `json:"points"`
}

// PeriodPayload is a stage or CPR span.
type PeriodPayload struct {
	Kind     core.PeriodKind `json:"kind"`
	Label    string          `json:"label"`
	Stage    int             `json:"stage,omitempty"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	StartRow int             `json:"start_row"`
	EndRow   int             `json:"end_row,omitempty"`
	Open     bool            `json:"open,omitempty"`
}

// FlagPayload is an error marker and, when linked, the action it flags.
// Y is the flagged action's plotted metric, absent when it has none.
type FlagPayload struct {
	Kind      core.FlagKind `json:"kind"`
	MarkerRow int           `json:"marker_row"`
	MarkerAt  string        `json:"marker_at"`
	Rule      string        `json:"rule,omitempty"`
	Violation string        `json:"violation,omitempty"`
	Advice    string        `json:"advice,omitempty"`
	Target    string        `json:"target,omitempty"`
	ActionRow int           `json:"action_row,omitempty"`
	X         string        `json:"x,omitempty"`
	Y         *float64      `json:"y,omitempty"`
	Action    string        `json:"action,omitempty"`
	Actor     string        `json:"actor,omitempty"`
	Stage     int           `json:"stage,omitempty"`
}

// Diagnostics lists skipped rows and dropped cells. Each entry carries the
// 1-based data-row index and the physical source line.
type Diagnostics struct {
	Skipped  []core.DecodeError `json:"skipped"`
	Warnings []core.DecodeError `json:"warnings"`
	Unbound  []string           `json:"unbound_columns,omitempty"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Build converts a processing result into a Payload. Slices are never nil
// so that empty results encode as [] rather than null.
func Build(runID, source string, res *core.Result) Payload {
	p := Payload{
		RunID:       runID,
		Source:      source,
		Schema:      res.Schema,
		Metric:      res.Metric,
		GroupBy:     res.Group,
		Fingerprint: res.Fingerprint,
		Bytes:       res.Bytes,
		DurationMS:  res.Duration.Milliseconds(),
		Stats:       Stats(res.Stats),
		Series:      make([]SeriesPayload, 0, len(res.Series)),
		Groups:      make([]GroupPayload, 0, len(res.Groups)),
		Periods:     make([]PeriodPayload, 0, len(res.Timeline.Periods)),
		Flags:       make([]FlagPayload, 0, len(res.Timeline.Flags)),
		Diagnostics: Diagnostics{
			Skipped:  nonNil(res.Errors),
			Warnings: nonNil(res.Warnings),
			Unbound:  res.Unbound,
		},
	}

	for _, s := range res.Series {
		sp := SeriesPayload{
			Key:    s.Key,
			Label:  s.Label,
			Metric: s.Metric,
			Points: make([]PointPayload, len(s.Points)),
		}
		for i, pt := range s.Points {
			sp.Points[i] = PointPayload{X: pt.X.Format(TimeFormat), Y: pt.Y}
		}
		p.Series = append(p.Series, sp)
	}

	for _, g := range res.Groups {
		p.Groups = append(p.Groups, GroupPayload{Key: g.Key, Label: g.Label, Events: g.Events, Points: g.Points})
	}

	for _, pd := range res.Timeline.Periods {
		pp := PeriodPayload{
			Kind:     pd.Kind,
			Label:    pd.Label,
			Stage:    pd.Stage,
			Start:    pd.Start.Format(TimeFormat),
			End:      pd.End.Format(TimeFormat),
			StartRow: pd.StartRow,
			EndRow:   pd.EndRow,
			Open:     pd.Open,
		}
		p.Periods = append(p.Periods, pp)
	}

	for _, f := range res.Timeline.Flags {
		fp := FlagPayload{
			Kind:      f.Kind,
			MarkerRow: f.MarkerRow,
			MarkerAt:  f.MarkerAt.Format(TimeFormat),
			Rule:      f.Marker.Rule,
			Violation: f.Marker.Violation,
			Advice:    f.Marker.Advice,
			Target:    f.Marker.Target,
		}
		if f.Kind == core.FlagErroneousAction {
			fp.ActionRow = f.ActionRow
			fp.X = f.ActionAt.Format(TimeFormat)
			fp.Action, fp.Actor, fp.Stage = f.Action, f.Actor, f.Stage
			if f.HasValue {
				y := f.Value
				fp.Y = &y
			}
		}
		p.Flags = append(p.Flags, fp)
	}

	return p
}

func nonNil(errs []core.DecodeError) []core.DecodeError {
	if errs == nil {
		return []core.DecodeError{}
	}
	return errs
}

// WriteJSON encodes p to w, indented when pretty is set.
func WriteJSON(w io.Writer, p Payload, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return nil
}

// maxSummaryLines bounds how many diagnostics WriteSummary lists.
const maxSummaryLines = 20

// WriteSummary prints a short human-readable account of the run, listing
// at most a handful of skipped rows and warnings.
func WriteSummary(w io.Writer, p Payload) {
	st := p.Stats
	fmt.Fprintf(w, "%d rows: %d accepted, %d skipped, %d filtered, %d blank, %d cells dropped; %d series\n",
		st.Rows, st.Accepted, st.Rejected, st.Filtered, st.Blank, st.Dropped, len(p.Series))

	if len(p.Periods) > 0 || len(p.Flags) > 0 {
		linked := 0
		for _, f := range p.Flags {
			if f.Kind == core.FlagErroneousAction {
				linked++
			}
		}
		fmt.Fprintf(w, "%d periods; %d error markers, %d linked to an action\n", len(p.Periods), len(p.Flags), linked)
	}
	if len(p.Diagnostics.Unbound) > 0 {
		fmt.Fprintf(w, "columns not in header: %v\n", p.Diagnostics.Unbound)
	}
	writeDiagnostics(w, "skipped", p.Diagnostics.Skipped)
	writeDiagnostics(w, "warning", p.Diagnostics.Warnings)
}

func writeDiagnostics(w io.Writer, kind string, errs []core.DecodeError) {
	for i, e := range errs {
		if i == maxSummaryLines {
			fmt.Fprintf(w, "  ... %d more %s entries\n", len(errs)-i, kind)
			return
		}
		fmt.Fprintf(w, "  %s row %d (line %d): %s\n", kind, e.Row, e.Line, describe(e))
	}
}

func describe(e core.DecodeError) string {
	msg := string(e.Reason)
	if e.Column != "" {
		msg += " in " + e.Column
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	return msg
}
