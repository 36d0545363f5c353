package core

import (
	"fmt"
	"strings"
	"time"
)

// FieldType represents the expected data type for a CSV column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldTimestamp
	FieldNumeric
)

// FieldRole says what a column contributes to an ActionEvent.
type FieldRole int

const (
	RoleIgnored FieldRole = iota
	RoleTimestamp
	RoleActor
	RoleActionType
	RoleMetric
)

// FieldSpec defines decoding rules for a single CSV column.
type FieldSpec struct {
	Name       string              // Column header name (matched case-insensitively)
	Aliases    []string            // Alternate header names, tried in order after Name
	Role       FieldRole           // What the column feeds
	Type       FieldType           // Expected data type
	Required   bool                // Column must exist in CSV header
	Metric     string              // Metric key for RoleMetric columns (defaults to lowercased Name)
	Fallback   string              // Column consulted when this cell is empty
	Normalizer func(string) string // Optional transformation applied to non-empty cells
}

// MetricKey returns the key under which a metric column is stored in ActionEvent.Metrics.
func (f FieldSpec) MetricKey() string {
	if f.Metric != "" {
		return f.Metric
	}
	return strings.ToLower(strings.TrimSpace(f.Name))
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// RawRow is one CSV record as field text. Fields are positioned per the header
// row the Decoder was bound to.
type RawRow struct {
	Row    int // 1-based data-row index, header excluded
	Line   int // Physical line in the source (1-based, header is line 1)
	Fields []string
}

// ActionEvent is a validated, typed action record. It is immutable once
// returned by the Decoder.
type ActionEvent struct {
	Timestamp  time.Time
	ActorID    string
	ActionType string
	Category   string
	Metrics    map[string]float64
	Row        int

	// Set by schema derivers. Generic schemas leave Kind empty.
	Kind      EventKind
	Parent    string // Enclosing label, e.g. the dashboard's Action/Vital Name
	Stage     int    // 0 when the row carries no stage label
	StageName string
	Marker    *MarkerInfo // Error-marker and missed-action rows only
}

// EventKind classifies a row for the timeline pass that runs after folding.
type EventKind string

const (
	KindNone          EventKind = ""
	KindAction        EventKind = "action"
	KindStageBoundary EventKind = "stage_boundary"
	KindCPRStart      EventKind = "cpr_start"
	KindCPREnd        EventKind = "cpr_end"
	KindErrorMarker   EventKind = "error_marker"
	KindMissedAction  EventKind = "missed_action"
	KindOther         EventKind = "other"
)

// ActionPoint reports whether the row is a performed action that an error
// marker may point at.
func (k EventKind) ActionPoint() bool {
	return k == KindAction || k == KindCPRStart || k == KindCPREnd
}

// MarkerInfo is what an error-marker row says about the action it flags.
type MarkerInfo struct {
	Target    string // Parent label of the flagged action
	Rule      string
	Violation string
	Advice    string
}

// Metric returns the named metric and whether the event carries it.
func (e ActionEvent) Metric(name string) (float64, bool) {
	v, ok := e.Metrics[name]
	return v, ok
}

// ReasonCode classifies why a row or cell was rejected.
type ReasonCode string

const (
	ReasonMissingField     ReasonCode = "missing_field"
	ReasonInvalidTimestamp ReasonCode = "invalid_timestamp"
	ReasonTypeMismatch     ReasonCode = "type_mismatch"
	ReasonOutOfRange       ReasonCode = "out_of_range"
	ReasonMalformedRecord  ReasonCode = "malformed_record"
)

// DecodeError describes a row-local failure. Row is the 1-based data-row index
// (header excluded); Line is the physical source line for reproduction.
type DecodeError struct {
	Row     int        `json:"row"`
	Line    int        `json:"line,omitempty"`
	Column  string     `json:"column,omitempty"`
	Reason  ReasonCode `json:"reason"`
	Value   string     `json:"value,omitempty"`
	Message string     `json:"message"`
}

func (e *DecodeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// DecodeResult is the outcome of decoding one RawRow.
type DecodeResult struct {
	Event   ActionEvent
	Err     *DecodeError  // Non-nil when the row was rejected
	Dropped []DecodeError // Metric cells dropped from an otherwise valid row
}

// OK reports whether the row produced an event.
func (r DecodeResult) OK() bool {
	return r.Err == nil
}

// GroupMode selects how events are bucketed into series.
type GroupMode string

const (
	GroupByAction      GroupMode = "action"
	GroupByActor       GroupMode = "actor"
	GroupByActorAction GroupMode = "actor_action"
	GroupByCategory    GroupMode = "category"
)

// ParseGroupMode validates a grouping mode name. Empty selects GroupByAction.
func ParseGroupMode(s string) (GroupMode, error) {
	switch GroupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByAction:
		return GroupByAction, nil
	case GroupByActor:
		return GroupByActor, nil
	case GroupByActorAction:
		return GroupByActorAction, nil
	case GroupByCategory:
		return GroupByCategory, nil
	}
	return "", fmt.Errorf("unknown group mode %q (use action, actor, actor_action or category)", s)
}

// SeriesKey identifies one chart trace. Only the fields relevant to the
// grouping mode are set, so keys compare equal within a mode.
type SeriesKey struct {
	Actor    string `json:"actor,omitempty"`
	Action   string `json:"action,omitempty"`
	Category string `json:"category,omitempty"`
}

// KeyFor derives the SeriesKey of an event under the given mode.
func KeyFor(mode GroupMode, ev ActionEvent) SeriesKey {
	switch mode {
	case GroupByActor:
		return SeriesKey{Actor: ev.ActorID}
	case GroupByActorAction:
		return SeriesKey{Actor: ev.ActorID, Action: ev.ActionType}
	case GroupByCategory:
		return SeriesKey{Category: ev.Category}
	default:
		return SeriesKey{Action: ev.ActionType}
	}
}

// Label renders the key for legends and axis names.
func (k SeriesKey) Label() string {
	var parts []string
	if k.Actor != "" {
		parts = append(parts, k.Actor)
	}
	if k.Action != "" {
		parts = append(parts, k.Action)
	}
	if k.Category != "" {
		parts = append(parts, k.Category)
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " / ")
}

// Point is one plotted value.
type Point struct {
	X   time.Time
	Y   float64
	Row int
}

// Series is an ordered sequence of points for one SeriesKey.
type Series struct {
	Key    SeriesKey
	Label  string
	Metric string
	Points []Point
}

// GroupStats holds per-key counters, including keys with no plotted points.
type GroupStats struct {
	Key    SeriesKey
	Label  string
	Events int
	Points int
}

// Stats summarizes a processing run.
type Stats struct {
	Rows     int // Data rows read (blank rows excluded)
	Blank    int // Fully empty rows skipped
	Accepted int // Rows decoded into events
	Rejected int // Rows that produced a DecodeError
	Filtered int // Accepted events excluded by filters
	Dropped  int // Individual metric cells dropped
}
