package core

import (
	"errors"
	"fmt"
	"time"
)

// Decoder turns RawRows into ActionEvents for one bound header.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	binding     *Binding
	sessionDate time.Time

	timestamp  int
	actor      int
	actionType int
	metrics    []int
}

// NewDecoder binds schema to the header row. Clock-only timestamps are
// anchored to sessionDate.
func NewDecoder(s Schema, header []string, sessionDate time.Time) (*Decoder, error) {
	b, err := BindHeader(header, s)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		binding:     b,
		sessionDate: sessionDate,
		timestamp:   -1,
		actor:       -1,
		actionType:  -1,
	}
	for i, f := range s.Fields {
		switch f.Role {
		case RoleTimestamp:
			if d.timestamp < 0 {
				d.timestamp = i
			}
		case RoleActor:
			if d.actor < 0 {
				d.actor = i
			}
		case RoleActionType:
			if d.actionType < 0 {
				d.actionType = i
			}
		case RoleMetric:
			d.metrics = append(d.metrics, i)
		}
	}
	if d.timestamp < 0 || d.actionType < 0 {
		return nil, fmt.Errorf("schema %s declares no timestamp or action type column", s.Key)
	}
	return d, nil
}

// Binding returns the resolved header layout.
func (d *Decoder) Binding() *Binding {
	return d.binding
}

// Decode validates one record. It never panics: every failure is reported in
// the result.
func (d *Decoder) Decode(raw RawRow) DecodeResult {
	fields := d.binding.Schema.Fields

	ts, tsCol, ok := d.binding.field(raw.Fields, d.timestamp)
	if !ok || ts == "" {
		return d.reject(raw, tsCol, ReasonMissingField, ts, "timestamp is empty or missing")
	}
	when, err := ParseTimestamp(ts, d.sessionDate)
	if err != nil {
		if errors.Is(err, errOutOfRange) {
			return d.reject(raw, tsCol, ReasonOutOfRange, ts, "timestamp out of range")
		}
		return d.reject(raw, tsCol, ReasonInvalidTimestamp, ts, "unrecognized timestamp format")
	}

	action, actionCol, ok := d.binding.field(raw.Fields, d.actionType)
	if ok && action != "" {
		if norm := fields[d.actionType].Normalizer; norm != nil {
			action = norm(action)
		}
	}
	if !ok || action == "" {
		return d.reject(raw, actionCol, ReasonMissingField, "", "action type is empty or missing")
	}

	ev := ActionEvent{
		Timestamp:  when,
		ActionType: action,
		Category:   action,
		Metrics:    make(map[string]float64, len(d.metrics)),
		Row:        raw.Row,
	}

	if d.actor >= 0 {
		actor, _, _ := d.binding.field(raw.Fields, d.actor)
		if norm := fields[d.actor].Normalizer; norm != nil && actor != "" {
			actor = norm(actor)
		}
		ev.ActorID = actor
	}

	var result DecodeResult
	for _, i := range d.metrics {
		f := fields[i]
		cell, col, _ := d.binding.field(raw.Fields, i)
		v, ok, err := ParseMetric(cell)
		switch {
		case errors.Is(err, errOutOfRange):
			result.Dropped = append(result.Dropped, d.dropped(raw, col, ReasonOutOfRange, cell, "metric out of range"))
		case err != nil:
			result.Dropped = append(result.Dropped, d.dropped(raw, col, ReasonTypeMismatch, cell, "metric is not numeric"))
		case ok:
			ev.Metrics[f.MetricKey()] = v
		}
	}

	if len(d.binding.Schema.Derivers) > 0 {
		lookup := func(column string) (string, bool) {
			return d.binding.Cell(raw.Fields, column)
		}
		for _, derive := range d.binding.Schema.Derivers {
			derive(lookup, &ev)
		}
	}

	result.Event = ev
	return result
}

func (d *Decoder) reject(raw RawRow, column string, reason ReasonCode, value, msg string) DecodeResult {
	e := d.dropped(raw, column, reason, value, msg)
	return DecodeResult{Err: &e}
}

func (d *Decoder) dropped(raw RawRow, column string, reason ReasonCode, value, msg string) DecodeError {
	return DecodeError{
		Row:     raw.Row,
		Line:    raw.Line,
		Column:  column,
		Reason:  reason,
		Value:   value,
		Message: msg,
	}
}

// MalformedRecord builds the DecodeError for a record the CSV reader could not parse.
func MalformedRecord(row, line int, err error) DecodeError {
	return DecodeError{
		Row:     row,
		Line:    line,
		Reason:  ReasonMalformedRecord,
		Message: err.Error(),
	}
}
