package core

import (
	"encoding/csv"
	"fmt"
	"io"
)

// EncodeRow renders an event in the schema's column layout. Decoding the
// output with the same schema yields an equal event for every field the
// schema maps losslessly. Ignored columns are left empty.
func EncodeRow(s Schema, ev ActionEvent) []string {
	row := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		switch f.Role {
		case RoleTimestamp:
			row[i] = FormatTimestamp(ev.Timestamp)
		case RoleActor:
			row[i] = ev.ActorID
		case RoleActionType:
			row[i] = ev.ActionType
		case RoleMetric:
			if v, ok := ev.Metrics[f.MetricKey()]; ok {
				row[i] = FormatMetric(v)
			}
		}
	}
	return row
}

// WriteEvents writes a header followed by one encoded row per event.
func WriteEvents(w io.Writer, s Schema, events []ActionEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Columns()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(EncodeRow(s, ev)); err != nil {
			return fmt.Errorf("write row %d: %w", ev.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
