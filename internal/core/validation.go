package core

// validation.go binds a schema to a CSV header row.
//
// Header problems are fatal for the whole input: without a timestamp and an
// action-type column no row can produce an event. Optional columns that are
// absent are reported back so the caller can log them, and every row then
// decodes as if those cells were empty.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingHeader is returned when the input has no header record.
	ErrMissingHeader = errors.New("missing header row")

	// ErrMalformedHeader is returned when the header record cannot be parsed.
	ErrMalformedHeader = errors.New("malformed header row")

	// ErrMissingColumns is returned when required columns are absent from the header.
	ErrMissingColumns = errors.New("missing required columns")
)

// HeaderError describes a header that cannot be bound to a schema.
type HeaderError struct {
	Schema  string
	Missing []string
	Err     error
}

func (e *HeaderError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema %s: %v: %s", e.Schema, e.Err, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema %s: %v", e.Schema, e.Err)
}

func (e *HeaderError) Unwrap() error { return e.Err }

// Binding is the resolved column layout for one header row.
type Binding struct {
	Schema    Schema
	Header    []string
	Index     HeaderIndex
	positions []int // per Schema.Fields entry, -1 when absent
	fallbacks []int // per Schema.Fields entry, -1 when none
	Unbound   []string
}

// BindHeader validates that all required columns exist in the CSV header and
// resolves every declared field to its position. Optional columns that are
// absent are listed in Unbound.
func BindHeader(header []string, s Schema) (*Binding, error) {
	if len(header) == 0 || isEmptyRow(header) {
		return nil, &HeaderError{Schema: s.Key, Err: ErrMissingHeader}
	}

	b := &Binding{
		Schema:    s,
		Header:    header,
		Index:     MakeHeaderIndex(header),
		positions: make([]int, len(s.Fields)),
		fallbacks: make([]int, len(s.Fields)),
	}

	var missing []string
	for i, f := range s.Fields {
		b.positions[i] = b.lookup(f.Name, f.Aliases...)
		b.fallbacks[i] = -1
		if f.Fallback != "" {
			b.fallbacks[i] = b.lookup(f.Fallback)
		}

		if b.positions[i] >= 0 {
			continue
		}
		if f.Required && b.fallbacks[i] < 0 {
			missing = append(missing, f.Name)
			continue
		}
		if b.fallbacks[i] < 0 {
			b.Unbound = append(b.Unbound, f.Name)
		}
	}

	if len(missing) > 0 {
		return nil, &HeaderError{Schema: s.Key, Missing: missing, Err: ErrMissingColumns}
	}
	return b, nil
}

func (b *Binding) lookup(name string, aliases ...string) int {
	if pos, ok := b.Index[strings.ToLower(strings.TrimSpace(name))]; ok {
		return pos
	}
	for _, a := range aliases {
		if pos, ok := b.Index[strings.ToLower(strings.TrimSpace(a))]; ok {
			return pos
		}
	}
	return -1
}

// Cell returns the cleaned cell for any header column, declared or not.
func (b *Binding) Cell(fields []string, column string) (string, bool) {
	pos, ok := b.Index[strings.ToLower(strings.TrimSpace(column))]
	if !ok || pos >= len(fields) {
		return "", false
	}
	return CleanCell(fields[pos]), true
}

// field returns the cleaned cell for the i-th schema field, consulting the
// fallback column when the primary cell is absent or empty. present reports
// whether any column for the field exists in this record.
func (b *Binding) field(fields []string, i int) (value string, column string, present bool) {
	f := b.Schema.Fields[i]
	if pos := b.positions[i]; pos >= 0 && pos < len(fields) {
		value, column, present = CleanCell(fields[pos]), f.Name, true
		if value != "" {
			return value, column, true
		}
	}
	if pos := b.fallbacks[i]; pos >= 0 && pos < len(fields) {
		if fb := CleanCell(fields[pos]); fb != "" {
			return fb, f.Fallback, true
		}
		present = true
	}
	return value, f.Name, present
}
