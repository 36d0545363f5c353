package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Deriver enriches a decoded event using any cell of the row, including
// columns the schema does not declare. lookup returns the cleaned cell text.
type Deriver func(lookup func(column string) (string, bool), ev *ActionEvent)

// Schema is the column contract for one export layout, independent of the
// decoder mechanics.
type Schema struct {
	Key      string      // Unique identifier: "generic", "dashboard"
	Label    string      // Display name
	Fields   []FieldSpec // Declared columns
	Derivers []Deriver   // Run in order on every accepted event

	// Derived lists metric keys the Derivers produce.
	Derived []string

	// DefaultMetric is plotted when the caller does not name one.
	DefaultMetric string
}

// Field returns the first FieldSpec with the given role.
func (s Schema) Field(role FieldRole) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Role == role {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the declared header names in order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// WithMetrics returns a copy of the schema that also declares the named
// metric columns. Names already declared (by header, metric key or deriver)
// are skipped.
func (s Schema) WithMetrics(names ...string) Schema {
	out := s
	out.Fields = append([]FieldSpec(nil), s.Fields...)

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if out.declares(name) {
			continue
		}
		out.Fields = append(out.Fields, FieldSpec{
			Name: name,
			Role: RoleMetric,
			Type: FieldNumeric,
		})
	}
	return out
}

func (s Schema) declares(name string) bool {
	for _, d := range s.Derived {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
		if f.Role == RoleMetric && strings.EqualFold(f.MetricKey(), name) {
			return true
		}
	}
	return false
}

var (
	registry   = make(map[string]Schema)
	registryMu sync.RWMutex
)

// Register adds a schema to the registry.
// Panics if a schema with the same key is already registered.
func Register(s Schema) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[s.Key]; exists {
		panic(fmt.Sprintf("schema already registered: %s", s.Key))
	}
	registry[s.Key] = s
}

// Get returns a schema by key.
func Get(key string) (Schema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	s, ok := registry[strings.ToLower(key)]
	return s, ok
}

// Keys returns all registered schema keys, sorted.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	Register(GenericSchema())
	Register(DashboardSchema())
}

// GenericSchema is the minimal layout: timestamp, actor and action type.
// Metric columns are added per run with WithMetrics.
func GenericSchema() Schema {
	return Schema{
		Key:   "generic",
		Label: "Generic action export",
		Fields: []FieldSpec{
			{Name: "timestamp", Aliases: []string{"time", "ts"}, Role: RoleTimestamp, Type: FieldTimestamp, Required: true},
			{Name: "actor", Aliases: []string{"actor_id", "player", "username"}, Role: RoleActor, Type: FieldText},
			{Name: "action_type", Aliases: []string{"action"}, Role: RoleActionType, Type: FieldText, Required: true},
		},
		DefaultMetric: "score",
	}
}
