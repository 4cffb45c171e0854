package tickets

import (
	"maps"
	"slices"
)

// ColumnType is the semantic type of a dataset column.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInteger
	ColumnFloat
	ColumnBoolean
	ColumnTimestamp
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInteger:
		return "bigint"
	case ColumnFloat:
		return "double"
	case ColumnBoolean:
		return "boolean"
	case ColumnTimestamp:
		return "date"
	default:
		return "string"
	}
}

// Column is one entry of the output schema.
type Column struct {
	Name string
	Type ColumnType
}

// Row maps column names to scalar values: int64, float64, bool, string,
// time.Time or nil.
type Row map[string]any

// Schema is the run's column set. It only grows; columns keep the position
// they were first seen at. A discovered column whose values so far were all
// null stays pending, so its type comes from the first real value.
type Schema struct {
	columns []Column
	index   map[string]int
	pending map[string]struct{}
}

// NewSchema starts a schema from the fixed columns.
func NewSchema(columns ...Column) *Schema {
	s := &Schema{index: make(map[string]int), pending: make(map[string]struct{})}
	for _, c := range columns {
		s.add(c)
	}
	return s
}

func (s *Schema) add(c Column) bool {
	if _, exists := s.index[c.Name]; exists {
		return false
	}
	delete(s.pending, c.Name)
	s.index[c.Name] = len(s.columns)
	s.columns = append(s.columns, c)
	return true
}

// Observe adds the row's unseen non-null columns in name order and returns
// them. Types of new columns come from the value that introduced them.
func (s *Schema) Observe(row Row) []Column {
	var added []Column
	for _, name := range slices.Sorted(maps.Keys(row)) {
		if _, exists := s.index[name]; exists {
			continue
		}
		if row[name] == nil {
			s.pending[name] = struct{}{}
			continue
		}
		c := Column{Name: name, Type: typeOfValue(row[name])}
		s.add(c)
		added = append(added, c)
	}
	return added
}

// Settle declares the columns that never carried a value as strings, in name
// order, and returns them.
func (s *Schema) Settle() []Column {
	var added []Column
	for _, name := range slices.Sorted(maps.Keys(s.pending)) {
		c := Column{Name: name, Type: ColumnString}
		s.add(c)
		added = append(added, c)
	}
	return added
}

// Columns returns a copy of the current columns.
func (s *Schema) Columns() []Column {
	result := make([]Column, len(s.columns))
	copy(result, s.columns)
	return result
}

func (s *Schema) Len() int { return len(s.columns) }

func (s *Schema) Has(name string) bool {
	_, exists := s.index[name]
	return exists
}

// Values aligns row to the schema. Columns the row lacks are nil.
func (s *Schema) Values(row Row) []any {
	result := make([]any, len(s.columns))
	for i, c := range s.columns {
		if v, exists := row[c.Name]; exists {
			result[i] = v
		}
	}
	return result
}
