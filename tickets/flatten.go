package tickets

import (
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
)

// knownField maps a gjson path on the raw ticket to a fixed column.
type knownField struct {
	Column string
	Path   string
	Type   ColumnType
}

var knownFields = []knownField{
	{"id", "id", ColumnInteger},
	{"subject", "subject", ColumnString},
	{"status", "status", ColumnInteger},
	{"priority", "priority", ColumnInteger},
	{"source", "source", ColumnInteger},
	{"type", "type", ColumnString},
	{"requester_id", "requester_id", ColumnInteger},
	{"requester_name", "requester.name", ColumnString},
	{"requester_email", "requester.email", ColumnString},
	{"requester_phone", "requester.phone", ColumnString},
	{"requester_mobile", "requester.mobile", ColumnString},
	{"responder_id", "responder_id", ColumnInteger},
	{"group_id", "group_id", ColumnInteger},
	{"company_id", "company_id", ColumnInteger},
	{"product_id", "product_id", ColumnInteger},
	{"spam", "spam", ColumnBoolean},
	{"is_escalated", "is_escalated", ColumnBoolean},
	{"fr_escalated", "fr_escalated", ColumnBoolean},
	{"tags", "tags", ColumnString},
	{"cc_emails", "cc_emails", ColumnString},
	{"due_by", "due_by", ColumnTimestamp},
	{"fr_due_by", "fr_due_by", ColumnTimestamp},
	{"description_text", "description_text", ColumnString},
	{"created_at", "created_at", ColumnTimestamp},
	{"updated_at", "updated_at", ColumnTimestamp},
}

const (
	customFieldsPath    = "custom_fields"
	conversationsColumn = "conversations"
)

// Flattener turns raw tickets into rows. It holds only configuration, so
// flattening the same ticket twice gives the same row.
type Flattener struct {
	extraColumns  map[string]string
	conversations bool
}

// NewFlattener configures derived columns (column name to gjson path, or a
// backtick-quoted static string) and whether a conversations column is added.
func NewFlattener(extraColumns map[string]string, conversations bool) *Flattener {
	extras := make(map[string]string, len(extraColumns))
	for name, path := range extraColumns {
		extras[columnName(name)] = path
	}
	return &Flattener{extraColumns: extras, conversations: conversations}
}

// Columns returns the fixed part of the schema.
func (f *Flattener) Columns() []Column {
	result := make([]Column, 0, len(knownFields)+1)
	for _, field := range knownFields {
		result = append(result, Column{Name: field.Column, Type: field.Type})
	}
	if f.conversations {
		result = append(result, Column{Name: conversationsColumn, Type: ColumnString})
	}
	return result
}

// Flatten maps one raw ticket to a row.
func (f *Flattener) Flatten(raw gjson.Result) (Row, error) {
	if !raw.IsObject() {
		return nil, &PayloadShapeError{Reason: "ticket is not a JSON object"}
	}
	if id := raw.Get("id"); id.Type != gjson.Number {
		return nil, &PayloadShapeError{Reason: "ticket has no numeric id"}
	}

	row := make(Row, len(knownFields)+len(f.extraColumns))
	for _, field := range knownFields {
		row[field.Column] = valueAs(raw.Get(field.Path), field.Type)
	}

	if custom := raw.Get(customFieldsPath); custom.IsObject() {
		flattenObject(row, columnName(customFieldsPath), custom)
	}

	for name, path := range f.extraColumns {
		if len(path) >= 2 && path[0] == '`' && path[len(path)-1] == '`' {
			row[name] = path[1 : len(path)-1]
			continue
		}
		row[name] = inferValue(raw.Get(path))
	}

	return row, nil
}

// flattenObject writes every leaf of obj as prefix_key, recursing into nested objects.
func flattenObject(row Row, prefix string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := prefix + "_" + columnName(key.String())
		if value.IsObject() {
			flattenObject(row, name, value)
		} else {
			row[name] = inferValue(value)
		}
		return true
	})
}

// columnName normalises a source key into a snake_case column name.
// reservedColumn reports whether name belongs to the fixed columns or to the
// custom fields namespace.
func reservedColumn(name string) bool {
	if name == conversationsColumn || strings.HasPrefix(name, columnName(customFieldsPath)+"_") {
		return true
	}
	for _, field := range knownFields {
		if field.Column == name {
			return true
		}
	}
	return false
}

func columnName(key string) string {
	return strcase.ToSnake(strings.TrimSpace(key))
}

// valueAs converts v to the declared column type, falling back to a string
// when the payload does not match.
func valueAs(v gjson.Result, t ColumnType) any {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	switch t {
	case ColumnInteger, ColumnFloat:
		if v.Type == gjson.Number {
			return numberValue(v)
		}
	case ColumnBoolean:
		if v.Type == gjson.True || v.Type == gjson.False {
			return v.Bool()
		}
	case ColumnTimestamp:
		if v.Type == gjson.String {
			if ts, ok := parseTimestamp(v.Str); ok {
				return ts
			}
		}
	case ColumnString:
		if v.Type == gjson.String {
			return v.Str
		}
	}
	return coerceString(v)
}

// inferValue keeps the JSON type of a discovered value: numbers, booleans and
// date-like strings keep their meaning, anything else becomes a string.
func inferValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return numberValue(v)
	case gjson.True, gjson.False:
		return v.Bool()
	case gjson.String:
		if ts, ok := parseTimestamp(v.Str); ok {
			return ts
		}
		return v.Str
	default:
		if !v.Exists() {
			return nil
		}
		return coerceString(v)
	}
}

func numberValue(v gjson.Result) any {
	f := v.Float()
	if f == float64(int64(f)) && !strings.ContainsAny(v.Raw, ".eE") {
		return v.Int()
	}
	return f
}

func coerceString(v gjson.Result) any {
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02"}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func typeOfValue(v any) ColumnType {
	switch v.(type) {
	case int64:
		return ColumnInteger
	case float64:
		return ColumnFloat
	case bool:
		return ColumnBoolean
	case time.Time:
		return ColumnTimestamp
	default:
		return ColumnString
	}
}
