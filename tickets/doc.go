package tickets

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
)

// ColumnDocRow describes one column of the dataset.
type ColumnDocRow struct {
	Column     string
	Type       ColumnType
	Builtin    bool   // fixed Freshdesk column rather than an extra column
	SourcePath string // gjson path on the raw ticket
	Notes      string
}

// ColumnDocumentation lists the columns a run with the given settings
// declares up front. Custom fields are discovered at run time and are
// summarised by a single row.
type ColumnDocumentation struct {
	Statuses []Status
	Rows     []ColumnDocRow
}

// DocumentColumns documents the columns produced for settings.
func DocumentColumns(settings Settings) ColumnDocumentation {
	doc := ColumnDocumentation{Statuses: settings.Statuses.Statuses()}

	for _, field := range knownFields {
		doc.Rows = append(doc.Rows, ColumnDocRow{
			Column:     field.Column,
			Type:       field.Type,
			Builtin:    true,
			SourcePath: field.Path,
		})
	}
	if settings.IncludeConversations {
		doc.Rows = append(doc.Rows, ColumnDocRow{
			Column:     conversationsColumn,
			Type:       ColumnString,
			Builtin:    true,
			SourcePath: "(conversations endpoint)",
			Notes:      "JSON array of " + strings.Join(conversationKeys, ", "),
		})
	}
	doc.Rows = append(doc.Rows, ColumnDocRow{
		Column:     columnName(customFieldsPath) + "_*",
		Type:       ColumnString,
		Builtin:    true,
		SourcePath: customFieldsPath + ".*",
		Notes:      "One column per custom field, typed by the first non-null value",
	})

	var extras []ColumnDocRow
	for name, path := range settings.ExtraColumns {
		extras = append(extras, extraColumnDoc(columnName(name), path))
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Column < extras[j].Column })
	doc.Rows = append(doc.Rows, extras...)

	return doc
}

func extraColumnDoc(column, value string) ColumnDocRow {
	row := ColumnDocRow{Column: column, Type: ColumnString}
	if len(value) >= 2 && value[0] == '`' && value[len(value)-1] == '`' {
		row.SourcePath = "(static)"
		row.Notes = fmt.Sprintf("Always %q", value[1:len(value)-1])
		return row
	}
	parts := strings.Split(value, "|")
	row.SourcePath = parts[0]
	var notes []string
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "@") {
			notes = append(notes, modifierNote(part))
		}
	}
	row.Notes = strings.Join(notes, "; ")
	return row
}

func modifierNote(modifier string) string {
	name, arg, _ := strings.Cut(strings.TrimPrefix(modifier, "@"), ":")
	switch name {
	case "statusName", "priorityName", "sourceName":
		return "Freshdesk code rendered as its label"
	case "ticketURL":
		return "Agent portal link under " + arg
	case "hasTag":
		return fmt.Sprintf("True when tagged %q", arg)
	case "atLeast":
		return "True when at least " + arg
	case "phone":
		return fmt.Sprintf("Phone number in E.164 (default +%s)", arg)
	case "countryName":
		return "Country code rendered as a country name"
	default:
		return "Uses " + modifier
	}
}

// FormatCSV renders the documentation as CSV.
func (d ColumnDocumentation) FormatCSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	statuses := make([]string, len(d.Statuses))
	for i, s := range d.Statuses {
		statuses[i] = s.String()
	}
	if err := writer.Write([]string{"# Statuses: " + strings.Join(statuses, "/")}); err != nil {
		return "", err
	}
	if err := writer.Write([]string{"Column", "Type", "Built-in", "Source Path", "Notes"}); err != nil {
		return "", err
	}
	for _, row := range d.Rows {
		builtin := ""
		if row.Builtin {
			builtin = "yes"
		}
		if err := writer.Write([]string{row.Column, row.Type.String(), builtin, row.SourcePath, row.Notes}); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
