// go test github.com/homemade/fdtickets/tickets -v
package tickets

import (
	"testing"
	"time"
)

func TestSchema_Observe(t *testing.T) {
	schema := NewSchema(Column{Name: "id", Type: ColumnInteger}, Column{Name: "subject", Type: ColumnString})

	added := schema.Observe(Row{
		"id":        int64(1),
		"subject":   "a",
		"zeta":      true,
		"alpha":     1.5,
		"closed_at": time.Now(),
	})
	expected := []Column{
		{Name: "alpha", Type: ColumnFloat},
		{Name: "closed_at", Type: ColumnTimestamp},
		{Name: "zeta", Type: ColumnBoolean},
	}
	if len(added) != len(expected) {
		t.Fatalf("Expected %v but have %v", expected, added)
	}
	for i := range expected {
		if added[i] != expected[i] {
			t.Errorf("Expected %v at %d but have %v", expected[i], i, added[i])
		}
	}
	if schema.Len() != 5 || !schema.Has("zeta") {
		t.Errorf("Expected 5 columns including zeta but have %d", schema.Len())
	}

	if again := schema.Observe(Row{"id": int64(2), "alpha": "text now"}); len(again) != 0 {
		t.Errorf("Expected no new columns but have %v", again)
	}
	if schema.Columns()[2].Type != ColumnFloat {
		t.Error("Expected a column to keep the type it was first seen with")
	}
}

func TestSchema_Values(t *testing.T) {
	schema := NewSchema(Column{Name: "id", Type: ColumnInteger}, Column{Name: "subject", Type: ColumnString})
	schema.Observe(Row{"extra": "x"})

	values := schema.Values(Row{"id": int64(9), "extra": "y"})
	if len(values) != 3 || values[0] != int64(9) || values[1] != nil || values[2] != "y" {
		t.Errorf("Expected [9 <nil> y] but have %v", values)
	}
}

func TestSchema_ColumnsIsACopy(t *testing.T) {
	schema := NewSchema(Column{Name: "id", Type: ColumnInteger})
	columns := schema.Columns()
	columns[0].Name = "changed"
	if schema.Columns()[0].Name != "id" {
		t.Error("Expected Columns to return a copy")
	}
}

func TestColumnType_String(t *testing.T) {
	names := map[ColumnType]string{
		ColumnString:    "string",
		ColumnInteger:   "bigint",
		ColumnFloat:     "double",
		ColumnBoolean:   "boolean",
		ColumnTimestamp: "date",
	}
	for columnType, want := range names {
		if have := columnType.String(); have != want {
			t.Errorf("Expected %s but have %s", want, have)
		}
	}
}

func TestSchema_NullDoesNotPinType(t *testing.T) {
	schema := NewSchema(Column{Name: "id", Type: ColumnInteger})

	if added := schema.Observe(Row{"id": int64(1), "custom_fields_cf_score": nil, "custom_fields_cf_note": nil}); len(added) != 0 {
		t.Errorf("Expected null values to add no columns but have %v", added)
	}
	if schema.Has("custom_fields_cf_score") {
		t.Error("Expected a null-only column to stay pending")
	}

	added := schema.Observe(Row{"id": int64(2), "custom_fields_cf_score": int64(42), "custom_fields_cf_note": nil})
	if len(added) != 1 || added[0] != (Column{Name: "custom_fields_cf_score", Type: ColumnInteger}) {
		t.Errorf("Expected cf_score to be declared bigint but have %v", added)
	}

	settled := schema.Settle()
	if len(settled) != 1 || settled[0] != (Column{Name: "custom_fields_cf_note", Type: ColumnString}) {
		t.Errorf("Expected cf_note to settle as string but have %v", settled)
	}
	if len(schema.Settle()) != 0 {
		t.Error("Expected nothing left to settle")
	}
}
