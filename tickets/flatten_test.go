// go test github.com/homemade/fdtickets/tickets -v
package tickets

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

const testTicket = `{
	"id": 42,
	"subject": "Printer on fire",
	"status": 2,
	"priority": 4,
	"source": 1,
	"type": null,
	"requester_id": 7001,
	"requester": {"id": 7001, "name": "Ada Lovelace", "email": "ada@example.com", "phone": null, "mobile": "+447700900123"},
	"spam": false,
	"tags": ["vip", "hardware"],
	"due_by": "2024-02-01T09:30:00Z",
	"created_at": "2024-01-30T09:30:00Z",
	"updated_at": "2024-01-31T10:00:00.123Z",
	"custom_fields": {
		"cf_region": "EMEA",
		"cf_score": null,
		"cf_contract": {"tier": "gold", "seats": 25},
		"cf_ratio": 0.75
	}
}`

func TestFlattener_KnownFields(t *testing.T) {
	row, err := NewFlattener(nil, false).Flatten(gjson.Parse(testTicket))
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]any{
		"id":              int64(42),
		"subject":         "Printer on fire",
		"status":          int64(2),
		"priority":        int64(4),
		"type":            nil,
		"requester_id":    int64(7001),
		"requester_name":  "Ada Lovelace",
		"requester_email": "ada@example.com",
		"requester_phone": nil,
		"spam":            false,
		"responder_id":    nil,
		"tags":            `["vip", "hardware"]`,
	}
	for column, want := range expected {
		have, exists := row[column]
		if !exists {
			t.Errorf("Expected column %s to be present", column)
			continue
		}
		if !reflect.DeepEqual(have, want) {
			t.Errorf("Expected %s to be %#v but have %#v", column, want, have)
		}
	}
	if created, ok := row["created_at"].(time.Time); !ok || !created.Equal(time.Date(2024, 1, 30, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected created_at as a timestamp but have %#v", row["created_at"])
	}
	if updated, ok := row["updated_at"].(time.Time); !ok || updated.Nanosecond() != 123000000 {
		t.Errorf("Expected updated_at with milliseconds but have %#v", row["updated_at"])
	}
}

func TestFlattener_CustomFields(t *testing.T) {
	row, err := NewFlattener(nil, false).Flatten(gjson.Parse(testTicket))
	if err != nil {
		t.Fatal(err)
	}
	if row["custom_fields_cf_region"] != "EMEA" {
		t.Errorf("Expected EMEA but have %v", row["custom_fields_cf_region"])
	}
	if v, exists := row["custom_fields_cf_score"]; !exists || v != nil {
		t.Errorf("Expected a null custom field to stay as an empty column but have %v %v", v, exists)
	}
	if row["custom_fields_cf_contract_tier"] != "gold" || row["custom_fields_cf_contract_seats"] != int64(25) {
		t.Errorf("Expected nested custom fields to flatten but have %v and %v",
			row["custom_fields_cf_contract_tier"], row["custom_fields_cf_contract_seats"])
	}
	if row["custom_fields_cf_ratio"] != 0.75 {
		t.Errorf("Expected 0.75 but have %v", row["custom_fields_cf_ratio"])
	}
}

func TestFlattener_IsDeterministic(t *testing.T) {
	f := NewFlattener(map[string]string{"sourceSystem": "`freshdesk`"}, false)
	first, err := f.Flatten(gjson.Parse(testTicket))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Flatten(gjson.Parse(testTicket))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected flattening the same ticket twice to give the same row")
	}
}

func TestFlattener_CoercesUnexpectedTypes(t *testing.T) {
	row, err := NewFlattener(nil, false).Flatten(gjson.Parse(`{"id":1,"status":2,"priority":"urgent","spam":"no","due_by":"tomorrow"}`))
	if err != nil {
		t.Fatal(err)
	}
	for column, want := range map[string]string{"priority": "urgent", "spam": "no", "due_by": "tomorrow"} {
		if row[column] != want {
			t.Errorf("Expected %s to fall back to %q but have %#v", column, want, row[column])
		}
	}
}

func TestFlattener_ExtraColumns(t *testing.T) {
	f := NewFlattener(map[string]string{
		"sourceSystem": "`freshdesk`",
		"vip":          "tags|@hasTag:VIP",
		"region":       "custom_fields.cf_region",
		"agent_url":    "id|@ticketURL:http://localhost",
		"escalated":    "priority|@atLeast:3",
		"statusLabel":  "status|@statusName",
	}, false)
	row, err := f.Flatten(gjson.Parse(testTicket))
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]any{
		"source_system": "freshdesk",
		"vip":           true,
		"region":        "EMEA",
		"agent_url":     "http://localhost/a/tickets/42",
		"escalated":     true,
		"status_label":  "Open",
	}
	for column, want := range expected {
		if !reflect.DeepEqual(row[column], want) {
			t.Errorf("Expected %s to be %#v but have %#v", column, want, row[column])
		}
	}
}

func TestFlattener_RejectsNonTickets(t *testing.T) {
	f := NewFlattener(nil, false)
	for _, raw := range []string{`[1,2]`, `"ticket"`, `{"subject":"no id"}`, `{"id":"abc"}`} {
		_, err := f.Flatten(gjson.Parse(raw))
		var shape *PayloadShapeError
		if !errors.As(err, &shape) {
			t.Errorf("Expected PayloadShapeError for %s but have %v", raw, err)
		}
	}
}

func TestFlattener_Columns(t *testing.T) {
	without := NewFlattener(nil, false).Columns()
	with := NewFlattener(nil, true).Columns()
	if len(with) != len(without)+1 || with[len(with)-1].Name != "conversations" {
		t.Error("Expected the conversations column to be appended when enabled")
	}
	if without[0].Name != "id" || without[0].Type != ColumnInteger {
		t.Errorf("Expected id bigint first but have %s %s", without[0].Name, without[0].Type)
	}
}

func TestTicketModifiers(t *testing.T) {
	ticket := `{"status":3,"priority":4,"source":7,"custom_source":101,"tags":["Billing","vip"],"requester":{"phone":null}}`
	cases := map[string]string{
		"status|@statusName":          "Pending",
		"priority|@priorityName":      "Urgent",
		"source|@sourceName":          "Chat",
		"tags|@hasTag:VIP":            "true",
		"tags|@hasTag:hardware":       "false",
		"requester.phone|@hasTag:vip": "false",
		"priority|@atLeast:5":         "false",
	}
	for path, want := range cases {
		if have := gjson.Get(ticket, path).String(); have != want {
			t.Errorf("%s: expected %s but have %s", path, want, have)
		}
	}
	for _, path := range []string{"custom_source|@sourceName", "requester.phone|@phone:44", "subject|@statusName"} {
		if res := gjson.Get(ticket, path); res.Exists() {
			t.Errorf("%s: expected no value but have %s", path, res.Raw)
		}
	}
}

func TestPhoneModifier(t *testing.T) {
	for number, want := range map[string]string{
		"07700 900123":    "+447700900123",
		"+1 202 555 0143": "+12025550143",
	} {
		ticket := `{"requester":{"mobile":` + quote(number) + `}}`
		if have := gjson.Get(ticket, "requester.mobile|@phone:44").String(); have != want {
			t.Errorf("%s: expected %s but have %s", number, want, have)
		}
	}
}

func TestCountryNameModifier(t *testing.T) {
	res := gjson.Parse(`{"country":"DE"}`).Get("country|@countryName")
	if res.String() != "Germany" {
		t.Errorf("Expected Germany but have %s", res.String())
	}
}
