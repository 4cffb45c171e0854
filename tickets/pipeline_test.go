// go test github.com/homemade/fdtickets/tickets -v
package tickets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// memoryWriter keeps every schema declaration and row in memory.
type memoryWriter struct {
	schemas [][]Column
	rows    [][]any
}

func (w *memoryWriter) WriteSchema(columns []Column) error {
	w.schemas = append(w.schemas, columns)
	return nil
}

func (w *memoryWriter) WriteRow(values []any) error {
	w.rows = append(w.rows, values)
	return nil
}

func (w *memoryWriter) column(name string) int {
	latest := w.schemas[len(w.schemas)-1]
	for i, c := range latest {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (w *memoryWriter) values(name string) []any {
	i := w.column(name)
	result := make([]any, len(w.rows))
	for r, row := range w.rows {
		if i >= 0 && i < len(row) {
			result[r] = row[i]
		}
	}
	return result
}

func testSettings(codes ...int) Settings {
	statuses, _ := NewStatusSet(codes...)
	return Settings{Statuses: statuses, Endpoint: EndpointList, PageSize: 100}
}

func runPipeline(t *testing.T, desk *fakeDesk, settings Settings) (*memoryWriter, RunState, error) {
	t.Helper()
	srv := httptest.NewServer(desk)
	t.Cleanup(srv.Close)
	writer := &memoryWriter{}
	p := NewPipeline(settings, newTestClient(srv, &recordingSleeper{}), writer, NewLogger(io.Discard, LevelDebug))
	state, err := p.Run(context.Background())
	return writer, state, err
}

func TestPipeline_EmptyStatusSetMakesNoRequests(t *testing.T) {
	desk := &fakeDesk{tickets: cycleTickets(10)}
	writer, state, err := runPipeline(t, desk, Settings{Endpoint: EndpointList})

	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("Expected ErrInvalidConfiguration but have %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.State != StateInit {
		t.Errorf("Expected a RunError raised in INIT but have %v", err)
	}
	if state.State != StateFailed {
		t.Errorf("Expected FAILED but have %s", state.State)
	}
	if n := len(desk.Requests()); n != 0 {
		t.Errorf("Expected no HTTP calls but have %d", n)
	}
	if len(writer.schemas) != 0 || len(writer.rows) != 0 {
		t.Error("Expected nothing written")
	}
}

func TestPipeline_FiltersInOrder(t *testing.T) {
	desk := &fakeDesk{tickets: cycleTickets(250)}
	writer, state, err := runPipeline(t, desk, testSettings(3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if state.State != StateDone {
		t.Errorf("Expected DONE but have %s", state.State)
	}
	if state.PagesFetched != 3 || state.TicketsFetched != 250 {
		t.Errorf("Expected 3 pages and 250 tickets but have %d and %d", state.PagesFetched, state.TicketsFetched)
	}
	// statuses cycle 2,3,4,5 so half of the tickets pass
	if state.RowsEmitted != 125 || len(writer.rows) != 125 || state.TicketsFiltered != 125 {
		t.Fatalf("Expected 125 rows and 125 filtered but have %d rows and %d filtered", len(writer.rows), state.TicketsFiltered)
	}
	var previous int64
	for _, v := range writer.values("id") {
		id := v.(int64)
		if id <= previous {
			t.Fatalf("Expected ascending ids but have %d after %d", id, previous)
		}
		previous = id
	}
	for _, v := range writer.values("status") {
		if s := v.(int64); s != 2 && s != 3 {
			t.Fatalf("Expected only statuses 2 and 3 but have %d", s)
		}
	}
	if len(writer.schemas) != 1 {
		t.Errorf("Expected a single schema declaration but have %d", len(writer.schemas))
	}
}

func TestPipeline_NoMatchingTickets(t *testing.T) {
	desk := &fakeDesk{tickets: cycleTickets(3)}
	writer, state, err := runPipeline(t, desk, testSettings(5))
	if err != nil {
		t.Fatal(err)
	}
	if state.RowsEmitted != 0 || len(writer.rows) != 0 {
		t.Errorf("Expected no rows but have %d", len(writer.rows))
	}
	if len(writer.schemas) != 1 || writer.column("id") != 0 {
		t.Error("Expected the known columns to be declared for an empty dataset")
	}
}

func TestPipeline_SkipsMalformedTickets(t *testing.T) {
	desk := &fakeDesk{tickets: []string{
		ticketJSON(1, 2),
		`"not a ticket"`,
		`{"id":3,"subject":"no status"}`,
		`{"subject":"no id","status":2}`,
		ticketJSON(5, 2),
	}}
	writer, state, err := runPipeline(t, desk, testSettings(2))
	if err != nil {
		t.Fatal(err)
	}
	if state.TicketsSkipped != 3 {
		t.Errorf("Expected 3 skipped tickets but have %d", state.TicketsSkipped)
	}
	ids := writer.values("id")
	if len(ids) != 2 || ids[0] != int64(1) || ids[1] != int64(5) {
		t.Errorf("Expected tickets 1 and 5 but have %v", ids)
	}
}

func TestPipeline_FailureKeepsEmittedRows(t *testing.T) {
	desk := &fakeDesk{tickets: cycleTickets(250), failPage: 2, failStatus: http.StatusUnauthorized}
	writer, state, err := runPipeline(t, desk, testSettings(2, 3, 4, 5))

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Expected RunError but have %v", err)
	}
	var rejected *RequestRejectedError
	if !errors.As(err, &rejected) || rejected.Status != http.StatusUnauthorized {
		t.Errorf("Expected the rejected request to be wrapped but have %v", err)
	}
	if runErr.State != StateFetching || runErr.PagesFetched != 1 || runErr.RowsEmitted != 100 {
		t.Errorf("Expected failure while fetching after 1 page and 100 rows but have %s, %d, %d",
			runErr.State, runErr.PagesFetched, runErr.RowsEmitted)
	}
	if len(writer.rows) != 100 {
		t.Errorf("Expected the first page to stay written but have %d rows", len(writer.rows))
	}
	if state.State != StateFailed || state.LastError == nil {
		t.Errorf("Expected FAILED with the last error recorded but have %s", state.State)
	}
}

func TestPipeline_ExtendsSchema(t *testing.T) {
	desk := &fakeDesk{tickets: []string{
		ticketJSON(1, 2),
		`{"id":2,"status":2,"custom_fields":{"cf_region":"EMEA"}}`,
		`{"id":3,"status":2,"custom_fields":{"cf_region":"APAC","cf_tier":"gold"}}`,
	}}
	writer, _, err := runPipeline(t, desk, testSettings(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(writer.schemas) != 3 {
		t.Fatalf("Expected 3 schema declarations but have %d", len(writer.schemas))
	}
	for i := 1; i < len(writer.schemas); i++ {
		if len(writer.schemas[i]) <= len(writer.schemas[i-1]) {
			t.Errorf("Expected schema %d to grow", i)
		}
	}
	if len(writer.rows[0]) != len(writer.schemas[0]) {
		t.Error("Expected the first row to match the first schema")
	}
	region := writer.values("custom_fields_cf_region")
	if region[0] != nil || region[1] != "EMEA" || region[2] != "APAC" {
		t.Errorf("Expected regions nil, EMEA, APAC but have %v", region)
	}
}

func TestPipeline_Conversations(t *testing.T) {
	desk := &fakeDesk{
		tickets: []string{ticketJSON(1, 2), ticketJSON(2, 2)},
		conversations: map[string]string{
			"1": `[{"id":11,"body_text":"Hello","from_email":"a@example.com","updated_at":"2024-01-02T00:00:00Z","private":true}]`,
		},
	}
	settings := testSettings(2)
	settings.IncludeConversations = true
	writer, _, err := runPipeline(t, desk, settings)
	if err != nil {
		t.Fatal(err)
	}
	conversations := writer.values("conversations")
	if len(conversations) != 2 {
		t.Fatalf("Expected 2 rows but have %d", len(conversations))
	}
	first := gjson.Parse(conversations[0].(string))
	if first.Get("#").Int() != 1 || first.Get("0.body_text").String() != "Hello" {
		t.Errorf("Expected the conversation of ticket 1 but have %s", conversations[0])
	}
	if first.Get("0.private").Exists() {
		t.Error("Expected only the kept conversation keys")
	}
	// ticket 2 has no conversations endpoint and gets an empty list
	if conversations[1] != "[]" {
		t.Errorf("Expected [] but have %v", conversations[1])
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(&fakeDesk{tickets: cycleTickets(10)})
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	p := NewPipeline(testSettings(2), newTestClient(srv, &recordingSleeper{}), &memoryWriter{}, NewLogger(io.Discard, LevelInfo))
	_, err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the deadline to stop the run but have %v", err)
	}
}

func TestPipeline_NullCustomFieldKeepsNumericType(t *testing.T) {
	desk := &fakeDesk{tickets: []string{
		`{"id":1,"status":2,"custom_fields":{"cf_score":null,"cf_note":null}}`,
		`{"id":2,"status":2,"custom_fields":{"cf_score":42,"cf_note":null}}`,
	}}
	writer, _, err := runPipeline(t, desk, testSettings(2))
	if err != nil {
		t.Fatal(err)
	}
	latest := writer.schemas[len(writer.schemas)-1]
	types := make(map[string]ColumnType)
	for _, c := range latest {
		types[c.Name] = c.Type
	}
	if types["custom_fields_cf_score"] != ColumnInteger {
		t.Errorf("Expected cf_score as bigint but have %s", types["custom_fields_cf_score"])
	}
	if have, ok := types["custom_fields_cf_note"]; !ok || have != ColumnString {
		t.Errorf("Expected a null-only column to be declared as string but have %v %v", have, ok)
	}
	scores := writer.values("custom_fields_cf_score")
	if scores[0] != nil || scores[1] != int64(42) {
		t.Errorf("Expected scores nil and 42 but have %v", scores)
	}
}
