package tickets

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// State is a step of the ingestion state machine.
type State string

const (
	StateInit       State = "INIT"
	StateFetching   State = "FETCHING"
	StateFiltering  State = "FILTERING"
	StateFlattening State = "FLATTENING"
	StateEmitting   State = "EMITTING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// DatasetWriter receives the output stream. WriteSchema is called before the
// first row and again, with the full column list, each time the schema grows.
// Rows are aligned to the most recently declared schema.
type DatasetWriter interface {
	WriteSchema(columns []Column) error
	WriteRow(values []any) error
}

// RunState is the process-local progress of one run.
type RunState struct {
	RunID           string
	State           State
	Cursor          Cursor
	PagesFetched    int
	TicketsFetched  int
	TicketsFiltered int
	TicketsSkipped  int
	RowsEmitted     int
	LastError       error
}

// Settings are the validated recipe parameters the pipeline runs with.
type Settings struct {
	Statuses             StatusSet
	Endpoint             Endpoint
	PageSize             int
	IncludeConversations bool
	ExtraColumns         map[string]string
}

// Pipeline drives fetch, filter, flatten and emit for one run.
type Pipeline struct {
	settings Settings
	client   *Client
	writer   DatasetWriter
	logger   *slog.Logger
	state    RunState
}

func NewPipeline(settings Settings, client *Client, writer DatasetWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		settings: settings,
		client:   client,
		writer:   writer,
		logger:   WithComponent(logger, "pipeline"),
	}
}

// State returns a snapshot of the run's progress.
func (p *Pipeline) State() RunState {
	return p.state
}

// Run fetches every page from the first one. On failure rows already emitted
// stay written and the returned error is a *RunError.
func (p *Pipeline) Run(ctx context.Context) (RunState, error) {
	p.state = RunState{RunID: uuid.NewString(), State: StateInit}
	p.logger = p.logger.With("run", p.state.RunID)

	if p.settings.Statuses.Empty() {
		return p.fail(&ConfigError{Key: "ticketStatuses", Reason: "at least one status is required"})
	}
	if p.client == nil || p.writer == nil {
		return p.fail(&ConfigError{Key: "pipeline", Reason: "client and dataset writer are required"})
	}

	p.logger.Info("starting ticket retrieval",
		"statuses", p.settings.Statuses.Statuses(),
		"endpoint", p.settings.Endpoint,
		"conversations", p.settings.IncludeConversations)

	filter := StatusFilter{Set: p.settings.Statuses}
	flattener := NewFlattener(p.settings.ExtraColumns, p.settings.IncludeConversations)
	schema := NewSchema(flattener.Columns()...)
	schemaDeclared := false
	paginator := NewPaginator(p.client, PageQuery{
		Endpoint: p.settings.Endpoint,
		Statuses: p.settings.Statuses,
		PageSize: p.settings.PageSize,
	})

	for {
		p.state.State = StateFetching
		page, ok, err := paginator.Next(ctx)
		p.state.Cursor = paginator.Cursor()
		if err != nil {
			return p.fail(err)
		}
		if !ok {
			break
		}
		p.state.PagesFetched++
		p.state.TicketsFetched += len(page.Tickets)

		for i, raw := range page.Tickets {
			p.state.State = StateFiltering
			if err := checkTicketShape(raw); err != nil {
				p.skip(page.Number, i, err)
				continue
			}
			if !filter.Passes(raw) {
				p.state.TicketsFiltered++
				continue
			}

			p.state.State = StateFlattening
			row, err := flattener.Flatten(raw)
			if err != nil {
				var shape *PayloadShapeError
				if errors.As(err, &shape) {
					p.skip(page.Number, i, shape)
					continue
				}
				return p.fail(err)
			}
			if p.settings.IncludeConversations {
				conversations, err := p.conversationsOrEmpty(ctx, raw.Get("id").Int())
				if err != nil {
					return p.fail(err)
				}
				row[conversationsColumn] = conversations
			}

			p.state.State = StateEmitting
			if added := schema.Observe(row); len(added) > 0 || !schemaDeclared {
				if len(added) > 0 && schemaDeclared {
					p.logger.Info("schema extended", "columns", columnNames(added))
				}
				if err := p.writer.WriteSchema(schema.Columns()); err != nil {
					return p.fail(err)
				}
				schemaDeclared = true
			}
			if err := p.writer.WriteRow(schema.Values(row)); err != nil {
				return p.fail(err)
			}
			p.state.RowsEmitted++
		}
	}

	// columns that were null on every ticket, and the known columns of an
	// empty result, are still declared
	if settled := schema.Settle(); len(settled) > 0 || !schemaDeclared {
		if len(settled) > 0 {
			p.logger.Info("schema extended", "columns", columnNames(settled))
		}
		if err := p.writer.WriteSchema(schema.Columns()); err != nil {
			return p.fail(err)
		}
	}

	p.state.State = StateDone
	p.logger.Info("tickets successfully written",
		"pages", p.state.PagesFetched,
		"fetched", p.state.TicketsFetched,
		"filtered", p.state.TicketsFiltered,
		"skipped", p.state.TicketsSkipped,
		"rows", p.state.RowsEmitted)
	return p.state, nil
}

// checkTicketShape rejects tickets the status filter cannot judge.
func checkTicketShape(raw gjson.Result) error {
	if !raw.IsObject() {
		return &PayloadShapeError{Reason: "ticket is not a JSON object"}
	}
	if raw.Get("status").Type != gjson.Number {
		return &PayloadShapeError{Reason: "ticket has no numeric status"}
	}
	return nil
}

func (p *Pipeline) skip(page, index int, err error) {
	var shape *PayloadShapeError
	if errors.As(err, &shape) {
		shape.Page = page
		shape.Index = index
	}
	p.logger.Warn("skipping ticket", "page", page, "index", index, "error", err)
	p.state.TicketsSkipped++
}

func (p *Pipeline) fail(err error) (RunState, error) {
	runErr := &RunError{
		RunID:          p.state.RunID,
		State:          p.state.State,
		PagesFetched:   p.state.PagesFetched,
		TicketsFetched: p.state.TicketsFetched,
		RowsEmitted:    p.state.RowsEmitted,
		Err:            err,
	}
	p.state.State = StateFailed
	p.state.LastError = runErr

	level := slog.LevelError
	if errors.Is(err, ErrInvalidConfiguration) {
		level = slogLevelCritical
	}
	p.logger.Log(context.Background(), level, "ticket retrieval failed",
		"state", runErr.State,
		"pages", runErr.PagesFetched,
		"rows", runErr.RowsEmitted,
		"error", err)
	return p.state, runErr
}

func columnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}
