package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/homemade/fdtickets/tickets"
)

const driver = "sqlite"

// SQLiteWriter writes rows into a single table that is recreated on open,
// since every run is a full refetch.
type SQLiteWriter struct {
	db      *sql.DB
	table   string
	columns []tickets.Column
	insert  *sql.Stmt
	ctx     context.Context
}

// OpenSQLite opens the database at path and drops any previous table.
func OpenSQLite(ctx context.Context, path, table string) (*SQLiteWriter, error) {
	if table == "" {
		table = "tickets"
	}
	db, err := sql.Open(driver, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps statement order equal to row order
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return &SQLiteWriter{db: db, table: table, ctx: ctx}, nil
}

func sqliteDSN(path string) string {
	values := url.Values{}
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	return fmt.Sprintf("file:%s?%s", path, values.Encode())
}

// WriteSchema creates the table on the first call and adds the new trailing
// columns on later calls.
func (w *SQLiteWriter) WriteSchema(columns []tickets.Column) error {
	if len(columns) < len(w.columns) {
		return fmt.Errorf("schema cannot shrink from %d to %d columns", len(w.columns), len(columns))
	}
	for i, c := range w.columns {
		if columns[i].Name != c.Name {
			return fmt.Errorf("column %d changed from %s to %s", i, c.Name, columns[i].Name)
		}
	}

	if len(w.columns) == 0 {
		defs := make([]string, len(columns))
		for i, c := range columns {
			defs[i] = quoteIdent(c.Name) + " " + sqlType(c.Type)
		}
		stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(w.table), strings.Join(defs, ", "))
		if _, err := w.db.ExecContext(w.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", w.table, err)
		}
	} else {
		for _, c := range columns[len(w.columns):] {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(w.table), quoteIdent(c.Name), sqlType(c.Type))
			if _, err := w.db.ExecContext(w.ctx, stmt); err != nil {
				return fmt.Errorf("failed to add column %s: %w", c.Name, err)
			}
		}
	}

	if w.insert != nil {
		w.insert.Close()
		w.insert = nil
	}
	w.columns = append([]tickets.Column(nil), columns...)
	return nil
}

func (w *SQLiteWriter) WriteRow(values []any) error {
	if len(values) != len(w.columns) {
		return fmt.Errorf("row has %d values for %d columns", len(values), len(w.columns))
	}
	if w.insert == nil {
		names := make([]string, len(w.columns))
		marks := make([]string, len(w.columns))
		for i, c := range w.columns {
			names[i] = quoteIdent(c.Name)
			marks[i] = "?"
		}
		stmt, err := w.db.PrepareContext(w.ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(w.table), strings.Join(names, ", "), strings.Join(marks, ", ")))
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		w.insert = stmt
	}
	args := make([]any, len(values))
	for i, v := range values {
		if t, ok := v.(time.Time); ok {
			args[i] = t.UTC().Format(time.RFC3339)
			continue
		}
		args[i] = v
	}
	if _, err := w.insert.ExecContext(w.ctx, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

func (w *SQLiteWriter) Close() error {
	if w.insert != nil {
		w.insert.Close()
	}
	return w.db.Close()
}

func sqlType(t tickets.ColumnType) string {
	switch t {
	case tickets.ColumnInteger, tickets.ColumnBoolean:
		return "INTEGER"
	case tickets.ColumnFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
