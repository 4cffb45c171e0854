// Package dataset holds the dataset writers the ticket pipeline streams rows into.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/sjson"

	"github.com/homemade/fdtickets/tickets"
)

// JSONLWriter writes one JSON object per row, keys in schema order.
// Columns added mid-run are simply absent from earlier lines.
type JSONLWriter struct {
	out     *bufio.Writer
	closers []io.Closer
	columns []tickets.Column
}

// NewJSONLWriter wraps w. Close flushes but does not close w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{out: bufio.NewWriter(w)}
}

// CreateJSONLFile creates (or truncates) path, gzip-compressed when compress is set.
func CreateJSONLFile(path string, compress bool) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset file %w", err)
	}
	if !compress {
		w := NewJSONLWriter(f)
		w.closers = []io.Closer{f}
		return w, nil
	}
	zw := gzip.NewWriter(f)
	w := NewJSONLWriter(zw)
	w.closers = []io.Closer{zw, f}
	return w, nil
}

func (w *JSONLWriter) WriteSchema(columns []tickets.Column) error {
	if len(columns) < len(w.columns) {
		return fmt.Errorf("schema cannot shrink from %d to %d columns", len(w.columns), len(columns))
	}
	w.columns = columns
	return nil
}

func (w *JSONLWriter) WriteRow(values []any) error {
	if len(values) != len(w.columns) {
		return fmt.Errorf("row has %d values for %d columns", len(values), len(w.columns))
	}
	line := []byte("{}")
	var err error
	for i, c := range w.columns {
		key := escapePath(c.Name)
		switch v := values[i].(type) {
		case nil:
			line, err = sjson.SetRawBytes(line, key, []byte("null"))
		case time.Time:
			line, err = sjson.SetBytes(line, key, v.UTC().Format(time.RFC3339))
		default:
			line, err = sjson.SetBytes(line, key, v)
		}
		if err != nil {
			return fmt.Errorf("failed to encode column %s %w", c.Name, err)
		}
	}
	if _, err = w.out.Write(line); err != nil {
		return err
	}
	return w.out.WriteByte('\n')
}

func (w *JSONLWriter) Close() error {
	errs := []error{w.out.Flush()}
	for _, c := range w.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// escapePath makes a column name a literal sjson key.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
