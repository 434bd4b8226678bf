package database

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/nexus-db/schemasync/pkg/errors"
)

// QueryResult is the handle of one executed statement: an open row cursor
// or the outcome of a write. It is single-consumer.
type QueryResult struct {
	db     *Database
	sql    string
	rows   *sql.Rows
	result sql.Result
	freed  bool
}

// SQL returns the statement that produced the result.
func (r *QueryResult) SQL() string { return r.sql }

// HasRows reports whether the statement produced a cursor.
func (r *QueryResult) HasRows() bool { return r.rows != nil }

// LastInsertID returns the id generated by an insert.
func (r *QueryResult) LastInsertID() (int64, error) {
	if r.result == nil {
		return 0, errors.Semantics("Statement did not write: {sql}").WithVar("sql", r.sql)
	}
	return r.result.LastInsertId()
}

// AffectedRows returns the number of rows changed by a write.
func (r *QueryResult) AffectedRows() (int64, error) {
	if r.result == nil {
		return 0, errors.Semantics("Statement did not write: {sql}").WithVar("sql", r.sql)
	}
	return r.result.RowsAffected()
}

// Iterator returns a cursor over the rows. The cursor frees the result
// when it is exhausted or closed.
func (r *QueryResult) Iterator() *ResultIterator {
	return &ResultIterator{result: r}
}

// All reads every remaining row and frees the result.
func (r *QueryResult) All() ([]Row, error) {
	it := r.Iterator()
	defer it.Close()
	var out []Row
	for it.Next() {
		out = append(out, it.Row())
	}
	return out, it.Err()
}

// Free releases the cursor. Calling it more than once is harmless.
func (r *QueryResult) Free() error {
	if r.freed {
		return nil
	}
	r.freed = true
	if r.rows != nil {
		return r.rows.Close()
	}
	return nil
}

// ResultIterator is a lazy, single-pass cursor over a QueryResult. It is
// not safe for concurrent use.
type ResultIterator struct {
	result  *QueryResult
	columns []string
	row     Row
	index   int
	err     error
	done    bool
}

// Next advances to the next row.
func (it *ResultIterator) Next() bool {
	if it.done || it.result == nil || it.result.rows == nil || it.result.freed {
		it.done = true
		return false
	}
	rows := it.result.rows
	if it.columns == nil {
		cols, err := rows.Columns()
		if err != nil {
			it.fail(err)
			return false
		}
		it.columns = cols
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			it.err = err
		}
		it.Close()
		return false
	}
	values := make([]interface{}, len(it.columns))
	ptrs := make([]interface{}, len(it.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		it.fail(err)
		return false
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	it.row = Row{columns: it.columns, values: values}
	it.index++
	return true
}

func (it *ResultIterator) fail(err error) {
	it.err = err
	it.Close()
}

// Row returns the current row.
func (it *ResultIterator) Row() Row { return it.row }

// Index is the 1-based position of the current row.
func (it *ResultIterator) Index() int { return it.index }

// Columns returns the column names once Next has been called.
func (it *ResultIterator) Columns() []string { return it.columns }

// Err returns the error that stopped iteration, if any.
func (it *ResultIterator) Err() error { return it.err }

// Close frees the underlying result.
func (it *ResultIterator) Close() error {
	it.done = true
	if it.result == nil {
		return nil
	}
	return it.result.Free()
}

// Row is one result row with ordered columns. Text and blob values are
// returned as strings.
type Row struct {
	columns []string
	values  []interface{}
}

// NewRow builds a row; columns and values must have equal length.
func NewRow(columns []string, values []interface{}) Row {
	return Row{columns: columns, values: values}
}

func (r Row) Columns() []string      { return append([]string(nil), r.columns...) }
func (r Row) Values() []interface{} { return append([]interface{}(nil), r.values...) }
func (r Row) Len() int               { return len(r.values) }

// At returns the value at position i.
func (r Row) At(i int) (interface{}, error) {
	if i < 0 || i >= len(r.values) {
		return nil, errors.KeyNotFound("column", strconv.Itoa(i), r.columns)
	}
	return r.values[i], nil
}

// Get returns the named value.
func (r Row) Get(name string) (interface{}, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Value returns a value by position when field is numeric, else by name.
func (r Row) Value(field string) (interface{}, error) {
	if n, err := strconv.Atoi(field); err == nil {
		return r.At(n)
	}
	if v, ok := r.Get(field); ok {
		return v, nil
	}
	return nil, errors.KeyNotFound("column", field, r.columns)
}

// String returns the named value as text, or "" when absent or NULL.
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	return toString(v)
}

// Map returns the row keyed by column.
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
