package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

type queryOptions struct {
	args   []interface{}
	noID   bool
	noLog  bool
	noRows bool
}

// QueryOption modifies a single query.
type QueryOption func(*queryOptions)

// Args binds placeholder arguments.
func Args(args ...interface{}) QueryOption {
	return func(o *queryOptions) { o.args = append(o.args, args...) }
}

// WithoutID skips fetching the last insert id.
func WithoutID() QueryOption { return func(o *queryOptions) { o.noID = true } }

// WithoutLog skips query timing for this statement.
func WithoutLog() QueryOption { return func(o *queryOptions) { o.noLog = true } }

// Exec forces the statement to run without reading rows.
func Exec() QueryOption { return func(o *queryOptions) { o.noRows = true } }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (d *Database) execer() (execer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return d.tx, nil
	}
	if d.pool == nil {
		return nil, d.notConnected()
	}
	return d.pool.DB(), nil
}

var rowKeywords = map[string]bool{
	"select": true, "show": true, "pragma": true, "describe": true, "desc": true,
	"explain": true, "with": true, "values": true,
}

// returnsRows decides between QueryContext and ExecContext.
func returnsRows(sql string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	if rowKeywords[strings.ToLower(fields[0])] {
		return true
	}
	return strings.Contains(strings.ToUpper(sql), " RETURNING ")
}

// Query runs one statement. Statements that produce rows return a result
// holding the open cursor; free it or iterate it to the end.
func (d *Database) Query(ctx context.Context, sql string, options ...QueryOption) (*QueryResult, error) {
	var opts queryOptions
	for _, o := range options {
		o(&opts)
	}
	if strings.TrimSpace(d.Dialect().RemoveComments(sql)) == "" {
		return &QueryResult{db: d, sql: sql}, nil
	}
	ex, err := d.execer()
	if err != nil {
		return nil, err
	}
	timed := (d.opts.Log || d.opts.Debug) && !opts.noLog
	var start time.Time
	if timed {
		start = d.queryLog.Start()
	}
	result := &QueryResult{db: d, sql: sql}
	if returnsRows(sql) && !opts.noRows {
		result.rows, err = ex.QueryContext(ctx, sql, opts.args...)
	} else {
		result.result, err = ex.ExecContext(ctx, sql, opts.args...)
	}
	if timed {
		d.queryLog.End(sql, opts.args, start, err)
	}
	if err != nil {
		return nil, d.translate(err, sql)
	}
	return result, nil
}

// translate maps a driver error to its kind; unknown errors are
// SQLExceptions carrying the statement.
func (d *Database) translate(err error, sql string) error {
	if kinded := d.engine.TranslateError(err); kinded != nil {
		return kinded.WithSQL(sql)
	}
	return errors.Wrap(errors.KindSQLException, err, "Query failed on {database}").
		WithVar("database", d.codeName).WithSQL(sql)
}

// Queries runs statements in order and stops at the first failure.
func (d *Database) Queries(ctx context.Context, statements []string, options ...QueryOption) ([]*QueryResult, error) {
	results := make([]*QueryResult, 0, len(statements))
	for _, sql := range statements {
		r, err := d.Query(ctx, sql, options...)
		if err != nil {
			return results, err
		}
		r.Free()
		results = append(results, r)
	}
	return results, nil
}

// Iterate runs a query and returns a cursor over its rows.
func (d *Database) Iterate(ctx context.Context, sql string, options ...QueryOption) (*ResultIterator, error) {
	r, err := d.Query(ctx, sql, options...)
	if err != nil {
		return nil, err
	}
	return r.Iterator(), nil
}

// QueryRow fetches exactly one row; zero rows is a NoResults error.
func (d *Database) QueryRow(ctx context.Context, sql string, options ...QueryOption) (Row, error) {
	it, err := d.Iterate(ctx, sql, options...)
	if err != nil {
		return Row{}, err
	}
	defer it.Close()
	if !it.Next() {
		if err := it.Err(); err != nil {
			return Row{}, d.translate(err, sql)
		}
		return Row{}, errors.New(errors.KindNoResults, "No results from {database}").
			WithVar("database", d.codeName).WithSQL(sql)
	}
	return it.Row(), nil
}

// QueryOne fetches one row and returns field from it. A numeric field is a
// column position, anything else a column name.
func (d *Database) QueryOne(ctx context.Context, sql, field string, options ...QueryOption) (interface{}, error) {
	row, err := d.QueryRow(ctx, sql, options...)
	if err != nil {
		return nil, err
	}
	return row.Value(field)
}

// QueryInteger returns the first column of the first row as an integer.
func (d *Database) QueryInteger(ctx context.Context, sql string, options ...QueryOption) (int64, error) {
	v, err := d.QueryOne(ctx, sql, "0", options...)
	if err != nil {
		return 0, err
	}
	return toInt64(v)
}

// QueryArray returns field from every row; an empty field means the first
// column.
func (d *Database) QueryArray(ctx context.Context, sql, field string, options ...QueryOption) ([]interface{}, error) {
	if field == "" {
		field = "0"
	}
	rows, err := d.QueryRows(ctx, sql, options...)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		v, err := row.Value(field)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryStrings is QueryArray with values rendered as strings.
func (d *Database) QueryStrings(ctx context.Context, sql, field string, options ...QueryOption) ([]string, error) {
	values, err := d.QueryArray(ctx, sql, field, options...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = toString(v)
	}
	return out, nil
}

// QueryMap keys valueField by keyField across all rows.
func (d *Database) QueryMap(ctx context.Context, sql, keyField, valueField string, options ...QueryOption) (map[string]interface{}, error) {
	rows, err := d.QueryRows(ctx, sql, options...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		k, err := row.Value(keyField)
		if err != nil {
			return nil, err
		}
		v, err := row.Value(valueField)
		if err != nil {
			return nil, err
		}
		out[toString(k)] = v
	}
	return out, nil
}

// QueryRows reads every row.
func (d *Database) QueryRows(ctx context.Context, sql string, options ...QueryOption) ([]Row, error) {
	r, err := d.Query(ctx, sql, options...)
	if err != nil {
		return nil, err
	}
	rows, err := r.All()
	if err != nil {
		return nil, d.translate(err, sql)
	}
	return rows, nil
}

// Insert inserts a row and returns its id.
func (d *Database) Insert(ctx context.Context, table string, values dialects.Where, options ...QueryOption) (int64, error) {
	return d.insert(ctx, table, values, dialects.InsertOptions{}, options)
}

// Replace inserts or replaces a row and returns its id.
func (d *Database) Replace(ctx context.Context, table string, values dialects.Where, options ...QueryOption) (int64, error) {
	return d.insert(ctx, table, values, dialects.InsertOptions{Verb: "REPLACE"}, options)
}

func (d *Database) insert(ctx context.Context, table string, values dialects.Where, io dialects.InsertOptions, options []QueryOption) (int64, error) {
	var opts queryOptions
	for _, o := range options {
		o(&opts)
	}
	sql, err := d.Dialect().Insert(table, values, io)
	if err != nil {
		return 0, err
	}
	r, err := d.Query(ctx, sql, append(options, Exec())...)
	if err != nil {
		return 0, err
	}
	defer r.Free()
	if opts.noID {
		return 0, nil
	}
	id, err := r.LastInsertID()
	if err != nil {
		return 0, errors.Wrap(errors.KindUnsupported, err, "{engine} did not report an insert id").
			WithVar("engine", d.EngineName()).WithSuggestion("Pass database.WithoutID()")
	}
	return id, nil
}

// Update runs an UPDATE and returns the affected row count.
func (d *Database) Update(ctx context.Context, opts dialects.UpdateOptions, options ...QueryOption) (int64, error) {
	sql, err := d.Dialect().Update(opts)
	if err != nil {
		return 0, err
	}
	return d.affected(ctx, sql, options)
}

// Delete runs a DELETE and returns the affected row count.
func (d *Database) Delete(ctx context.Context, table string, where dialects.Where, opts dialects.DeleteOptions, options ...QueryOption) (int64, error) {
	sql, err := d.Dialect().Delete(table, where, opts)
	if err != nil {
		return 0, err
	}
	return d.affected(ctx, sql, options)
}

func (d *Database) affected(ctx context.Context, sql string, options []QueryOption) (int64, error) {
	r, err := d.Query(ctx, sql, append(options, Exec())...)
	if err != nil {
		return 0, err
	}
	defer r.Free()
	return r.AffectedRows()
}

// SelectOne runs a select limited to one row and returns field.
func (d *Database) SelectOne(ctx context.Context, sel dialects.SelectOptions, field string, options ...QueryOption) (interface{}, error) {
	sel.Limit = 1
	sql, err := d.Dialect().Select(sel)
	if err != nil {
		return nil, err
	}
	return d.QueryOne(ctx, sql, field, options...)
}

// Select runs a select and reads every row.
func (d *Database) Select(ctx context.Context, sel dialects.SelectOptions, options ...QueryOption) ([]Row, error) {
	sql, err := d.Dialect().Select(sel)
	if err != nil {
		return nil, err
	}
	return d.QueryRows(ctx, sql, options...)
}

// TransactionStart begins a transaction; queries run on it until
// TransactionEnd.
func (d *Database) TransactionStart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return d.notConnected()
	}
	if d.tx != nil {
		return errors.Semantics("Transaction already in progress on {database}").WithVar("database", d.codeName)
	}
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return d.translate(err, "BEGIN")
	}
	d.tx = tx
	return nil
}

// TransactionEnd commits when success is true and rolls back otherwise.
func (d *Database) TransactionEnd(success bool) error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx == nil {
		return errors.Semantics("No transaction in progress on {database}").WithVar("database", d.codeName)
	}
	if success {
		if err := tx.Commit(); err != nil {
			return d.translate(err, "COMMIT")
		}
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return d.translate(err, "ROLLBACK")
	}
	return nil
}

// InTransaction reports whether a transaction is open.
func (d *Database) InTransaction() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tx != nil
}

// Transaction runs fn in a transaction, committing when it returns nil.
func (d *Database) Transaction(ctx context.Context, fn func() error) error {
	if err := d.TransactionStart(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := d.TransactionEnd(false); rbErr != nil {
			d.logger.Log(logging.LevelError, "Rollback failed", logging.Fields{"database": d.codeName, "error": rbErr})
		}
		return err
	}
	return d.TransactionEnd(true)
}

// GetLock takes a named advisory lock, waiting up to wait. A lock still
// held elsewhere when wait expires is a TimeoutExpired error.
func (d *Database) GetLock(ctx context.Context, name string, wait time.Duration) error {
	if !d.Connected() {
		return d.notConnected()
	}
	if err := d.engine.GetLock(ctx, d, name, wait); err != nil {
		return err
	}
	d.mu.Lock()
	d.locks[name] = true
	d.mu.Unlock()
	return nil
}

// ReleaseLock releases a lock taken with GetLock. Releasing a lock this
// database does not hold is a Semantics error.
func (d *Database) ReleaseLock(ctx context.Context, name string) error {
	d.mu.Lock()
	held := d.locks[name]
	d.mu.Unlock()
	if !held {
		return errors.Semantics("Lock {name} is not held by {database}").
			WithVar("name", name).WithVar("database", d.codeName)
	}
	if err := d.engine.ReleaseLock(ctx, d, name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.locks, name)
	d.mu.Unlock()
	return nil
}

// HeldLocks lists the lock names held through GetLock.
func (d *Database) HeldLocks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.locks))
	for name := range d.locks {
		names = append(names, name)
	}
	return names
}

// TableStatements classifies each statement of a script.
func (d *Database) TableStatements(script string) []schema.Statement {
	parser := d.Parser()
	var out []schema.Statement
	for _, sql := range parser.SplitSQLStatements(script) {
		out = append(out, parser.ParseSQL(sql))
	}
	return out
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, errors.Wrap(errors.KindSemantics, err, "Value {value} is not an integer").WithVar("value", x)
		}
		return n, nil
	case nil:
		return 0, nil
	}
	return 0, errors.Semantics("Value of type %T is not an integer", v)
}
