// Package dialects provides the SQL generation contract every database
// engine implements, and the shared generator engines build on.
package dialects

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// SQLDialect defines the interface that all database dialects must implement.
type SQLDialect interface {
	schema.DDL

	// Name returns the engine code name (e.g., "mysql", "sqlite", "postgres").
	Name() string

	QuoteColumn(name string) string
	QuoteTable(name string) string
	QuoteText(text string) string
	UnquoteColumn(name string) string
	UnquoteTable(name string) string

	Select(opts SelectOptions) (string, error)
	Insert(table string, values Where, opts InsertOptions) (string, error)
	InsertSelect(table string, columns []string, sel SelectOptions, opts InsertOptions) (string, error)
	Update(opts UpdateOptions) (string, error)
	Delete(table string, where Where, opts DeleteOptions) (string, error)

	WhereClause(where Where, conjunction, prefix, suffix string) (string, error)
	Where(where Where, conjunction, prefix string) (string, error)
	Having(having Where, conjunction, prefix string) (string, error)
	GroupBy(columns ...string) string
	OrderBy(spec, prefix string) string

	MixedToSQL(v interface{}) string
	TableAs(table, alias string) string
	DatabaseTableAs(database, table, alias string) string
	ColumnAs(column, alias string) string
	ColumnAlias(column, alias string) string
	FunctionMax(target string) string
	FunctionMin(target string) string

	DropTable(table string) ([]string, error)
	AlterTableColumnAdd(t *schema.Table, c *schema.Column) ([]string, error)
	// AlterTableChangeColumn renders a change of column oldName of t to c.
	AlterTableChangeColumn(t *schema.Table, oldName string, c *schema.Column) ([]string, error)
	AlterTableColumnDrop(t *schema.Table, column string) ([]string, error)
	AlterTableType(table, tableType string) ([]string, error)

	RemoveComments(sql string) string
	Now() string
	NowUTC() (string, error)
	SQLFunction(function, member, alias string) (string, error)
}

// Quoter quotes identifiers and text for one engine.
type Quoter interface {
	QuoteColumn(name string) string
	QuoteText(text string) string
	UnquoteColumn(name string) string
}

// Identifier is implemented by values that render as their own SQL id.
type Identifier interface {
	SQLIdentifier() string
}

// LimitStyle selects how offset and limit are rendered.
type LimitStyle int

const (
	// LimitComma renders LIMIT offset,limit.
	LimitComma LimitStyle = iota
	// LimitOffset renders LIMIT limit OFFSET offset.
	LimitOffset
	// LimitStandard is LimitOffset without the LIMIT -1 placeholder when
	// only an offset is given.
	LimitStandard
)

// Base is the shared SQL generator. Engine dialects embed it and override
// the DDL hooks.
type Base struct {
	Quoter Quoter
	Engine string
	Limit  LimitStyle
	// Modifiers enables LOW_PRIORITY and IGNORE on UPDATE and INSERT.
	Modifiers bool
	// Replace enables the REPLACE verb.
	Replace bool
	// Booleans renders bool values as TRUE and FALSE instead of 1 and 0.
	Booleans bool
}

func (b *Base) Name() string                   { return b.Engine }
func (b *Base) QuoteColumn(name string) string { return b.Quoter.QuoteColumn(name) }
func (b *Base) QuoteTable(name string) string  { return b.Quoter.QuoteColumn(name) }
func (b *Base) QuoteText(text string) string   { return b.Quoter.QuoteText(text) }

func (b *Base) UnquoteColumn(name string) string { return b.Quoter.UnquoteColumn(name) }
func (b *Base) UnquoteTable(name string) string  { return b.Quoter.UnquoteColumn(name) }

// QuoteIdentifier quotes each dot-separated part of name with open and
// close, doubling embedded close characters. "*" parts are left bare.
func QuoteIdentifier(name, open, close string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = open + strings.ReplaceAll(p, close, close+close) + close
	}
	return strings.Join(parts, ".")
}

// UnquoteIdentifier reverses QuoteIdentifier for a single part.
func UnquoteIdentifier(name, open, close string) string {
	if len(name) >= 2 && strings.HasPrefix(name, open) && strings.HasSuffix(name, close) {
		return strings.ReplaceAll(name[len(open):len(name)-len(close)], close+close, close)
	}
	return name
}

// SelectOptions describes a SELECT statement.
type SelectOptions struct {
	// What is a raw select list; Columns is used when What is empty.
	What     string
	Columns  []What
	Distinct bool
	// Table is a single table name; Tables is used when Table is empty.
	// The first entry of Tables is the FROM table, the rest are join lines.
	Table  string
	Tables []TableRef

	// Alias names Table in the statement and prefixes undotted Where keys.
	Alias string
	Where Where
	// Conjunction joins the top-level Where terms; AND when empty.
	Conjunction string

	GroupBy []string
	Having  Where
	OrderBy string
	Offset  int
	Limit   int
}

// What is one entry of a select list.
type What struct {
	Column string
	Alias  string
	// Literal emits Column unquoted, as an expression.
	Literal bool
}

// TableRef is a FROM table with alias, or a raw join line.
type TableRef struct {
	Name  string
	Alias string
	Join  string
}

// UpdateOptions describes an UPDATE statement.
type UpdateOptions struct {
	Table  string
	Alias  string
	Values Where
	Where  Where
	// Conjunction joins the top-level Where terms; AND when empty.
	Conjunction string
	LowPriority bool
	Ignore      bool
}

// InsertOptions modifies an INSERT statement.
type InsertOptions struct {
	// Verb is INSERT (default) or REPLACE.
	Verb        string
	LowPriority bool
}

// DeleteOptions modifies a DELETE statement.
type DeleteOptions struct {
	// Truncate turns an unconditional delete into TRUNCATE where supported.
	Truncate bool
}

// Select renders a SELECT statement.
func (b *Base) Select(opts SelectOptions) (string, error) {
	what := opts.What
	if what == "" {
		parts := make([]string, 0, len(opts.Columns))
		for _, w := range opts.Columns {
			switch {
			case w.Literal && w.Alias != "":
				parts = append(parts, w.Column+" AS "+b.QuoteColumn(w.Alias))
			case w.Literal:
				parts = append(parts, w.Column)
			default:
				parts = append(parts, b.ColumnAs(w.Column, w.Alias))
			}
		}
		what = strings.Join(parts, ", ")
	}
	if what == "" {
		return "", errors.Semantics("Need a non-empty what")
	}
	if opts.Distinct {
		what = "DISTINCT " + what
	}

	var tables string
	joined := false
	switch {
	case opts.Table != "":
		tables = b.TableAs(opts.Table, opts.Alias)
	case opts.Tables == nil:
		return "", errors.Semantics("No table supplied")
	case len(opts.Tables) == 0:
		return "", errors.Semantics("Need at least one table")
	default:
		first := opts.Tables[0]
		tables = b.TableAs(first.Name, first.Alias)
		var joins []string
		for _, ref := range opts.Tables[1:] {
			if ref.Join != "" {
				joins = append(joins, ref.Join)
			} else {
				joins = append(joins, ", "+b.TableAs(ref.Name, ref.Alias))
			}
		}
		if len(joins) > 0 {
			tables += "\n" + strings.Join(joins, "\n") + "\n"
			joined = true
		}
	}

	where, err := b.Where(opts.Where, opts.Conjunction, opts.Alias)
	if err != nil {
		return "", err
	}
	if joined {
		where = strings.TrimLeft(where, " ")
	}
	having, err := b.Having(opts.Having, "", "")
	if err != nil {
		return "", err
	}
	sql := "SELECT " + what + " FROM " + tables + where +
		b.GroupBy(opts.GroupBy...) + having + b.OrderBy(opts.OrderBy, "") + b.limit(opts.Offset, opts.Limit)
	return strings.TrimSpace(sql), nil
}

func (b *Base) limit(offset, limit int) string {
	if offset <= 0 && limit <= 0 {
		return ""
	}
	if b.Limit == LimitOffset || b.Limit == LimitStandard {
		switch {
		case offset <= 0:
			return fmt.Sprintf(" LIMIT %d", limit)
		case limit <= 0 && b.Limit == LimitStandard:
			return fmt.Sprintf(" OFFSET %d", offset)
		case limit <= 0:
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		}
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	switch {
	case offset <= 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case limit <= 0:
		return fmt.Sprintf(" LIMIT %d,18446744073709551615", offset)
	}
	return fmt.Sprintf(" LIMIT %d,%d", offset, limit)
}

// Update renders an UPDATE statement. Values keyed "*name" are emitted
// unquoted and unescaped.
func (b *Base) Update(opts UpdateOptions) (string, error) {
	if (opts.LowPriority || opts.Ignore) && !b.Modifiers {
		return "", errors.Unsupported(b.Engine, "UPDATE LOW_PRIORITY/IGNORE")
	}
	if len(opts.Values) == 0 {
		return "", errors.Semantics("No values to update in {table}").WithVar("table", opts.Table)
	}
	verb := "UPDATE "
	if opts.LowPriority {
		verb += "LOW_PRIORITY "
	}
	if opts.Ignore {
		verb += "IGNORE "
	}
	sets := make([]string, 0, len(opts.Values))
	for _, term := range opts.Values {
		if strings.HasPrefix(term.Key, "*") {
			sets = append(sets, term.Key[1:]+" = "+fmt.Sprint(term.Value))
		} else {
			sets = append(sets, b.QuoteColumn(term.Key)+" = "+b.MixedToSQL(term.Value))
		}
	}
	where, err := b.Where(opts.Where, opts.Conjunction, opts.Alias)
	if err != nil {
		return "", err
	}
	sql := verb + b.TableAs(opts.Table, opts.Alias) + " SET\n\t" + strings.Join(sets, ",\n\t") + where
	return strings.TrimSpace(sql), nil
}

// Insert renders an INSERT or REPLACE statement. Keys prefixed with "*"
// insert their value as raw SQL.
func (b *Base) Insert(table string, values Where, opts InsertOptions) (string, error) {
	verb, err := b.insertVerb(opts)
	if err != nil {
		return "", err
	}
	columns := make([]string, 0, len(values))
	sqlValues := make([]string, 0, len(values))
	for _, term := range values {
		if strings.HasPrefix(term.Key, "*") {
			columns = append(columns, b.QuoteColumn(term.Key[1:]))
			sqlValues = append(sqlValues, fmt.Sprint(term.Value))
		} else {
			columns = append(columns, b.QuoteColumn(term.Key))
			sqlValues = append(sqlValues, b.MixedToSQL(term.Value))
		}
	}
	return verb + " INTO " + b.QuoteTable(table) + " (\n\t" + strings.Join(columns, ",\n\t") +
		"\n) VALUES (\n\t" + strings.Join(sqlValues, ",\n\t") + "\n)", nil
}

// InsertSelect renders INSERT INTO table (columns) SELECT ...
func (b *Base) InsertSelect(table string, columns []string, sel SelectOptions, opts InsertOptions) (string, error) {
	verb, err := b.insertVerb(opts)
	if err != nil {
		return "", err
	}
	query, err := b.Select(sel)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = b.QuoteColumn(c)
	}
	return verb + " INTO " + b.QuoteTable(table) + " (" + strings.Join(quoted, ", ") + ")\n" + query, nil
}

func (b *Base) insertVerb(opts InsertOptions) (string, error) {
	verb := strings.ToUpper(strings.TrimSpace(opts.Verb))
	switch verb {
	case "", "INSERT":
		verb = "INSERT"
	case "REPLACE":
		if !b.Replace {
			return "", errors.Unsupported(b.Engine, "REPLACE")
		}
	default:
		return "", errors.Semantics("Invalid insert verb {verb}").WithVar("verb", opts.Verb)
	}
	if opts.LowPriority {
		if !b.Modifiers {
			return "", errors.Unsupported(b.Engine, "INSERT LOW_PRIORITY")
		}
		verb += " LOW_PRIORITY"
	}
	return verb, nil
}

// Delete renders a DELETE statement.
func (b *Base) Delete(table string, where Where, opts DeleteOptions) (string, error) {
	clause, err := b.Where(where, "", "")
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + b.QuoteTable(table) + clause, nil
}

// Where renders " WHERE ..." or "" when the clause is empty.
func (b *Base) Where(where Where, conjunction, prefix string) (string, error) {
	clause, err := b.WhereClause(where, conjunction, prefix, "")
	if err != nil {
		return "", err
	}
	if clause = strings.TrimSpace(clause); clause == "" {
		return "", nil
	}
	return " WHERE " + clause, nil
}

// Having renders " HAVING ..." or "" when the clause is empty.
func (b *Base) Having(having Where, conjunction, prefix string) (string, error) {
	clause, err := b.WhereClause(having, conjunction, prefix, "")
	if err != nil {
		return "", err
	}
	if clause = strings.TrimSpace(clause); clause == "" {
		return "", nil
	}
	return " HAVING " + clause, nil
}

// WhereClause parses where and renders it, appending suffix when set.
func (b *Base) WhereClause(where Where, conjunction, prefix, suffix string) (string, error) {
	if len(where) == 0 {
		return "", nil
	}
	expr, err := ParseWhere(where, conjunction, prefix)
	if err != nil {
		return "", err
	}
	sql := b.Render(expr)
	if suffix != "" {
		sql += " " + suffix
	}
	return sql, nil
}

// GroupBy renders " GROUP BY a, b" or "".
func (b *Base) GroupBy(columns ...string) string {
	var list []string
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	if len(list) == 0 {
		return ""
	}
	return " GROUP BY " + strings.Join(list, ", ")
}

// OrderBy renders " ORDER BY ..." from a ";"-separated list. A leading "-"
// sorts descending; undotted names receive prefix.
func (b *Base) OrderBy(spec, prefix string) string {
	return b.OrderByList(strings.Split(spec, ";"), prefix)
}

// OrderByList is OrderBy for an already split list.
func (b *Base) OrderByList(list []string, prefix string) string {
	var out []string
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		desc := false
		if strings.HasPrefix(item, "-") {
			desc = true
			item = item[1:]
		}
		if prefix != "" && !strings.Contains(item, ".") {
			item = prefix + "." + item
		}
		if desc {
			item += " DESC"
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(out, ", ")
}

// MixedToSQL renders a Go value as a SQL literal.
func (b *Base) MixedToSQL(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		if x == "" {
			return "''"
		}
		return b.QuoteText(x)
	case []byte:
		return b.QuoteText(string(x))
	case bool:
		switch {
		case x && b.Booleans:
			return "TRUE"
		case b.Booleans:
			return "FALSE"
		case x:
			return "1"
		}
		return "0"
	case Identifier:
		return x.SQLIdentifier()
	case time.Time:
		return b.QuoteText(x.Format("2006-01-02 15:04:05"))
	case fmt.Stringer:
		return b.QuoteText(x.String())
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = b.MixedToSQL(rv.Index(i).Interface())
		}
		return "(" + strings.Join(items, ", ") + ")"
	case reflect.Ptr:
		if rv.IsNil() {
			return "NULL"
		}
		return b.MixedToSQL(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "'1e500'"
	case math.IsInf(f, -1):
		return "'-1e500'"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TableAs renders table with an optional alias.
func (b *Base) TableAs(table, alias string) string {
	if alias == "" || alias == table {
		return b.QuoteTable(table)
	}
	return b.QuoteTable(table) + " AS " + b.QuoteTable(alias)
}

// DatabaseTableAs renders database.table with an optional alias.
func (b *Base) DatabaseTableAs(database, table, alias string) string {
	sql := b.QuoteTable(database) + "." + b.QuoteTable(table)
	if alias == "" {
		return sql
	}
	return sql + " AS " + b.QuoteTable(alias)
}

// ColumnAs renders a column with an optional alias.
func (b *Base) ColumnAs(column, alias string) string {
	if alias == "" || alias == column {
		return b.QuoteColumn(column)
	}
	return b.QuoteColumn(column) + " AS " + b.QuoteColumn(alias)
}

// ColumnAlias renders a column qualified by a table alias.
func (b *Base) ColumnAlias(column, alias string) string {
	if alias == "" {
		return b.QuoteColumn(column)
	}
	return b.QuoteColumn(alias) + "." + b.QuoteColumn(column)
}

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (b *Base) FunctionMax(target string) string { return "MAX(" + b.functionTarget(target) + ")" }
func (b *Base) FunctionMin(target string) string { return "MIN(" + b.functionTarget(target) + ")" }

func (b *Base) functionTarget(target string) string {
	if plainIdentifier.MatchString(target) {
		return b.QuoteColumn(target)
	}
	return target
}

var sqlFunctions = map[string]string{
	"min": "MIN", "max": "MAX", "sum": "SUM", "count": "COUNT", "average": "AVG", "stddev": "STDDEV",
	"year": "YEAR", "quarter": "QUARTER", "month": "MONTH", "day": "DAY", "hour": "HOUR", "minute": "MINUTE",
}

// SQLFunction renders an aggregate or date part function over member.
func (b *Base) SQLFunction(function, member, alias string) (string, error) {
	name, ok := sqlFunctions[strings.ToLower(strings.TrimSpace(function))]
	if !ok {
		return "", errors.KeyNotFound("function", function, functionNames())
	}
	sql := name + "(" + b.functionTarget(member) + ")"
	if alias == "" {
		return sql, nil
	}
	return sql + " AS " + b.QuoteColumn(alias), nil
}

func functionNames() []string {
	names := make([]string, 0, len(sqlFunctions))
	for k := range sqlFunctions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (b *Base) Now() string { return "NOW()" }

func (b *Base) NowUTC() (string, error) {
	return "", errors.Unsupported(b.Engine, "UTC timestamps")
}

// RemoveComments strips "--" line comments and "/* */" range comments.
func (b *Base) RemoveComments(sql string) string {
	return schema.RemoveRangeComments(schema.RemoveLineComments(sql, "--"), "/*", "*/")
}

// DropTable renders DROP TABLE IF EXISTS.
func (b *Base) DropTable(table string) ([]string, error) {
	return []string{"DROP TABLE IF EXISTS " + b.QuoteTable(table)}, nil
}

func (b *Base) AlterTableType(table, tableType string) ([]string, error) {
	if tableType == "" {
		return nil, nil
	}
	return nil, errors.Unsupported(b.Engine, "table types")
}

func (b *Base) AlterTableAttributes(t *schema.Table, attributes map[string]string) ([]string, error) {
	return nil, nil
}

// QuotedIndexColumns renders index members as quoted names with optional
// prefix sizes.
func (b *Base) QuotedIndexColumns(columns []schema.IndexColumn) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = b.QuoteColumn(c.Name)
		if c.Size > 0 {
			out[i] += fmt.Sprintf("(%d)", c.Size)
		}
	}
	return out
}

// DefaultSQL renders " DEFAULT x" for a column default. A string default
// in parentheses is an expression and is emitted as is.
func (b *Base) DefaultSQL(c *schema.Column) string {
	def, ok := c.DefaultValue()
	if !ok {
		return ""
	}
	if s, isString := def.(string); isString {
		upper := strings.ToUpper(s)
		if upper == "CURRENT_TIMESTAMP" || upper == "NULL" {
			return " DEFAULT " + upper
		}
		if IsExpression(s) {
			return " DEFAULT " + s
		}
		if c.Table() != nil && c.Table().Engine() != nil {
			types := c.Table().Engine().Types()
			if types.NativeTypeToDataType(c.SQLType()) != schema.ScalarString {
				if _, err := strconv.ParseFloat(s, 64); err == nil {
					return " DEFAULT " + s
				}
			}
		}
	}
	return " DEFAULT " + b.MixedToSQL(def)
}

// IsExpression reports whether a default is a parenthesized SQL
// expression rather than a literal.
func IsExpression(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
}
