// Package postgres implements the PostgreSQL engine on top of
// github.com/jackc/pgx/v5: its type tables, SQL dialect, CREATE TABLE
// parser, catalog introspection and advisory locks.
package postgres

import (
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

type quoter struct{}

func (quoter) QuoteColumn(name string) string   { return dialects.QuoteIdentifier(name, `"`, `"`) }
func (quoter) UnquoteColumn(name string) string { return dialects.UnquoteIdentifier(name, `"`, `"`) }
func (quoter) QuoteText(text string) string {
	return "'" + strings.ReplaceAll(text, "'", "''") + "'"
}

var indexTypes = []string{schema.IndexTypeIndex, schema.IndexTypeUnique, schema.IndexTypePrimary}

// Dialect implements the PostgreSQL dialect.
type Dialect struct {
	dialects.Base
	types *schema.Types
}

// New creates a PostgreSQL dialect with its own type tables.
func New() *Dialect {
	return newDialect(NewTypes())
}

func newDialect(types *schema.Types) *Dialect {
	return &Dialect{
		Base: dialects.Base{
			Quoter:   quoter{},
			Engine:   "postgres",
			Limit:    dialects.LimitStandard,
			Booleans: true,
		},
		types: types,
	}
}

// IndexName is the name an index has in the database. Index names are
// unique per schema rather than per table, so they carry the table name.
func IndexName(table, name string) string {
	if strings.HasPrefix(name, table+"_") {
		return name
	}
	return table + "_" + name
}

// LogicalIndexName reverses IndexName.
func LogicalIndexName(table, name string) string {
	if logical := strings.TrimPrefix(name, table+"_"); logical != "" {
		return logical
	}
	return name
}

// PrimaryKeyName is the constraint name PostgreSQL gives a primary key.
func PrimaryKeyName(table string) string { return table + "_pkey" }

// CreateTable renders CREATE TABLE with the primary key as a table
// constraint, followed by CREATE INDEX statements.
func (d *Dialect) CreateTable(t *schema.Table) ([]string, error) {
	columns := t.Columns()
	if len(columns) == 0 {
		return nil, errors.Semantics("Table {table} has no columns").WithVar("table", t.Name())
	}
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		if !c.HasSQLType() {
			return nil, errors.Semantics("No SQL type for column {column} in table {table}").
				WithVar("column", c.Name()).WithVar("table", t.Name())
		}
		defs = append(defs, d.QuoteColumn(c.Name())+" "+d.nativeType(c))
	}
	if primary := t.Primary(); primary != nil {
		clause, err := d.IndexType(t, "", schema.IndexTypePrimary, primary.IndexColumns())
		if err != nil {
			return nil, err
		}
		defs = append(defs, clause)
	}
	result := []string{"CREATE TABLE " + d.QuoteTable(t.Name()) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"}
	indexes := t.Indexes()
	for _, name := range t.IndexNames() {
		idx := indexes[name]
		if idx.IsPrimary() {
			continue
		}
		sql, err := d.AlterTableIndexAdd(t, idx)
		if err != nil {
			return nil, err
		}
		result = append(result, sql...)
	}
	return result, nil
}

func (d *Dialect) nativeType(c *schema.Column) string {
	sql := ddlType(c, true)
	if c.Required() || c.IsIncrement() {
		sql += " NOT NULL"
	} else {
		sql += " NULL"
	}
	if !c.IsIncrement() {
		sql += d.columnDefault(c)
	}
	if c.Collation != "" && c.IsText() {
		sql += " COLLATE " + d.QuoteColumn(c.Collation)
	}
	if c.Extras != "" {
		sql += " " + c.Extras
	}
	return sql
}

// columnDefault renders boolean defaults as TRUE or FALSE; PostgreSQL does
// not cast integers to boolean.
func (d *Dialect) columnDefault(c *schema.Column) string {
	def, ok := c.DefaultValue()
	if !ok {
		return ""
	}
	if token, _, _ := d.types.ParseSQLType(c.SQLType()); token == "boolean" {
		switch v := d.types.NativeTypeDefault(c.SQLType(), def).(type) {
		case int64:
			if v != 0 {
				return " DEFAULT TRUE"
			}
			return " DEFAULT FALSE"
		case nil:
			return ""
		}
	}
	return d.DefaultSQL(c)
}

// AlterTableIndexAdd renders ADD PRIMARY KEY or CREATE [UNIQUE] INDEX.
func (d *Dialect) AlterTableIndexAdd(t *schema.Table, idx *schema.Index) ([]string, error) {
	table := d.QuoteTable(t.Name())
	switch idx.Type() {
	case schema.IndexTypePrimary:
		return []string{"ALTER TABLE " + table + " ADD PRIMARY KEY (" + d.indexColumns(idx.IndexColumns()) + ")"}, nil
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		if idx.Name() == "" {
			return nil, errors.Semantics("Index for table {table} has no name, but is required").WithVar("table", t.Name())
		}
		verb := "CREATE INDEX "
		if idx.IsUnique() {
			verb = "CREATE UNIQUE INDEX "
		}
		using := ""
		if idx.Structure() == schema.IndexStructureHash {
			using = " USING hash"
		}
		return []string{verb + d.QuoteColumn(IndexName(t.Name(), idx.Name())) + " ON " + table + using +
			" (" + d.indexColumns(idx.IndexColumns()) + ")"}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), indexTypes)
}

// AlterTableIndexDrop drops the primary key constraint or an index. A
// unique index may belong to a UNIQUE constraint, which has to be dropped
// instead.
func (d *Dialect) AlterTableIndexDrop(t *schema.Table, idx *schema.Index) ([]string, error) {
	table := d.QuoteTable(t.Name())
	switch idx.Type() {
	case schema.IndexTypePrimary:
		return []string{"ALTER TABLE " + table + " DROP CONSTRAINT " + d.QuoteColumn(PrimaryKeyName(t.Name()))}, nil
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		if idx.Name() == "" {
			return nil, errors.Semantics("Index for table {table} has no name, but is required").WithVar("table", t.Name())
		}
		name := d.QuoteColumn(IndexName(t.Name(), idx.Name()))
		if idx.IsUnique() {
			return []string{
				"ALTER TABLE " + table + " DROP CONSTRAINT IF EXISTS " + name,
				"DROP INDEX IF EXISTS " + name,
			}, nil
		}
		return []string{"DROP INDEX IF EXISTS " + name}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), indexTypes)
}

// IndexType renders a table constraint. Plain indexes can not be declared
// inside CREATE TABLE.
func (d *Dialect) IndexType(t *schema.Table, name, indexType string, columns []schema.IndexColumn) (string, error) {
	if !schema.IsIndexType(indexType) {
		return "", errors.KeyNotFound("index type", indexType, indexTypes).WithVar("table", t.Name())
	}
	list := "(" + d.indexColumns(columns) + ")"
	switch schema.DetermineIndexType(indexType) {
	case schema.IndexTypePrimary:
		return "PRIMARY KEY " + list, nil
	case schema.IndexTypeUnique:
		if name == "" {
			return "UNIQUE " + list, nil
		}
		return "CONSTRAINT " + d.QuoteColumn(IndexName(t.Name(), name)) + " UNIQUE " + list, nil
	}
	return "", errors.Unsupported("postgres", "inline indexes")
}

// indexColumns drops prefix sizes; PostgreSQL indexes whole values.
func (d *Dialect) indexColumns(columns []schema.IndexColumn) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = d.QuoteColumn(c.Name)
	}
	return strings.Join(names, ", ")
}

func (d *Dialect) AlterTableColumnAdd(t *schema.Table, c *schema.Column) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteTable(t.Name()) + " ADD COLUMN " + d.QuoteColumn(c.Name()) + " " + d.nativeType(c)}, nil
}

// AlterTableChangeColumn renames the column when needed, then sets its
// type, nullability and default one ALTER COLUMN at a time. Turning a
// column into an increment column creates its sequence.
func (d *Dialect) AlterTableChangeColumn(t *schema.Table, oldName string, c *schema.Column) ([]string, error) {
	old, err := t.Column(oldName)
	if err != nil {
		return nil, err
	}
	table := d.QuoteTable(t.Name())
	column := d.QuoteColumn(c.Name())
	alter := "ALTER TABLE " + table + " ALTER COLUMN " + column + " "
	var result []string
	if oldName != c.Name() {
		result = append(result, "ALTER TABLE "+table+" RENAME COLUMN "+d.QuoteColumn(oldName)+" TO "+column)
	}
	if !d.types.NativeTypesEqual(old.SQLType(), c.SQLType()) {
		sqlType := ddlType(c, false)
		result = append(result, alter+"TYPE "+sqlType+" USING "+column+"::"+sqlType)
	}
	if c.Required() || c.IsIncrement() {
		result = append(result, alter+"SET NOT NULL")
	} else {
		result = append(result, alter+"DROP NOT NULL")
	}
	switch {
	case c.IsIncrement() && !old.IsIncrement():
		sequence := t.Name() + "_" + c.Name() + "_seq"
		result = append(result,
			"CREATE SEQUENCE IF NOT EXISTS "+d.QuoteColumn(sequence)+" OWNED BY "+table+"."+column,
			alter+"SET DEFAULT nextval("+d.QuoteText(d.QuoteColumn(sequence))+")")
	case c.IsIncrement():
	default:
		if def := d.columnDefault(c); def != "" {
			result = append(result, alter+"SET"+def)
		} else {
			result = append(result, alter+"DROP DEFAULT")
		}
	}
	return result, nil
}

func (d *Dialect) AlterTableColumnDrop(t *schema.Table, column string) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteTable(t.Name()) + " DROP COLUMN " + d.QuoteColumn(column)}, nil
}

// DropTable also drops the views and foreign keys that depend on table.
func (d *Dialect) DropTable(table string) ([]string, error) {
	return []string{"DROP TABLE IF EXISTS " + d.QuoteTable(table) + " CASCADE"}, nil
}

// Delete renders DELETE, or TRUNCATE for an unconditional delete when
// opts.Truncate is set.
func (d *Dialect) Delete(table string, where dialects.Where, opts dialects.DeleteOptions) (string, error) {
	clause, err := d.Where(where, "", "")
	if err != nil {
		return "", err
	}
	if clause == "" && opts.Truncate {
		return "TRUNCATE " + d.QuoteTable(table), nil
	}
	return "DELETE FROM " + d.QuoteTable(table) + clause, nil
}

func (d *Dialect) NowUTC() (string, error) { return "(NOW() AT TIME ZONE 'UTC')", nil }

var _ dialects.SQLDialect = (*Dialect)(nil)
