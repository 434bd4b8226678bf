// Package sqlite implements the SQLite engine on top of
// github.com/mattn/go-sqlite3, with modernc.org/sqlite available as a
// cgo-free driver.
package sqlite

import (
	"strings"

	"github.com/google/uuid"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

type quoter struct{}

func (quoter) QuoteColumn(name string) string { return dialects.QuoteIdentifier(name, `"`, `"`) }
func (quoter) QuoteText(text string) string   { return "'" + strings.ReplaceAll(text, "'", "''") + "'" }

// UnquoteColumn also accepts MySQL style backticks, which SQLite allows.
func (quoter) UnquoteColumn(name string) string {
	if strings.HasPrefix(name, "`") {
		return dialects.UnquoteIdentifier(name, "`", "`")
	}
	return dialects.UnquoteIdentifier(name, `"`, `"`)
}

var indexTypes = []string{schema.IndexTypeIndex, schema.IndexTypeUnique, schema.IndexTypePrimary}

// Dialect implements the SQLite dialect. SQLite cannot alter columns or
// primary keys in place, so those changes rebuild the table.
type Dialect struct {
	dialects.Base
	types *schema.Types
}

// New creates a SQLite dialect with its own type tables.
func New() *Dialect {
	return newDialect(NewTypes())
}

func newDialect(types *schema.Types) *Dialect {
	return &Dialect{
		Base: dialects.Base{
			Quoter:  quoter{},
			Engine:  "sqlite",
			Limit:   dialects.LimitOffset,
			Replace: true,
		},
		types: types,
	}
}

// CreateTable renders CREATE TABLE followed by CREATE INDEX statements.
// The primary key is part of the table definition.
func (d *Dialect) CreateTable(t *schema.Table) ([]string, error) {
	create, err := d.createTable(t)
	if err != nil {
		return nil, err
	}
	indexes, err := d.createIndexes(t)
	if err != nil {
		return nil, err
	}
	return append([]string{create}, indexes...), nil
}

func (d *Dialect) createTable(t *schema.Table) (string, error) {
	columns := t.Columns()
	if len(columns) == 0 {
		return "", errors.Semantics("Table {table} has no columns").WithVar("table", t.Name())
	}
	inline := inlinePrimary(t)
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		if !c.HasSQLType() {
			return "", errors.Semantics("No SQL type for column {column} in table {table}").
				WithVar("column", c.Name()).WithVar("table", t.Name())
		}
		defs = append(defs, d.QuoteColumn(c.Name())+" "+d.nativeType(c, c == inline))
	}
	if primary := t.Primary(); primary != nil && inline == nil {
		clause, err := d.IndexType(t, "", schema.IndexTypePrimary, primary.IndexColumns())
		if err != nil {
			return "", err
		}
		defs = append(defs, clause)
	}
	return "CREATE TABLE " + d.QuoteTable(t.Name()) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)", nil
}

func (d *Dialect) createIndexes(t *schema.Table) ([]string, error) {
	var result []string
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

// inlinePrimary returns the single auto-increment primary key column,
// which must be declared INTEGER PRIMARY KEY on the column itself.
func inlinePrimary(t *schema.Table) *schema.Column {
	primary := t.Primary()
	if primary == nil || primary.ColumnCount() != 1 {
		return nil
	}
	c, err := t.Column(primary.Columns()[0])
	if err != nil || !c.IsIncrement() {
		return nil
	}
	return c
}

func (d *Dialect) nativeType(c *schema.Column, primary bool) string {
	if primary {
		return "integer PRIMARY KEY AUTOINCREMENT NOT NULL"
	}
	sql := c.SQLType()
	if c.Unsigned {
		sql += " unsigned"
	}
	if c.Required() {
		sql += " NOT NULL"
	} else {
		sql += " NULL"
	}
	sql += d.DefaultSQL(c)
	if c.Collation != "" && c.IsText() {
		sql += " COLLATE " + c.Collation
	}
	if c.Extras != "" {
		sql += " " + c.Extras
	}
	return sql
}

// AlterTableIndexAdd renders CREATE [UNIQUE] INDEX. A primary key can only
// be added by rebuilding the table.
func (d *Dialect) AlterTableIndexAdd(t *schema.Table, idx *schema.Index) ([]string, error) {
	switch idx.Type() {
	case schema.IndexTypePrimary:
		next, sources, err := redefine(t, nil)
		if err != nil {
			return nil, err
		}
		primary, err := schema.NewIndex(next, schema.IndexNamePrimary, schema.IndexTypePrimary, "")
		if err != nil {
			return nil, err
		}
		if _, err := primary.AddColumns(idx.IndexColumns()...); err != nil {
			return nil, err
		}
		return d.rebuild(t, next, sources)
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		if idx.Name() == "" {
			return nil, errors.Semantics("Index for table {table} has no name, but is required").WithVar("table", t.Name())
		}
		verb := "CREATE INDEX "
		if idx.IsUnique() {
			verb = "CREATE UNIQUE INDEX "
		}
		return []string{verb + d.QuoteColumn(idx.Name()) + " ON " + d.QuoteTable(t.Name()) + " (" + d.indexColumns(idx.IndexColumns()) + ")"}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), indexTypes)
}

// AlterTableIndexDrop renders DROP INDEX, or a rebuild without the primary
// key.
func (d *Dialect) AlterTableIndexDrop(t *schema.Table, idx *schema.Index) ([]string, error) {
	switch idx.Type() {
	case schema.IndexTypePrimary:
		next, sources, err := redefine(t, nil)
		if err != nil {
			return nil, err
		}
		if next.Primary() != nil {
			if _, err := next.RemoveIndex(schema.IndexNamePrimary); err != nil {
				return nil, err
			}
		}
		return d.rebuild(t, next, sources)
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		if idx.Name() == "" {
			return nil, errors.Semantics("Index for table {table} has no name, but is required").WithVar("table", t.Name())
		}
		return []string{"DROP INDEX IF EXISTS " + d.QuoteColumn(idx.Name())}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), indexTypes)
}

// IndexType renders a table constraint. SQLite has no inline plain
// indexes.
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
		return "CONSTRAINT " + d.QuoteColumn(name) + " UNIQUE " + list, nil
	}
	return "", errors.Unsupported("sqlite", "inline indexes")
}

// indexColumns drops prefix sizes, which SQLite does not support.
func (d *Dialect) indexColumns(columns []schema.IndexColumn) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = d.QuoteColumn(c.Name)
	}
	return strings.Join(names, ", ")
}

// AlterTableColumnAdd renders ADD COLUMN. Columns SQLite cannot add in
// place, such as key columns or NOT NULL columns without a default,
// rebuild the table.
func (d *Dialect) AlterTableColumnAdd(t *schema.Table, c *schema.Column) ([]string, error) {
	_, hasDefault := c.DefaultValue()
	if !c.IsPrimaryKey() && !c.IsIncrement() && (!c.Required() || hasDefault) {
		return []string{"ALTER TABLE " + d.QuoteTable(t.Name()) + " ADD COLUMN " + d.QuoteColumn(c.Name()) + " " + d.nativeType(c, false)}, nil
	}
	next, sources, err := redefine(t, nil)
	if err != nil {
		return nil, err
	}
	added := c.Clone(next)
	if _, err := next.ColumnAdd(added); err != nil {
		return nil, err
	}
	return d.rebuild(t, next, sources)
}

// AlterTableChangeColumn rebuilds t with column oldName replaced by c.
// Rows keep their values; the copy converts them to the new type.
func (d *Dialect) AlterTableChangeColumn(t *schema.Table, oldName string, c *schema.Column) ([]string, error) {
	if !t.HasColumn(oldName) {
		return nil, errors.KeyNotFound("column", oldName, t.ColumnNames()).WithVar("table", t.Name())
	}
	next, sources, err := redefine(t, func(old *schema.Column) *schema.Column {
		if old.Name() == oldName {
			return c
		}
		return old
	})
	if err != nil {
		return nil, err
	}
	return d.rebuild(t, next, sources)
}

// AlterTableColumnDrop rebuilds t without column.
func (d *Dialect) AlterTableColumnDrop(t *schema.Table, column string) ([]string, error) {
	if !t.HasColumn(column) {
		return nil, errors.KeyNotFound("column", column, t.ColumnNames()).WithVar("table", t.Name())
	}
	next, sources, err := redefine(t, func(old *schema.Column) *schema.Column {
		if old.Name() == column {
			return nil
		}
		return old
	})
	if err != nil {
		return nil, err
	}
	return d.rebuild(t, next, sources)
}

// AlterTableType ignores table types; SQLite has none.
func (d *Dialect) AlterTableType(table, tableType string) ([]string, error) {
	return nil, nil
}

// redefine copies t column by column through replace, which may return a
// different column or nil to drop it. Indexes follow renamed columns. The
// returned sources map each new column to the live column it copies from.
func redefine(t *schema.Table, replace func(*schema.Column) *schema.Column) (*schema.Table, map[string]string, error) {
	next := schema.NewTable(t.Engine(), t.Name(), t.Type())
	sources := map[string]string{}
	renamed := map[string]string{}
	for _, old := range t.Columns() {
		c := old
		if replace != nil {
			c = replace(old)
		}
		if c == nil {
			continue
		}
		clone := c.Clone(next)
		clone.AfterColumn = ""
		if _, err := next.ColumnAdd(clone); err != nil {
			return nil, nil, err
		}
		sources[clone.Name()] = old.Name()
		renamed[old.Name()] = clone.Name()
	}
	indexes := t.Indexes()
	for _, name := range t.IndexNames() {
		idx := indexes[name]
		if next.HasIndex(name) {
			continue
		}
		var columns []schema.IndexColumn
		for _, ic := range idx.IndexColumns() {
			if n, ok := renamed[ic.Name]; ok {
				columns = append(columns, schema.IndexColumn{Name: n, Size: ic.Size})
			}
		}
		if len(columns) == 0 {
			continue
		}
		copied, err := schema.NewIndex(next, idx.Name(), idx.Type(), idx.Structure())
		if err != nil {
			return nil, nil, err
		}
		if _, err := copied.AddColumns(columns...); err != nil {
			return nil, nil, err
		}
	}
	return next, sources, nil
}

// rebuild renders the table copy for changes ALTER TABLE cannot make: the
// new definition is created under a temporary name, rows are copied, the
// live table is dropped and the copy renamed. Foreign key checks are off
// for the duration.
func (d *Dialect) rebuild(live, next *schema.Table, sources map[string]string) ([]string, error) {
	indexes, err := d.createIndexes(next)
	if err != nil {
		return nil, err
	}
	tmp := next.Clone().SetName(next.Name() + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	create, err := d.createTable(tmp)
	if err != nil {
		return nil, err
	}
	var to, from []string
	for _, name := range next.ColumnNames() {
		if source, ok := sources[name]; ok {
			to = append(to, d.QuoteColumn(name))
			from = append(from, d.QuoteColumn(source))
		}
	}
	result := []string{"PRAGMA foreign_keys=OFF", "BEGIN TRANSACTION", create}
	if len(to) > 0 {
		result = append(result, "INSERT INTO "+d.QuoteTable(tmp.Name())+" ("+strings.Join(to, ", ")+") SELECT "+
			strings.Join(from, ", ")+" FROM "+d.QuoteTable(live.Name()))
	}
	result = append(result,
		"DROP TABLE "+d.QuoteTable(live.Name()),
		"ALTER TABLE "+d.QuoteTable(tmp.Name())+" RENAME TO "+d.QuoteTable(next.Name()))
	result = append(result, indexes...)
	return append(result, "COMMIT TRANSACTION", "PRAGMA foreign_keys=ON"), nil
}

func (d *Dialect) Now() string             { return "datetime('now', 'localtime')" }
func (d *Dialect) NowUTC() (string, error) { return "datetime('now')", nil }

var _ dialects.SQLDialect = (*Dialect)(nil)
