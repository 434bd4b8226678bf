// Package mysql implements the MySQL engine: its type tables, SQL dialect,
// CREATE TABLE parser and the connected engine built on
// github.com/go-sql-driver/mysql.
package mysql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

type quoter struct{}

func (quoter) QuoteColumn(name string) string   { return dialects.QuoteIdentifier(name, "`", "`") }
func (quoter) UnquoteColumn(name string) string { return dialects.UnquoteIdentifier(name, "`", "`") }

var textEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\x00", `\0`, "\n", `\n`, "\r", `\r`, "\x1a", `\Z`)

// QuoteText escapes the way mysql_real_escape_string does.
func (quoter) QuoteText(text string) string { return "'" + textEscaper.Replace(text) + "'" }

// Dialect implements the MySQL dialect.
type Dialect struct {
	dialects.Base
	types *schema.Types
}

// New creates a MySQL dialect with its own type tables.
func New() *Dialect {
	return newDialect(NewTypes())
}

func newDialect(types *schema.Types) *Dialect {
	return &Dialect{
		Base: dialects.Base{
			Quoter:    quoter{},
			Engine:    "mysql",
			Limit:     dialects.LimitComma,
			Modifiers: true,
			Replace:   true,
		},
		types: types,
	}
}

// CreateTable renders CREATE TABLE followed by one ALTER TABLE per index.
// A single auto-increment primary key is declared inline instead.
func (d *Dialect) CreateTable(t *schema.Table) ([]string, error) {
	columns := t.Columns()
	if len(columns) == 0 {
		return nil, errors.Semantics("Table {table} has no columns").WithVar("table", t.Name())
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if !c.HasSQLType() {
			return nil, errors.Semantics("No SQL type for column {column} in table {table}").
				WithVar("column", c.Name()).WithVar("table", t.Name())
		}
		defs = append(defs, d.QuoteColumn(c.Name())+" "+d.nativeType(c, true, true))
	}
	skipPrimary := false
	if primary := t.Primary(); primary != nil && primary.ColumnCount() == 1 {
		if c, err := t.Column(primary.Columns()[0]); err == nil && c.IsIncrement() {
			skipPrimary = true
		}
	}
	sql := "CREATE TABLE " + d.QuoteTable(t.Name()) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n) " + d.tableOptions(t)
	result := []string{strings.TrimSpace(sql)}
	indexes := t.Indexes()
	for _, name := range t.IndexNames() {
		idx := indexes[name]
		if skipPrimary && idx.IsPrimary() {
			continue
		}
		alter, err := d.AlterTableIndexAdd(t, idx)
		if err != nil {
			return nil, err
		}
		result = append(result, alter...)
	}
	return result, nil
}

func (d *Dialect) tableOptions(t *schema.Table) string {
	var options []string
	if engine := t.Attribute(AttributeEngine, t.Type()); engine != "" {
		options = append(options, "ENGINE="+engine)
	}
	if charset := t.Attribute(AttributeDefaultCharset, ""); charset != "" {
		options = append(options, "DEFAULT CHARSET="+charset)
	}
	if collate := t.Attribute(schema.AttributeCollation, ""); collate != "" {
		options = append(options, "COLLATE="+collate)
	}
	return strings.Join(options, " ")
}

// nativeType renders the column type with its modifiers. increment and
// primary control whether AUTO_INCREMENT and PRIMARY KEY may be declared.
func (d *Dialect) nativeType(c *schema.Column, increment, primary bool) string {
	sql := c.SQLType()
	if c.Unsigned {
		sql += " unsigned"
	}
	if c.IsText() {
		if c.CharacterSet != "" {
			sql += " CHARACTER SET " + c.CharacterSet
		}
		if c.Collation != "" {
			sql += " COLLATE " + c.Collation
		}
	}
	if c.IsIncrement() && increment {
		if c.IsPrimaryKey() && primary {
			sql += " AUTO_INCREMENT PRIMARY KEY NOT NULL"
		} else {
			sql += " AUTO_INCREMENT NOT NULL"
		}
	} else {
		if c.Required() {
			sql += " NOT NULL"
		} else {
			sql += " NULL"
		}
		if def, ok := c.DefaultValue(); ok {
			sql += d.columnDefault(c.SQLType(), def)
		}
	}
	if c.Extras != "" {
		sql += " " + c.Extras
	}
	return sql
}

func (d *Dialect) columnDefault(sqlType string, def interface{}) string {
	if s, ok := def.(string); ok && (strings.EqualFold(s, "null") || strings.EqualFold(s, "current_timestamp")) {
		return " DEFAULT " + strings.ToUpper(s)
	}
	if token, _, _ := d.types.ParseSQLType(sqlType); token == "timestamp" {
		// Zero timestamps are rejected by strict servers.
		return ""
	}
	switch d.types.NativeTypeToSQLType(sqlType, sqlType) {
	case schema.SQLTypeText, schema.SQLTypeBlob:
		return ""
	case schema.SQLTypeDouble:
		f, _ := dialects.CoerceDefault(schema.ScalarDouble, def).(float64)
		return " DEFAULT " + strconv.FormatFloat(f, 'f', -1, 64)
	case schema.SQLTypeInteger:
		n, _ := dialects.CoerceDefault(schema.ScalarInteger, def).(int64)
		return " DEFAULT " + strconv.FormatInt(n, 10)
	}
	return " DEFAULT " + d.QuoteText(fmt.Sprint(def))
}

// AlterTableIndexAdd renders ALTER TABLE ... ADD for an index.
func (d *Dialect) AlterTableIndexAdd(t *schema.Table, idx *schema.Index) ([]string, error) {
	columns := strings.Join(d.QuotedIndexColumns(idx.IndexColumns()), ", ")
	table := d.QuoteTable(t.Name())
	switch idx.Type() {
	case schema.IndexTypePrimary:
		return []string{"ALTER TABLE " + table + " ADD PRIMARY KEY (" + columns + ")"}, nil
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		suffix := ""
		if idx.Structure() != "" {
			suffix = " USING " + idx.Structure()
		}
		return []string{"ALTER TABLE " + table + " ADD " + idx.Type() + " " + d.QuoteColumn(idx.Name()) + suffix + " (" + columns + ")"}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), []string{schema.IndexTypeIndex, schema.IndexTypeUnique, schema.IndexTypePrimary})
}

// AlterTableIndexDrop renders ALTER TABLE ... DROP INDEX or DROP PRIMARY KEY.
func (d *Dialect) AlterTableIndexDrop(t *schema.Table, idx *schema.Index) ([]string, error) {
	table := d.QuoteTable(t.Name())
	switch idx.Type() {
	case schema.IndexTypePrimary:
		return []string{"ALTER TABLE " + table + " DROP PRIMARY KEY"}, nil
	case schema.IndexTypeUnique, schema.IndexTypeIndex:
		if idx.Name() == "" {
			return nil, errors.Semantics("Index for table {table} has no name, but is required").WithVar("table", t.Name())
		}
		return []string{"ALTER TABLE " + table + " DROP INDEX " + d.QuoteColumn(idx.Name())}, nil
	}
	return nil, errors.KeyNotFound("index type", idx.Type(), []string{schema.IndexTypeIndex, schema.IndexTypeUnique, schema.IndexTypePrimary})
}

// IndexType renders an inline index clause such as INDEX `name` (`a`(32)).
func (d *Dialect) IndexType(t *schema.Table, name, indexType string, columns []schema.IndexColumn) (string, error) {
	if !schema.IsIndexType(indexType) {
		return "", errors.KeyNotFound("index type", indexType, []string{schema.IndexTypeIndex, schema.IndexTypeUnique, schema.IndexTypePrimary}).
			WithVar("table", t.Name())
	}
	indexType = schema.DetermineIndexType(indexType)
	list := "(" + strings.Join(d.QuotedIndexColumns(columns), ", ") + ")"
	if indexType == schema.IndexTypePrimary || name == "" {
		return indexType + " " + list, nil
	}
	return indexType + " " + d.QuoteColumn(name) + " " + list, nil
}

// AlterTableColumnAdd renders ADD COLUMN, positioned by AfterColumn.
func (d *Dialect) AlterTableColumnAdd(t *schema.Table, c *schema.Column) ([]string, error) {
	sql := "ALTER TABLE " + d.QuoteTable(t.Name()) + " ADD COLUMN " + d.QuoteColumn(c.Name()) + " " + d.nativeType(c, true, true)
	if c.AfterColumn != "" {
		sql += " AFTER " + d.QuoteColumn(c.AfterColumn)
	}
	return []string{sql}, nil
}

// AlterTableChangeColumn renders CHANGE COLUMN. t is the live table; the
// new definition only declares AUTO_INCREMENT or PRIMARY KEY when the live
// table does not already have them.
func (d *Dialect) AlterTableChangeColumn(t *schema.Table, oldName string, c *schema.Column) ([]string, error) {
	increment, primary := true, t.Primary() == nil
	if old, err := t.Column(oldName); err == nil {
		increment = !old.IsIncrement()
	}
	sql := "ALTER TABLE " + d.QuoteTable(t.Name()) + " CHANGE COLUMN " + d.QuoteColumn(oldName) + " " +
		d.QuoteColumn(c.Name()) + " " + d.nativeType(c, increment, primary)
	if c.IsPrimaryKey() {
		sql += " FIRST"
	}
	return []string{sql}, nil
}

func (d *Dialect) AlterTableColumnDrop(t *schema.Table, column string) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteTable(t.Name()) + " DROP COLUMN " + d.QuoteColumn(column)}, nil
}

func (d *Dialect) AlterTableType(table, tableType string) ([]string, error) {
	if tableType == "" {
		return nil, nil
	}
	return []string{"ALTER TABLE " + d.QuoteTable(table) + " ENGINE=" + tableType}, nil
}

// AlterTableAttributes renders the table options that differ from the
// engine defaults, e.g. ALTER TABLE `t` COLLATE=x DEFAULT CHARSET=y ENGINE=z.
func (d *Dialect) AlterTableAttributes(t *schema.Table, attributes map[string]string) ([]string, error) {
	defaults := map[string]string{}
	if t.Engine() != nil {
		defaults = t.Engine().TableAttributes()
	}
	merged := map[string]string{}
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range NormalizeAttributes(attributes) {
		if _, ok := defaults[k]; ok {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strings.ToUpper(k) + "=" + merged[k]
	}
	return []string{"ALTER TABLE " + d.QuoteTable(t.Name()) + " " + strings.Join(parts, " ")}, nil
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

// RemoveComments also strips "#" line comments.
func (d *Dialect) RemoveComments(sql string) string {
	sql = schema.RemoveLineComments(sql, "--")
	sql = schema.RemoveLineComments(sql, "#")
	return schema.RemoveRangeComments(sql, "/*", "*/")
}

func (d *Dialect) NowUTC() (string, error) { return "UTC_TIMESTAMP()", nil }

var _ dialects.SQLDialect = (*Dialect)(nil)
