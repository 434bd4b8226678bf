package schema

import (
	"fmt"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
)

// Builder defines tables in Go using a fluent API. Declarations are
// validated when Build is called.
//
//	b := schema.NewBuilder(engine)
//	b.Table("users", func(t *schema.TableBuilder) {
//		t.Int("id").PrimaryKey().AutoInc()
//		t.String("email").Size(128).NotNull().Unique()
//	})
//	tables, err := b.Build()
type Builder struct {
	engine Engine
	tables []*TableBuilder
}

// NewBuilder creates a builder whose tables belong to engine.
func NewBuilder(engine Engine) *Builder {
	return &Builder{engine: engine}
}

// Table declares a table.
func (b *Builder) Table(name string, fn func(t *TableBuilder)) *Builder {
	tb := &TableBuilder{name: name}
	fn(tb)
	b.tables = append(b.tables, tb)
	return b
}

// Build creates the declared tables, keyed by name.
func (b *Builder) Build() (map[string]*Table, error) {
	tables := make(map[string]*Table, len(b.tables))
	for _, tb := range b.tables {
		if _, ok := tables[tb.name]; ok {
			return nil, errors.Semantics("Duplicate definition of table {table}").WithVar("table", tb.name)
		}
		t, err := tb.build(b.engine)
		if err != nil {
			return nil, err
		}
		tables[tb.name] = t
	}
	return tables, nil
}

// TableBuilder collects the column and index declarations of one table.
type TableBuilder struct {
	name       string
	tableType  string
	fields     []*FieldBuilder
	indexes    []indexDecl
	attributes map[string]string
	createSQL  []string
}

type indexDecl struct {
	name      string
	indexType string
	columns   []string
}

func (tb *TableBuilder) field(name, native string) *FieldBuilder {
	f := &FieldBuilder{name: name, native: native}
	tb.fields = append(tb.fields, f)
	return f
}

// Column declares a column of an arbitrary native type.
func (tb *TableBuilder) Column(name, native string) *FieldBuilder {
	return tb.field(name, native)
}

func (tb *TableBuilder) Int(name string) *FieldBuilder    { return tb.field(name, "integer") }
func (tb *TableBuilder) BigInt(name string) *FieldBuilder { return tb.field(name, "bigint") }

// String declares a varchar(255) column; see FieldBuilder.Size.
func (tb *TableBuilder) String(name string) *FieldBuilder {
	return tb.field(name, "varchar").Size(255)
}

func (tb *TableBuilder) Text(name string) *FieldBuilder     { return tb.field(name, "text") }
func (tb *TableBuilder) Float(name string) *FieldBuilder    { return tb.field(name, "double") }
func (tb *TableBuilder) Date(name string) *FieldBuilder     { return tb.field(name, "date") }
func (tb *TableBuilder) Time(name string) *FieldBuilder     { return tb.field(name, "time") }
func (tb *TableBuilder) DateTime(name string) *FieldBuilder { return tb.field(name, "datetime") }
func (tb *TableBuilder) Bytes(name string) *FieldBuilder    { return tb.field(name, "blob") }

// Decimal declares a decimal(10,2) column; see FieldBuilder.Prec.
func (tb *TableBuilder) Decimal(name string) *FieldBuilder {
	return tb.field(name, "decimal").Prec(10, 2)
}

// Type sets the table storage type.
func (tb *TableBuilder) Type(tableType string) *TableBuilder {
	tb.tableType = tableType
	return tb
}

// Attribute sets a table attribute such as "engine" or "default charset".
func (tb *TableBuilder) Attribute(key, value string) *TableBuilder {
	if tb.attributes == nil {
		tb.attributes = map[string]string{}
	}
	tb.attributes[key] = value
	return tb
}

// Index declares a non-unique index.
func (tb *TableBuilder) Index(name string, columns ...string) *TableBuilder {
	tb.indexes = append(tb.indexes, indexDecl{name, IndexTypeIndex, columns})
	return tb
}

// UniqueIndex declares a unique index.
func (tb *TableBuilder) UniqueIndex(name string, columns ...string) *TableBuilder {
	tb.indexes = append(tb.indexes, indexDecl{name, IndexTypeUnique, columns})
	return tb
}

// PrimaryKey declares a composite primary key.
func (tb *TableBuilder) PrimaryKey(columns ...string) *TableBuilder {
	tb.indexes = append(tb.indexes, indexDecl{IndexNamePrimary, IndexTypePrimary, columns})
	return tb
}

// OnCreate queues SQL to run right after the table is created.
func (tb *TableBuilder) OnCreate(sql ...string) *TableBuilder {
	tb.createSQL = append(tb.createSQL, sql...)
	return tb
}

func (tb *TableBuilder) build(engine Engine) (*Table, error) {
	t := NewTable(engine, tb.name, tb.tableType)
	for k, v := range tb.attributes {
		t.SetAttribute(k, v)
	}
	for _, f := range tb.fields {
		c, err := f.column(t)
		if err != nil {
			return nil, err
		}
		if _, err := t.ColumnAdd(c); err != nil {
			return nil, err
		}
	}
	for _, decl := range tb.indexes {
		idx, err := NewIndex(t, decl.name, decl.indexType, "")
		if err != nil {
			return nil, err
		}
		for _, name := range decl.columns {
			if _, err := idx.AddColumn(name, IndexSizeDefault); err != nil {
				return nil, err
			}
		}
	}
	if len(tb.createSQL) > 0 {
		if err := t.AddActionSQL(ActionCreate, tb.createSQL...); err != nil {
			return nil, err
		}
	}
	t.SetSource(fmt.Sprintf("builder:%s", tb.name), false)
	return t, nil
}

// FieldBuilder declares one column.
type FieldBuilder struct {
	name      string
	native    string
	size      string
	notNull   *bool
	def       interface{}
	primary   bool
	increment bool
	unsigned  bool
	unique    []string
	index     []string
	previous  string
	charset   string
	collate   string
}

// Size sets the length of string types.
func (f *FieldBuilder) Size(length int) *FieldBuilder {
	f.size = fmt.Sprint(length)
	return f
}

// Prec sets precision and scale of decimal types.
func (f *FieldBuilder) Prec(precision, scale int) *FieldBuilder {
	f.size = fmt.Sprintf("%d,%d", precision, scale)
	return f
}

func (f *FieldBuilder) NotNull() *FieldBuilder {
	v := true
	f.notNull = &v
	return f
}

func (f *FieldBuilder) Null() *FieldBuilder {
	v := false
	f.notNull = &v
	return f
}

func (f *FieldBuilder) Default(value interface{}) *FieldBuilder {
	f.def = value
	return f
}

// PrimaryKey makes the column (part of) the primary key.
func (f *FieldBuilder) PrimaryKey() *FieldBuilder {
	f.primary = true
	return f
}

func (f *FieldBuilder) AutoInc() *FieldBuilder {
	f.increment = true
	return f
}

func (f *FieldBuilder) Unsigned() *FieldBuilder {
	f.unsigned = true
	return f
}

// Unique adds the column to a unique index; without a name the index is
// named after the column.
func (f *FieldBuilder) Unique(name ...string) *FieldBuilder {
	f.unique = append(f.unique, firstOr(name, ""))
	return f
}

// Indexed adds the column to a non-unique index.
func (f *FieldBuilder) Indexed(name ...string) *FieldBuilder {
	f.index = append(f.index, firstOr(name, ""))
	return f
}

// RenamedFrom records the previous name so sync renames instead of
// dropping and re-adding.
func (f *FieldBuilder) RenamedFrom(previous string) *FieldBuilder {
	f.previous = previous
	return f
}

func (f *FieldBuilder) CharacterSet(charset string) *FieldBuilder {
	f.charset = charset
	return f
}

func (f *FieldBuilder) Collate(collation string) *FieldBuilder {
	f.collate = collation
	return f
}

func (f *FieldBuilder) column(t *Table) (*Column, error) {
	native := f.native
	if f.size != "" {
		native = fmt.Sprintf("%s(%s)", native, f.size)
	}
	if strings.TrimSpace(native) == "" {
		return nil, errors.Semantics("No SQL type for column {column} in table {table}").
			WithVar("column", f.name).WithVar("table", t.Name())
	}
	c := NewColumn(t, f.name).SetSQLType(native)
	if f.notNull != nil {
		c.notNull = f.notNull
	}
	c.SetDefault(f.def)
	c.Increment = f.increment
	c.Unsigned = f.unsigned
	c.PreviousName = f.previous
	c.CharacterSet = f.charset
	c.Collation = f.collate
	if f.primary {
		if _, err := c.AddIndex(IndexNamePrimary, IndexTypePrimary); err != nil {
			return nil, err
		}
	}
	for _, name := range f.unique {
		if _, err := c.AddIndex(name, IndexTypeUnique); err != nil {
			return nil, err
		}
	}
	for _, name := range f.index {
		if _, err := c.AddIndex(name, IndexTypeIndex); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func firstOr(list []string, def string) string {
	if len(list) > 0 {
		return list[0]
	}
	return def
}
