package schema

import (
	"fmt"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Well-known column attribute keys.
const (
	AttributeCharacterSet = "character set"
	AttributeCollation    = "collate"
	AttributeDefault      = "default"
	AttributeExtra        = "extra"
)

// Column is a single table column. A column belongs to exactly one Table.
type Column struct {
	table *Table
	name  string

	sqlType      string
	size         int
	notNull      *bool
	required     *bool
	defaultValue interface{}
	hasDefault   bool
	primaryKey   bool

	indexNames  []string
	uniqueNames []string
	indexSizes  map[string]int

	// Binary marks binary string storage.
	Binary   bool
	Unsigned bool
	// Increment marks an auto-increment (serial) column.
	Increment bool
	// PreviousName records the name this column had before a rename.
	PreviousName string
	// Extras holds trailing engine options such as ON UPDATE clauses.
	Extras       string
	CharacterSet string
	Collation    string
	// AfterColumn positions the column when added to a table.
	AfterColumn string
	// AddSQL runs after the column is added to an existing table.
	AddSQL []string
	// AdditionalAttributes carries engine-specific attributes.
	AdditionalAttributes map[string]string
}

// NewColumn creates a column belonging to t. The column is not added to t.
func NewColumn(t *Table, name string) *Column {
	return &Column{table: t, name: name}
}

func (c *Column) Table() *Table { return c.table }
func (c *Column) Name() string  { return c.name }
func (c *Column) String() string {
	return c.name
}

// SetName renames the column; only valid before it is added to a table.
func (c *Column) SetName(name string) *Column {
	c.name = name
	return c
}

func (c *Column) SQLType() string { return c.sqlType }

// HasSQLType reports whether the column has a native type.
func (c *Column) HasSQLType() bool { return c.sqlType != "" }

// SetSQLType sets the native type, lower-cased.
func (c *Column) SetSQLType(t string) *Column {
	c.sqlType = strings.ToLower(t)
	return c
}

func (c *Column) Size() int { return c.size }

func (c *Column) SetSize(size int) *Column {
	c.size = size
	return c
}

// NotNull reports whether NOT NULL was declared.
func (c *Column) NotNull() bool { return c.notNull != nil && *c.notNull }

// Null is the inverse of NotNull.
func (c *Column) Null() bool { return !c.NotNull() }

func (c *Column) SetNotNull(v bool) *Column {
	c.notNull = &v
	c.table.invalidate()
	return c
}

// Required is the explicit required flag, else NOT NULL, else primary key.
func (c *Column) Required() bool {
	if c.required != nil {
		return *c.required
	}
	if c.notNull != nil {
		return *c.notNull
	}
	return c.primaryKey
}

func (c *Column) SetRequired(v bool) *Column {
	c.required = &v
	return c
}

// DefaultValue returns the declared default and whether one was declared.
func (c *Column) DefaultValue() (interface{}, bool) {
	return c.defaultValue, c.hasDefault
}

// SetDefault declares a default. A nil value clears it.
func (c *Column) SetDefault(v interface{}) *Column {
	if v == nil {
		return c.ClearDefault()
	}
	c.defaultValue = v
	c.hasDefault = true
	return c
}

func (c *Column) ClearDefault() *Column {
	c.defaultValue = nil
	c.hasDefault = false
	return c
}

func (c *Column) IsPrimaryKey() bool { return c.primaryKey }

// SetPrimaryKey flags the column. Table keeps its primary index in step.
func (c *Column) SetPrimaryKey(v bool) *Column {
	c.primaryKey = v
	c.table.invalidate()
	return c
}

// IsIncrement reports auto-increment.
func (c *Column) IsIncrement() bool { return c.Increment }

// IsText reports whether the column stores character data.
func (c *Column) IsText() bool {
	if c.table == nil || c.table.engine == nil {
		return false
	}
	return c.table.engine.Types().IsText(c.sqlType)
}

// IndexSize returns the prefix size for indexes of indexType, or IndexSizeDefault.
func (c *Column) IndexSize(indexType string) int {
	if size, ok := c.indexSizes[indexType]; ok {
		return size
	}
	return IndexSizeDefault
}

// SetIndexSize sets the prefix size used for indexes of indexType.
func (c *Column) SetIndexSize(indexType string, size int) *Column {
	if c.indexSizes == nil {
		c.indexSizes = map[string]int{}
	}
	c.indexSizes[indexType] = size
	return c
}

// AddIndex declares membership of a named index. An empty name is given a
// synthesized name when indexes are collected.
func (c *Column) AddIndex(name, indexType string) (*Column, error) {
	if !IsIndexType(indexType) {
		return c, errors.Semantics("Invalid index type {type} for column {column}").
			WithVar("type", indexType).WithVar("column", c.name)
	}
	switch DetermineIndexType(indexType) {
	case IndexTypePrimary:
		c.primaryKey = true
		v := true
		c.required = &v
	case IndexTypeUnique:
		if !containsString(c.uniqueNames, name) {
			c.uniqueNames = append(c.uniqueNames, name)
		}
	default:
		if !containsString(c.indexNames, name) {
			c.indexNames = append(c.indexNames, name)
		}
	}
	c.table.invalidate()
	return c, nil
}

// IndexesTypes maps each index the column participates in to its type.
func (c *Column) IndexesTypes() map[string]string {
	result := map[string]string{}
	for _, name := range c.uniqueNames {
		if name == "" {
			name = c.name + "_Unique"
		}
		result[name] = IndexTypeUnique
	}
	for _, name := range c.indexNames {
		if name == "" {
			name = c.name + "_Index"
		}
		result[name] = IndexTypeIndex
	}
	if c.primaryKey {
		result[IndexNamePrimary] = IndexTypePrimary
	}
	return result
}

// IsIndex reports membership of an index of the given type, or of any index
// when indexType is empty.
func (c *Column) IsIndex(indexType string) bool {
	switch indexType {
	case IndexTypeIndex:
		return len(c.indexNames) > 0
	case IndexTypeUnique:
		return len(c.uniqueNames) > 0
	case IndexTypePrimary:
		return c.primaryKey
	}
	return len(c.indexNames) > 0 || len(c.uniqueNames) > 0 || c.primaryKey
}

// Attribute returns a named attribute, or def when unset.
func (c *Column) Attribute(key, def string) string {
	switch key {
	case AttributeCharacterSet:
		if c.CharacterSet != "" {
			return c.CharacterSet
		}
	case AttributeCollation:
		if c.Collation != "" {
			return c.Collation
		}
	case AttributeExtra:
		if c.Extras != "" {
			return c.Extras
		}
	case AttributeDefault:
		if c.hasDefault {
			return fmt.Sprint(c.defaultValue)
		}
	}
	if v, ok := c.AdditionalAttributes[key]; ok {
		return v
	}
	return def
}

// SetAttribute sets a named attribute.
func (c *Column) SetAttribute(key, value string) *Column {
	switch key {
	case AttributeCharacterSet:
		c.CharacterSet = value
	case AttributeCollation:
		c.Collation = value
	case AttributeExtra:
		c.Extras = value
	case AttributeDefault:
		c.SetDefault(value)
	default:
		if c.AdditionalAttributes == nil {
			c.AdditionalAttributes = map[string]string{}
		}
		c.AdditionalAttributes[key] = value
	}
	return c
}

// Differences compares two columns attribute by attribute. An empty result
// means the columns are schema-equivalent.
func (c *Column) Differences(that *Column) Differences {
	engine := c.engine()
	types := engine.Types()
	diffs := Differences{}

	thisType := c.sqlType
	if thisType == "" {
		thisType = "this"
	}
	thatType := that.sqlType
	if thatType == "" {
		thatType = "that"
	}
	if !types.NativeTypesEqual(thisType, thatType) {
		diffs["type"] = Difference{thisType, thatType}
	}
	if c.Binary != that.Binary {
		diffs["binary"] = Difference{c.Binary, that.Binary}
	}
	if c.Required() != that.Required() {
		diffs["required"] = Difference{c.Required(), that.Required()}
	}
	thisDefault := types.NativeTypeDefault(thisType, c.defaultValue)
	thatDefault := types.NativeTypeDefault(thatType, that.defaultValue)
	if !sameValue(thisDefault, thatDefault) {
		diffs["default"] = Difference{thisDefault, thatDefault}
	}
	if c.Unsigned != that.Unsigned {
		diffs["unsigned"] = Difference{c.Unsigned, that.Unsigned}
	}
	if c.IsIncrement() != that.IsIncrement() {
		diffs["increment"] = Difference{c.IsIncrement(), that.IsIncrement()}
	}
	return engine.ColumnDifferences(c, that).Merge(diffs)
}

// AttributeDifferences compares the allow-listed engine attributes of two
// columns, each side falling back to the engine default for that column.
func (c *Column) AttributeDifferences(that *Column, allow []string) Differences {
	engine := c.engine()
	thisDefaults := engine.ColumnAttributes(c)
	thatDefaults := engine.ColumnAttributes(that)
	diffs := Differences{}
	for _, key := range allow {
		def, ok := thisDefaults[key]
		if !ok {
			continue
		}
		thatDef, ok := thatDefaults[key]
		if !ok {
			thatDef = def
		}
		thisValue := c.Attribute(key, def)
		thatValue := that.Attribute(key, thatDef)
		if thisValue != thatValue {
			diffs[key] = Difference{thisValue, thatValue}
		}
	}
	return diffs
}

// IsSimilar reports whether Differences is empty; debug logs the differences.
func (c *Column) IsSimilar(that *Column, debug bool) bool {
	diffs := c.Differences(that)
	if len(diffs) > 0 && debug {
		c.engine().Logger().Log(logging.LevelDebug, "Column not similar", logging.Fields{
			"table":  c.table.Name(),
			"column": c.name,
			"diffs":  formatDifferences(diffs),
		})
	}
	return len(diffs) == 0
}

// Clone copies the column; the copy belongs to t.
func (c *Column) Clone(t *Table) *Column {
	n := *c
	n.table = t
	n.indexNames = append([]string(nil), c.indexNames...)
	n.uniqueNames = append([]string(nil), c.uniqueNames...)
	n.AddSQL = append([]string(nil), c.AddSQL...)
	if c.notNull != nil {
		v := *c.notNull
		n.notNull = &v
	}
	if c.required != nil {
		v := *c.required
		n.required = &v
	}
	if c.indexSizes != nil {
		n.indexSizes = make(map[string]int, len(c.indexSizes))
		for k, v := range c.indexSizes {
			n.indexSizes[k] = v
		}
	}
	if c.AdditionalAttributes != nil {
		n.AdditionalAttributes = make(map[string]string, len(c.AdditionalAttributes))
		for k, v := range c.AdditionalAttributes {
			n.AdditionalAttributes[k] = v
		}
	}
	return &n
}

func (c *Column) engine() Engine {
	return c.table.engine
}

func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%T:%v", a, a) == fmt.Sprintf("%T:%v", b, b)
}

func formatDifferences(d Differences) string {
	parts := make([]string, 0, len(d))
	for _, k := range sortedKeys(d) {
		parts = append(parts, fmt.Sprintf("%s: %v != %v", k, d[k].This, d[k].That))
	}
	return strings.Join(parts, "; ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
