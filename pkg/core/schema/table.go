package schema

import (
	"sort"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Actions that may carry follow-up SQL.
const (
	ActionCreate         = "create"
	ActionAddColumn      = "add column"
	ActionDropColumn     = "drop column"
	ActionAddIndex       = "add index"
	ActionDropIndex      = "drop index"
	ActionAddPrimaryKey  = "add primary key"
	ActionDropPrimaryKey = "drop primary key"
)

var validActions = map[string]bool{
	ActionCreate:         true,
	ActionAddColumn:      true,
	ActionDropColumn:     true,
	ActionAddIndex:       true,
	ActionDropIndex:      true,
	ActionAddPrimaryKey:  true,
	ActionDropPrimaryKey: true,
}

// Table is an ordered set of columns plus the indexes over them.
//
// Indexes declared on columns are collected into the index cache on first
// access. Mutating a column invalidates the cache; the next access merges
// the column declarations back in, keeping explicitly added indexes.
type Table struct {
	engine    Engine
	name      string
	tableType string

	columns []*Column
	byName  map[string]*Column

	indexes    map[string]*Index
	indexOrder []string
	collected  bool

	actions   map[string][]string
	removeSQL map[string]string
	source    string

	// Attributes holds table-level engine options (engine, charset, collate).
	Attributes map[string]string
}

// NewTable creates an empty table owned by engine.
func NewTable(engine Engine, name, tableType string) *Table {
	return &Table{
		engine:    engine,
		name:      name,
		tableType: tableType,
		byName:    map[string]*Column{},
		indexes:   map[string]*Index{},
		actions:   map[string][]string{},
		removeSQL: map[string]string{},
	}
}

func (t *Table) Engine() Engine { return t.engine }
func (t *Table) Name() string   { return t.name }
func (t *Table) String() string { return t.name }

func (t *Table) SetName(name string) *Table {
	t.name = name
	return t
}

// Type returns the storage type, or the engine default when unset.
func (t *Table) Type() string {
	if t.tableType == "" && t.engine != nil {
		return t.engine.DefaultTableType()
	}
	return t.tableType
}

func (t *Table) SetType(tableType string) *Table {
	t.tableType = tableType
	return t
}

// DefaultIndexStructure returns the engine default structure for this table.
func (t *Table) DefaultIndexStructure() string {
	return t.engine.DefaultIndexStructure(t.tableType)
}

// Source describes where the definition came from.
func (t *Table) Source() string { return t.source }

// SetSource replaces or appends to the provenance text.
func (t *Table) SetSource(source string, appendTo bool) *Table {
	if appendTo && t.source != "" {
		t.source = t.source + ";\n" + source
	} else {
		t.source = source
	}
	return t
}

// Attribute returns a table attribute or def.
func (t *Table) Attribute(key, def string) string {
	if v, ok := t.Attributes[key]; ok {
		return v
	}
	return def
}

func (t *Table) SetAttribute(key, value string) *Table {
	if t.Attributes == nil {
		t.Attributes = map[string]string{}
	}
	t.Attributes[key] = value
	return t
}

// Columns returns the columns in table order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.columns...)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Column returns the named column or a KeyNotFound error.
func (t *Table) Column(name string) (*Column, error) {
	if c, ok := t.byName[name]; ok {
		return c, nil
	}
	return nil, errors.KeyNotFound("column", name, t.ColumnNames()).WithVar("table", t.name)
}

// PreviousColumn returns the column that was renamed from name.
func (t *Table) PreviousColumn(name string) *Column {
	for _, c := range t.columns {
		if c.PreviousName != "" && strings.EqualFold(c.PreviousName, name) {
			return c
		}
	}
	return nil
}

// ColumnAdd appends a column, or inserts it after c.AfterColumn when set.
func (t *Table) ColumnAdd(c *Column) (*Table, error) {
	if _, ok := t.byName[c.name]; ok {
		return t, errors.Semantics("Column {column} already exists in {table}").
			WithVar("column", c.name).WithVar("table", t.name)
	}
	if !c.HasSQLType() {
		return t, errors.Semantics("No SQL type for column {column} in table {table}").
			WithVar("column", c.name).WithVar("table", t.name)
	}
	c.table = t
	pos := len(t.columns)
	if c.AfterColumn != "" {
		for i, existing := range t.columns {
			if existing.name == c.AfterColumn {
				pos = i + 1
				break
			}
		}
	}
	t.columns = append(t.columns, nil)
	copy(t.columns[pos+1:], t.columns[pos:])
	t.columns[pos] = c
	t.byName[c.name] = c

	if c.primaryKey {
		primary := t.indexes[IndexNamePrimary]
		if primary == nil {
			primary = newIndex(t, IndexNamePrimary, IndexTypePrimary, "")
			t.putIndex(primary)
		}
		primary.addTableColumn(c, c.IndexSize(IndexTypePrimary))
	}
	t.invalidate()
	return t, nil
}

// RemoveColumn removes a column and its index memberships.
func (t *Table) RemoveColumn(name string) (*Column, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	for i, existing := range t.columns {
		if existing == c {
			t.columns = append(t.columns[:i], t.columns[i+1:]...)
			break
		}
	}
	delete(t.byName, name)
	for _, idxName := range append([]string(nil), t.indexOrder...) {
		idx := t.indexes[idxName]
		idx.removeColumn(name)
		if idx.ColumnCount() == 0 {
			t.dropIndex(idxName)
		}
	}
	t.invalidate()
	return c, nil
}

// InvalidateIndexes forces the next index access to re-collect column
// index declarations.
func (t *Table) InvalidateIndexes() {
	t.invalidate()
}

func (t *Table) invalidate() {
	if t != nil {
		t.collected = false
	}
}

// Indexes returns the table indexes by name, collecting column declarations
// if the cache is stale. Collection failures yield no collected indexes.
func (t *Table) Indexes() map[string]*Index {
	if !t.collected {
		t.collected = true
		t.collectIndexes()
	}
	out := make(map[string]*Index, len(t.indexes))
	for k, v := range t.indexes {
		out[k] = v
	}
	return out
}

// IndexNames returns index names in declaration order.
func (t *Table) IndexNames() []string {
	t.Indexes()
	return append([]string(nil), t.indexOrder...)
}

func (t *Table) collectIndexes() {
	flagged := map[string]bool{}
	for _, c := range t.columns {
		types := c.IndexesTypes()
		for _, name := range sortedKeys(types) {
			indexType := types[name]
			idx, ok := t.indexes[name]
			if !ok {
				idx = newIndex(t, name, indexType, "")
				t.putIndex(idx)
			}
			if !idx.hasColumn(c.name) {
				idx.addTableColumn(c, c.IndexSize(indexType))
			}
		}
		if c.primaryKey {
			flagged[c.name] = true
		}
	}
	if primary, ok := t.indexes[IndexNamePrimary]; ok {
		for _, name := range primary.Columns() {
			if !flagged[name] {
				primary.removeColumn(name)
			}
		}
		if primary.ColumnCount() == 0 {
			t.dropIndex(IndexNamePrimary)
		}
	}
}

func (t *Table) putIndex(idx *Index) {
	if _, ok := t.indexes[idx.name]; !ok {
		t.indexOrder = append(t.indexOrder, idx.name)
	}
	t.indexes[idx.name] = idx
}

func (t *Table) dropIndex(name string) {
	delete(t.indexes, name)
	for i, n := range t.indexOrder {
		if n == name {
			t.indexOrder = append(t.indexOrder[:i], t.indexOrder[i+1:]...)
			break
		}
	}
}

func (t *Table) HasIndex(name string) bool {
	_, ok := t.Indexes()[name]
	return ok
}

// Index returns the named index or a KeyNotFound error.
func (t *Table) Index(name string) (*Index, error) {
	if idx, ok := t.Indexes()[name]; ok {
		return idx, nil
	}
	return nil, errors.KeyNotFound("index", name, t.indexOrder).WithVar("table", t.name)
}

// Primary returns the primary index, if any.
func (t *Table) Primary() *Index {
	return t.Indexes()[IndexNamePrimary]
}

// AddIndex installs idx. An index of the same name, including a second
// primary index, is rejected with a Semantics error; NewIndex replaces
// instead.
func (t *Table) AddIndex(idx *Index) error {
	indexes := t.Indexes()
	if _, ok := indexes[idx.name]; ok {
		return errors.Semantics("Index {name} already exists in {table}").
			WithVar("name", idx.name).WithVar("table", t.name)
	}
	if idx.IsPrimary() {
		for _, name := range idx.Columns() {
			if c, ok := t.byName[name]; ok {
				c.primaryKey = true
			}
		}
	}
	idx.table = t
	t.putIndex(idx)
	return nil
}

// RemoveIndex removes an index. Removing the primary index clears the
// primary key flag of its columns and leaves the table without one.
func (t *Table) RemoveIndex(name string) (*Index, error) {
	idx, err := t.Index(name)
	if err != nil {
		return nil, err
	}
	if idx.IsPrimary() {
		t.clearPrimary(idx)
	} else {
		for _, colName := range idx.Columns() {
			if c, ok := t.byName[colName]; ok {
				c.indexNames = removeIndexName(c.indexNames, name, c.name+"_Index")
				c.uniqueNames = removeIndexName(c.uniqueNames, name, c.name+"_Unique")
			}
		}
		t.dropIndex(name)
	}
	return idx, nil
}

func (t *Table) clearPrimary(idx *Index) {
	for _, name := range idx.Columns() {
		if c, ok := t.byName[name]; ok {
			c.primaryKey = false
		}
	}
	t.dropIndex(IndexNamePrimary)
}

func removeIndexName(names []string, name, synthesized string) []string {
	out := names[:0]
	for _, n := range names {
		if n == name || (n == "" && name == synthesized) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// AttributesWithDefaults returns the table attributes filled in with the
// engine defaults.
func (t *Table) AttributesWithDefaults() map[string]string {
	out := map[string]string{}
	if t.engine != nil {
		for k, v := range t.engine.TableAttributes() {
			out[k] = v
		}
	}
	for k, v := range t.Attributes {
		out[k] = v
	}
	return out
}

func (t *Table) attributesSimilar(that *Table, debug bool) bool {
	a, b := t.AttributesWithDefaults(), that.AttributesWithDefaults()
	same := len(a) == len(b)
	if same {
		for k, v := range a {
			if bv, ok := b[k]; !ok || bv != v {
				same = false
				break
			}
		}
	}
	if !same && debug {
		t.logger().Log(logging.LevelDebug, "Table attributes differ", logging.Fields{
			"table": t.name,
			"this":  a,
			"that":  b,
		})
	}
	return same
}

// IsSimilar reports whether two tables are schema-equivalent. Comparison
// stops at the first mismatch unless debug is set, in which case every
// mismatch is logged.
func (t *Table) IsSimilar(that *Table, debug bool) bool {
	log := func(msg string, fields logging.Fields) {
		if debug {
			fields["table"] = t.name
			t.logger().Log(logging.LevelDebug, msg, fields)
		}
	}
	similar := true

	if !t.attributesSimilar(that, debug) {
		if !debug {
			return false
		}
		similar = false
	}
	if len(t.columns) != len(that.columns) {
		log("Column counts differ", logging.Fields{"this": len(t.columns), "that": len(that.columns)})
		if !debug {
			return false
		}
		similar = false
	}
	thisIndexes, thatIndexes := t.Indexes(), that.Indexes()
	if len(thisIndexes) != len(thatIndexes) {
		log("Index counts differ", logging.Fields{"this": len(thisIndexes), "that": len(thatIndexes)})
		if !debug {
			return false
		}
		similar = false
	}
	for _, c := range t.columns {
		other, ok := that.byName[c.name]
		if !ok {
			log("No target column", logging.Fields{"column": c.name})
		} else if !c.IsSimilar(other, debug) {
			log("Dissimilar column", logging.Fields{"column": c.name})
		} else {
			continue
		}
		if !debug {
			return false
		}
		similar = false
	}
	for _, name := range t.IndexNames() {
		other, ok := thatIndexes[name]
		if !ok {
			log("No target index", logging.Fields{"index": name})
		} else if !thisIndexes[name].IsSimilar(other, debug) {
			log("Dissimilar index", logging.Fields{"index": name})
		} else {
			continue
		}
		if !debug {
			return false
		}
		similar = false
	}
	if t.engine != nil {
		extras := t.engine.TableAttributes()
		for _, key := range sortedKeys(extras) {
			a, b := t.Attribute(key, extras[key]), that.Attribute(key, extras[key])
			if a != b {
				log("Table attribute differs", logging.Fields{"attribute": key, "this": a, "that": b})
				if !debug {
					return false
				}
				similar = false
			}
		}
	}
	return similar
}

// SQLCreate returns the CREATE statements followed by any queued create
// action SQL; the queue is cleared.
func (t *Table) SQLCreate(d DDL) ([]string, error) {
	result, err := d.CreateTable(t)
	if err != nil {
		return nil, err
	}
	result = append(result, t.ActionSQL(ActionCreate)...)
	t.ClearActionSQL(ActionCreate)
	return result, nil
}

// SQLAlter returns attribute-level ALTER statements against old. Column
// and index changes are planned separately.
func (t *Table) SQLAlter(d DDL, old *Table) ([]string, error) {
	t.logger().Log(logging.LevelDebug, "Table alter", logging.Fields{
		"table": t.name,
		"old":   old.Type(),
		"new":   t.Type(),
	})
	if t.attributesSimilar(old, false) {
		return nil, nil
	}
	return d.AlterTableAttributes(t, t.AttributesWithDefaults())
}

// AddActionSQL queues SQL to run after action.
func (t *Table) AddActionSQL(action string, sql ...string) error {
	if !validActions[action] {
		return errors.Semantics("Invalid action {action} for table {table}").
			WithVar("action", action).WithVar("table", t.name)
	}
	t.actions[action] = append(t.actions[action], sql...)
	return nil
}

// ActionSQL returns the SQL queued for action.
func (t *Table) ActionSQL(action string) []string {
	if !validActions[action] {
		return nil
	}
	return append([]string(nil), t.actions[action]...)
}

func (t *Table) ClearActionSQL(action string) {
	delete(t.actions, action)
}

// SetRemoveSQL records SQL to run after column is dropped from this table.
func (t *Table) SetRemoveSQL(column, sql string) {
	t.removeSQL[column] = sql
}

// RemoveSQL returns the SQL recorded for dropping column.
func (t *Table) RemoveSQL(column string) (string, bool) {
	sql, ok := t.removeSQL[column]
	return sql, ok
}

// Clone deep-copies the table; columns and indexes belong to the copy.
func (t *Table) Clone() *Table {
	n := NewTable(t.engine, t.name, t.tableType)
	n.source = t.source
	for _, c := range t.columns {
		nc := c.Clone(n)
		n.columns = append(n.columns, nc)
		n.byName[nc.name] = nc
	}
	for _, name := range t.indexOrder {
		n.putIndex(t.indexes[name].clone(n))
	}
	n.collected = t.collected
	for k, v := range t.actions {
		n.actions[k] = append([]string(nil), v...)
	}
	for k, v := range t.removeSQL {
		n.removeSQL[k] = v
	}
	if t.Attributes != nil {
		n.Attributes = make(map[string]string, len(t.Attributes))
		for k, v := range t.Attributes {
			n.Attributes[k] = v
		}
	}
	return n
}

func (t *Table) logger() logging.Logger {
	if t.engine == nil {
		return logging.Nop{}
	}
	return t.engine.Logger()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
