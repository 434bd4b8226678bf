package schema

import (
	"sort"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

const (
	IndexNamePrimary = "primary"

	IndexTypeIndex   = "INDEX"
	IndexTypeUnique  = "UNIQUE"
	IndexTypePrimary = "PRIMARY KEY"

	IndexSizeDefault = -1

	IndexStructureBTree = "BTREE"
	IndexStructureHash  = "HASH"
)

// IndexColumn is one member of an index with its prefix size.
type IndexColumn struct {
	Name string
	Size int
}

// Index is a named, typed, ordered set of columns of one table.
type Index struct {
	table     *Table
	name      string
	indexType string
	structure string
	columns   []IndexColumn
}

// DetermineIndexType normalizes an index type keyword.
func DetermineIndexType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "unique", "unique key", "unique index":
		return IndexTypeUnique
	case "primary key", "primary":
		return IndexTypePrimary
	}
	return IndexTypeIndex
}

// IsIndexType reports whether t is a recognized index type keyword.
func IsIndexType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "index", "key", "unique", "unique key", "unique index", "primary", "primary key":
		return true
	}
	return false
}

// NewIndex creates an index and installs it on t, replacing any index of the
// same name. Primary indexes are always named "primary".
func NewIndex(t *Table, name, indexType, structure string) (*Index, error) {
	idx := newIndex(t, name, indexType, structure)
	if _, err := t.RemoveIndex(idx.name); err != nil && !errors.IsKind(err, errors.KindKeyNotFound) {
		return nil, err
	}
	if err := t.AddIndex(idx); err != nil {
		return nil, errors.Wrap(errors.KindSemantics, err, "Adding index {name} to {table} failed").
			WithVar("name", idx.name).WithVar("table", t.Name())
	}
	return idx, nil
}

func newIndex(t *Table, name, indexType, structure string) *Index {
	idx := &Index{table: t, indexType: DetermineIndexType(indexType)}
	idx.name = name
	if idx.indexType == IndexTypePrimary {
		idx.name = IndexNamePrimary
	}
	idx.structure = idx.determineStructure(structure)
	return idx
}

func (idx *Index) determineStructure(structure string) string {
	switch s := strings.ToUpper(structure); s {
	case IndexStructureBTree, IndexStructureHash:
		return s
	}
	if idx.table == nil || idx.table.engine == nil {
		return ""
	}
	return strings.ToUpper(idx.table.engine.DefaultIndexStructure(idx.table.tableType))
}

func (idx *Index) Name() string      { return idx.name }
func (idx *Index) Table() *Table     { return idx.table }
func (idx *Index) Type() string      { return idx.indexType }
func (idx *Index) Structure() string { return idx.structure }
func (idx *Index) IsPrimary() bool   { return idx.indexType == IndexTypePrimary }
func (idx *Index) IsUnique() bool    { return idx.indexType == IndexTypeUnique }
func (idx *Index) IsIndex() bool     { return idx.indexType == IndexTypeIndex }

// SetType changes the index type; a primary index is renamed "primary".
func (idx *Index) SetType(t string) *Index {
	idx.indexType = DetermineIndexType(t)
	if idx.indexType == IndexTypePrimary {
		idx.name = IndexNamePrimary
	}
	return idx
}

// Columns returns the member column names in index order.
func (idx *Index) Columns() []string {
	names := make([]string, len(idx.columns))
	for i, c := range idx.columns {
		names[i] = c.Name
	}
	return names
}

// IndexColumns returns members with their sizes in index order.
func (idx *Index) IndexColumns() []IndexColumn {
	return append([]IndexColumn(nil), idx.columns...)
}

// ColumnSizes maps member names to their sizes.
func (idx *Index) ColumnSizes() map[string]int {
	m := make(map[string]int, len(idx.columns))
	for _, c := range idx.columns {
		m[c.Name] = c.Size
	}
	return m
}

func (idx *Index) ColumnCount() int { return len(idx.columns) }

func (idx *Index) hasColumn(name string) bool {
	for _, c := range idx.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// AddColumn adds a table column to the index. Adding to a primary index
// flags the column as primary key.
func (idx *Index) AddColumn(name string, size int) (*Index, error) {
	col, err := idx.table.Column(name)
	if err != nil {
		return idx, err
	}
	idx.addTableColumn(col, size)
	return idx, nil
}

func (idx *Index) addTableColumn(col *Column, size int) {
	if idx.indexType == IndexTypePrimary {
		col.primaryKey = true
	}
	for i, c := range idx.columns {
		if c.Name == col.name {
			idx.columns[i].Size = size
			return
		}
	}
	idx.columns = append(idx.columns, IndexColumn{Name: col.name, Size: size})
}

func (idx *Index) removeColumn(name string) {
	out := idx.columns[:0]
	for _, c := range idx.columns {
		if c.Name != name {
			out = append(out, c)
		}
	}
	idx.columns = out
}

// AddColumns adds several columns; a size of 0 means the default size.
func (idx *Index) AddColumns(columns ...IndexColumn) (*Index, error) {
	for _, c := range columns {
		size := c.Size
		if size == 0 {
			size = IndexSizeDefault
		}
		if _, err := idx.AddColumn(c.Name, size); err != nil {
			return idx, errors.Wrap(errors.KindSemantics, err, "No such column found {name} in {table}").
				WithVar("name", c.Name).WithVar("table", idx.table.Name())
		}
	}
	return idx, nil
}

// IsSimilar compares type, structure, table, name and membership; column
// order is insignificant but per-column size is not.
func (idx *Index) IsSimilar(that *Index, debug bool) bool {
	mismatch := func(what string, a, b interface{}) bool {
		if debug {
			idx.logger().Log(logging.LevelDebug, "Index not similar", logging.Fields{
				"index": idx.name,
				"what":  what,
				"this":  a,
				"that":  b,
			})
		}
		return false
	}
	if idx.indexType != that.indexType {
		return mismatch("type", idx.indexType, that.indexType)
	}
	if idx.structure != that.structure {
		return mismatch("structure", idx.structure, that.structure)
	}
	if idx.table.Name() != that.table.Name() {
		return mismatch("table", idx.table.Name(), that.table.Name())
	}
	if idx.name != that.name {
		return mismatch("name", idx.name, that.name)
	}
	if idx.ColumnCount() != that.ColumnCount() {
		return mismatch("column count", idx.ColumnCount(), that.ColumnCount())
	}
	a, b := idx.sortedColumns(), that.sortedColumns()
	for i := range a {
		if a[i] != b[i] {
			return mismatch("columns", a, b)
		}
	}
	return true
}

func (idx *Index) sortedColumns() []IndexColumn {
	cols := idx.IndexColumns()
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

func (idx *Index) logger() logging.Logger {
	if idx.table == nil || idx.table.engine == nil {
		return logging.Nop{}
	}
	return idx.table.engine.Logger()
}

// SQLIndexType renders the inline index clause used inside CREATE TABLE.
func (idx *Index) SQLIndexType(d DDL) (string, error) {
	return d.IndexType(idx.table, idx.name, idx.indexType, idx.IndexColumns())
}

// SQLIndexAdd renders the statements that add this index.
func (idx *Index) SQLIndexAdd(d DDL) ([]string, error) {
	return d.AlterTableIndexAdd(idx.table, idx)
}

// SQLIndexDrop renders the statements that drop this index.
func (idx *Index) SQLIndexDrop(d DDL) ([]string, error) {
	return d.AlterTableIndexDrop(idx.table, idx)
}

func (idx *Index) clone(t *Table) *Index {
	n := *idx
	n.table = t
	n.columns = append([]IndexColumn(nil), idx.columns...)
	return &n
}
