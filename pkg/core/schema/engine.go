package schema

import (
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Engine is what the schema model needs from its owning database: the type
// tables, engine defaults and a logger for debug comparisons.
type Engine interface {
	CodeName() string
	Types() *Types
	DefaultTableType() string
	DefaultIndexStructure(tableType string) string
	// TableAttributes returns the engine's table attributes and their defaults.
	TableAttributes() map[string]string
	// ColumnAttributes returns the engine's column attributes and their
	// defaults for c.
	ColumnAttributes(c *Column) map[string]string
	// ColumnDifferences returns engine-specific differences between columns.
	ColumnDifferences(a, b *Column) Differences
	Logger() logging.Logger
}

// DDL generates the statements the model asks its dialect for. Every
// dialect satisfies it.
type DDL interface {
	CreateTable(t *Table) ([]string, error)
	AlterTableAttributes(t *Table, attributes map[string]string) ([]string, error)
	AlterTableIndexAdd(t *Table, idx *Index) ([]string, error)
	AlterTableIndexDrop(t *Table, idx *Index) ([]string, error)
	IndexType(t *Table, name, indexType string, columns []IndexColumn) (string, error)
}

// Difference is a pair of differing values, this side first.
type Difference struct {
	This interface{}
	That interface{}
}

// Differences maps an attribute name to its differing values.
type Differences map[string]Difference

// Merge copies entries of other not already present.
func (d Differences) Merge(other Differences) Differences {
	if d == nil {
		d = Differences{}
	}
	for k, v := range other {
		if _, ok := d[k]; !ok {
			d[k] = v
		}
	}
	return d
}
