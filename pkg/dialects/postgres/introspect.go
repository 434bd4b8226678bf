package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// ListTables returns the base tables of the current schema.
func (e *Engine) ListTables(ctx context.Context, db *database.Database) ([]string, error) {
	return db.QueryStrings(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`, "table_name")
}

func (e *Engine) TableExists(ctx context.Context, db *database.Database, name string) (bool, error) {
	n, err := db.QueryInteger(ctx, `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' AND table_name = $1`, database.Args(name))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const columnsQuery = `SELECT column_name, data_type, udt_name, character_maximum_length,
	numeric_precision, numeric_scale, is_nullable, column_default, is_identity, collation_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

const indexesQuery = `SELECT i.relname AS index_name, ix.indisprimary AS is_primary, ix.indisunique AS is_unique,
	am.amname AS structure,
	(SELECT string_agg(a.attname, ',' ORDER BY k.n)
		FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, n)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum) AS columns
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_am am ON am.oid = i.relam
JOIN pg_namespace ns ON ns.oid = t.relnamespace
WHERE ns.nspname = current_schema() AND t.relname = $1
	AND ix.indexprs IS NULL AND ix.indpred IS NULL
ORDER BY i.relname`

// DatabaseTable reads a table from information_schema and its indexes from
// pg_index. Expression and partial indexes are skipped.
func (e *Engine) DatabaseTable(ctx context.Context, db *database.Database, name string) (*schema.Table, error) {
	rows, err := db.QueryRows(ctx, columnsQuery, database.Args(name))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.KindTableNotFound, "Table {table} not found in {database}").
			WithVar("table", name).WithVar("database", db.CodeName()).
			WithSuggestion(errors.Suggestions[errors.KindTableNotFound])
	}
	t := db.NewTable(name, "")
	for _, row := range rows {
		if err := addColumn(db, t, row); err != nil {
			return nil, err
		}
	}

	indexes, err := db.QueryRows(ctx, indexesQuery, database.Args(name))
	if err != nil {
		return nil, err
	}
	for _, row := range indexes {
		if err := addIndex(t, row); err != nil {
			return nil, err
		}
	}
	t.SetSource("database:"+db.CodeName(), false)
	return t, nil
}

func addColumn(db *database.Database, t *schema.Table, row database.Row) error {
	c := schema.NewColumn(t, row.String("column_name"))
	c.SetSQLType(columnType(row))
	c.SetNotNull(row.String("is_nullable") == "NO")
	if row.String("is_identity") == "YES" {
		c.Increment = true
	}
	if v, ok := row.Get("column_default"); ok && v != nil {
		def, increment := ParseDefault(row.String("column_default"))
		if increment {
			c.Increment = true
		} else if def != nil {
			c.SetDefault(db.Types().NativeTypeDefault(c.SQLType(), def))
		}
	}
	if collation := row.String("collation_name"); collation != "" && collation != "default" {
		c.Collation = collation
	}
	if _, err := t.ColumnAdd(c); err != nil {
		return errors.Wrap(errors.KindSemantics, err, "Invalid column {column} in {table}").
			WithVar("column", c.Name()).WithVar("table", t.Name())
	}
	return nil
}

// columnType renders the information_schema description of a column as
// the type used in DDL.
func columnType(row database.Row) string {
	dataType := row.String("data_type")
	switch dataType {
	case "USER-DEFINED":
		return row.String("udt_name")
	case "ARRAY":
		return strings.TrimPrefix(row.String("udt_name"), "_") + "[]"
	case "character varying", "character", "bit", "bit varying":
		if n := row.String("character_maximum_length"); n != "" {
			return NormalizeType(dataType + "(" + n + ")")
		}
	case "numeric":
		precision, scale := row.String("numeric_precision"), row.String("numeric_scale")
		if precision != "" {
			if scale == "" {
				scale = "0"
			}
			return "numeric(" + precision + "," + scale + ")"
		}
	}
	return NormalizeType(dataType)
}

func addIndex(t *schema.Table, row database.Row) error {
	columns := strings.Split(row.String("columns"), ",")
	if len(columns) == 0 || columns[0] == "" {
		return nil
	}
	indexType := schema.IndexTypeIndex
	switch {
	case isTrue(row.String("is_primary")):
		indexType = schema.IndexTypePrimary
	case isTrue(row.String("is_unique")):
		indexType = schema.IndexTypeUnique
	}
	name := LogicalIndexName(t.Name(), row.String("index_name"))
	idx, err := schema.NewIndex(t, name, indexType, row.String("structure"))
	if err != nil {
		return err
	}
	for _, c := range columns {
		if _, err := idx.AddColumn(c, schema.IndexSizeDefault); err != nil {
			return errors.Wrap(errors.KindSemantics, err, "Invalid column {column} in index {index}").
				WithVar("column", c).WithVar("index", name)
		}
	}
	return nil
}

func isTrue(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
