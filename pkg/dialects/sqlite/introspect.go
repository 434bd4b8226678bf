package sqlite

import (
	"context"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// ListTables returns the user tables in sqlite_master.
func (e *Engine) ListTables(ctx context.Context, db *database.Database) ([]string, error) {
	return db.QueryStrings(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' ORDER BY name", "name")
}

func (e *Engine) TableExists(ctx context.Context, db *database.Database, name string) (bool, error) {
	n, err := db.QueryInteger(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", database.Args(name))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DatabaseTable parses the CREATE TABLE statement SQLite stored for the
// table, then the CREATE INDEX statements of its explicit indexes.
func (e *Engine) DatabaseTable(ctx context.Context, db *database.Database, name string) (*schema.Table, error) {
	creates, err := db.QueryStrings(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", "sql", database.Args(name))
	if err != nil {
		return nil, err
	}
	if len(creates) == 0 {
		return nil, errors.New(errors.KindTableNotFound, "Table {table} not found in {database}").
			WithVar("table", name).WithVar("database", db.CodeName()).
			WithSuggestion(errors.Suggestions[errors.KindTableNotFound])
	}
	parser := e.Parser(db)
	t, err := parser.CreateTable(creates[0])
	if err != nil {
		return nil, err
	}
	indexes, err := db.QueryStrings(ctx, "SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name",
		"sql", database.Args(name))
	if err != nil {
		return nil, err
	}
	for _, sql := range indexes {
		if _, err := parser.CreateIndex(t, sql); err != nil {
			return nil, err
		}
	}
	t.SetSource("database:"+db.CodeName(), false)
	return t, nil
}
