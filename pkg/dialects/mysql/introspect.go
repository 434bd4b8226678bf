package mysql

import (
	"context"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `_`, `\_`, `%`, `\%`)

// ListTables returns the tables of the connected database.
func (e *Engine) ListTables(ctx context.Context, db *database.Database) ([]string, error) {
	return db.QueryStrings(ctx, "SHOW TABLES", "0")
}

// TableExists matches name exactly; LIKE wildcards in it are escaped.
func (e *Engine) TableExists(ctx context.Context, db *database.Database, name string) (bool, error) {
	tables, err := db.QueryStrings(ctx, "SHOW TABLES LIKE "+e.dialect.QuoteText(likeEscaper.Replace(name)), "0")
	if err != nil {
		return false, err
	}
	return len(tables) > 0, nil
}

// DatabaseTable reads SHOW CREATE TABLE and parses it.
func (e *Engine) DatabaseTable(ctx context.Context, db *database.Database, name string) (*schema.Table, error) {
	sql := "SHOW CREATE TABLE " + e.dialect.QuoteTable(name)
	v, err := db.QueryOne(ctx, sql, "1")
	if err != nil {
		if errors.IsKind(err, errors.KindNoResults) || errors.IsKind(err, errors.KindTableNotFound) {
			return nil, errors.New(errors.KindTableNotFound, "Table {table} not found in {database}").
				WithVar("table", name).WithVar("database", db.CodeName()).
				WithSuggestion(errors.Suggestions[errors.KindTableNotFound])
		}
		return nil, err
	}
	create := stringValue(v)
	t, err := e.Parser(db).CreateTable(create)
	if err != nil {
		return nil, err
	}
	t.SetSource("database:"+db.CodeName(), false)
	return t, nil
}
