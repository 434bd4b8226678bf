package database

import (
	"regexp"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Parser reads SQL written for one engine.
type Parser interface {
	ParseSQL(sql string) schema.Statement
	SplitSQLStatements(script string) []string
	// CreateTable builds a table from a CREATE TABLE statement.
	CreateTable(sql string) (*schema.Table, error)
	// CreateIndex adds the index of a CREATE INDEX statement to t.
	CreateIndex(t *schema.Table, sql string) (*schema.Index, error)
}

// BaseParser provides the engine-independent parser operations. Engine
// parsers embed it.
type BaseParser struct {
	DB *Database
}

func (p BaseParser) ParseSQL(sql string) schema.Statement { return schema.ParseSQL(sql) }

func (p BaseParser) SplitSQLStatements(script string) []string {
	return schema.SplitSQLStatements(script)
}

// CreateIndex is unsupported unless the engine parser overrides it.
func (p BaseParser) CreateIndex(t *schema.Table, sql string) (*schema.Index, error) {
	return nil, errors.Unsupported(p.DB.EngineName(), "CREATE INDEX parsing")
}

var databaseHint = regexp.MustCompile(`(?im)^\s*--\s*Database:\s*([A-Za-z][A-Za-z0-9+.-]*)\s*$`)

// ParseFactory returns the parser for sql. A "-- Database: <scheme>" line
// in sql selects that scheme's parser, so one file can carry DDL for
// several engines. In development mode source must name where sql came
// from.
func ParseFactory(db *Database, sql, source string) (Parser, error) {
	if source == "" && db.opts.Development {
		return nil, errors.Semantics("A source is required to parse SQL in development mode").
			WithSQL(sql)
	}
	m := databaseHint.FindStringSubmatch(sql)
	if m == nil {
		return db.Parser(), nil
	}
	scheme := strings.ToLower(m[1])
	if scheme == db.url.Scheme || scheme == db.EngineName() {
		return db.Parser(), nil
	}
	factory, err := LookupEngine(scheme)
	if err != nil {
		return nil, err
	}
	other := NewWithEngine(&URL{Scheme: scheme, Name: db.url.Name}, factory(),
		WithCodeName(db.codeName+"@"+scheme), WithLogger(db.logger))
	db.logger.Log(logging.LevelDebug, "Using hinted parser", logging.Fields{
		"database": db.codeName,
		"scheme":   scheme,
		"source":   source,
	})
	return other.Parser(), nil
}

// TableSet is an ordered collection of parsed tables.
type TableSet struct {
	Order  []string
	Tables map[string]*schema.Table
}

// Get returns the named table.
func (s *TableSet) Get(name string) (*schema.Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// List returns the tables in definition order.
func (s *TableSet) List() []*schema.Table {
	out := make([]*schema.Table, 0, len(s.Order))
	for _, name := range s.Order {
		out = append(out, s.Tables[name])
	}
	return out
}

var schemaVariable = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadSchema parses a schema script into tables. Variables written as
// {name} are replaced from vars first. CREATE INDEX attaches to its table;
// INSERT and DROP TABLE statements run after their table is created.
// Unknown statements are logged and skipped.
func (d *Database) LoadSchema(script, source string, vars map[string]string) (*TableSet, error) {
	mapped := schemaVariable.ReplaceAllStringFunc(script, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
	parser, err := ParseFactory(d, mapped, source)
	if err != nil {
		return nil, err
	}
	set := &TableSet{Tables: map[string]*schema.Table{}}
	for _, sql := range parser.SplitSQLStatements(mapped) {
		st := parser.ParseSQL(sql)
		fields := logging.Fields{"table": st.Table, "statement": st.Command, "file": source}
		table := set.Tables[st.Table]
		switch st.Command {
		case schema.CommandCreateTable:
			t, err := parser.CreateTable(sql)
			if err != nil {
				return nil, err
			}
			if _, ok := set.Tables[t.Name()]; ok {
				return nil, errors.New(errors.KindParse, "Duplicate definition in {file} of {table}").
					WithVar("file", source).WithVar("table", t.Name()).WithSQL(sql)
			}
			t.SetSource(source, false)
			set.Tables[t.Name()] = t
			set.Order = append(set.Order, t.Name())
		case schema.CommandCreateIndex:
			if table == nil {
				return nil, errors.New(errors.KindParse, "Failed to CREATE INDEX in {file} on unknown table {table}").
					WithVar("file", source).WithVar("table", st.Table).WithSQL(sql)
			}
			if _, err := parser.CreateIndex(table, sql); err != nil {
				return nil, err
			}
			table.SetSource(sql, true)
		case schema.CommandInsert, schema.CommandDropTable:
			if table == nil {
				if len(set.Order) == 0 {
					return nil, errors.New(errors.KindParse, "{statement} in {file} before any table").
						WithVar("statement", st.Command).WithVar("file", source).WithSQL(sql)
				}
				table = set.Tables[set.Order[0]]
				d.logger.Log(logging.LevelWarn, "Statement on unknown table", fields)
			}
			if err := table.AddActionSQL(schema.ActionCreate, sql); err != nil {
				return nil, err
			}
		case schema.CommandNone:
		default:
			d.logger.Log(logging.LevelError, "Unknown SQL statement in schema", fields)
		}
	}
	return set, nil
}
