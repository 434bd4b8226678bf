package postgres

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

const (
	patternName = `("(?:[^"]|"")+"|[A-Za-z_][A-Za-z0-9_$]*)`
	// Multi-word types first so that "double precision" is not read as
	// type "double" followed by an option.
	patternColumnType = `((?:double\s+precision|character\s+varying|bit\s+varying|[A-Za-z_][A-Za-z0-9_]*)` +
		`(?:\s*\(([^)]*)\))?(?:\s+with(?:out)?\s+time\s+zone)?(?:\s*\[\])?)`
	patternCastSuffix = `(?:::(?:character varying|double precision|timestamp(?:\([0-9]+\))? with(?:out)? time zone|"?[a-z_][a-z0-9_]*"?)(?:\([^)]*\))?)*`
)

var (
	patternCreateTable = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:(?:GLOBAL\s+|LOCAL\s+)?(?:TEMP|TEMPORARY|UNLOGGED)\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` +
		`(?:` + patternName + `\.)?` + patternName + `\s*\((.*)\)\s*[^()]*;?\s*$`)
	patternConstraints = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+` + patternName + `\s+)?(PRIMARY\s+KEY|UNIQUE)\s*\(([^()]+)\)[^,]*`)
	patternForeignKey  = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+\S+\s+)?FOREIGN\s+KEY\s*\([^)]*\)\s*REFERENCES\s+[^,]*`)
	patternCheck       = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+\S+\s+)?CHECK\s*\((?:[^()]|\([^()]*\))*\)`)
	patternColumnList  = regexp.MustCompile(`(?is)^\s*` + patternName + `\s+` + patternColumnType + `(.*)$`)
	patternOptions     = regexp.MustCompile(`(?i)not\s+null|null|` +
		`default\s+'((?:[^']|'')*)'` + patternCastSuffix + `|` +
		`default\s+\(?(-?[0-9.]+)\)?` + patternCastSuffix + `|` +
		`default\s+([a-z_][a-z0-9_.]*\((?:[^()]|\([^()]*\))*\))` + patternCastSuffix + `|` +
		`default\s+\(((?:[^()]|\([^()]*\))*)\)|` +
		`default\s+([a-z_]+)|` +
		`primary\s+key|unique|` +
		`generated\s+(?:always|by\s+default)\s+as\s+identity(?:\s*\((?:[^()]|\([^()]*\))*\))?|` +
		`collate\s+("[^"]+"|[a-z_][a-z0-9_.]*)|` +
		`references\s+\S+?(?:\s*\([^)]*\))?(?:\s+on\s+(?:delete|update)\s+(?:cascade|restrict|set\s+null|set\s+default|no\s+action))*|` +
		`check\s*\((?:[^()]|\([^()]*\))*\)`)
)

// Parser reads PostgreSQL CREATE TABLE and CREATE INDEX statements, as
// written by hand or by pg_dump.
type Parser struct {
	database.BaseParser
}

// CreateTable parses a CREATE TABLE statement. A schema qualifier on the
// table name is dropped; serial types and identity columns become
// increment columns.
func (p *Parser) CreateTable(sql string) (*schema.Table, error) {
	source := sql
	tips, sql := schema.ExtractTips(sql)
	sql = p.DB.Dialect().RemoveComments(sql)

	m := patternCreateTable.FindStringSubmatch(strings.ReplaceAll(sql, "\n", " "))
	if m == nil {
		return nil, errors.New(errors.KindParse, "Unable to parse CREATE TABLE starting with: {sample}").
			WithVar("sample", sample(sql)).WithSQL(source)
	}
	t := p.DB.NewTable(schema.Unquote(m[2]), "")
	t.SetSource(source, false)

	body := strings.TrimSpace(m[3])
	if fks := patternForeignKey.FindAllString(body, -1); len(fks) > 0 {
		p.DB.Logger().Log(logging.LevelDebug, "Ignoring foreign keys", logging.Fields{"table": t.Name(), "count": len(fks)})
		body = patternForeignKey.ReplaceAllString(body, "${1}")
	}
	body = patternCheck.ReplaceAllString(body, "${1}")
	constraints := patternConstraints.FindAllStringSubmatch(body, -1)
	body = patternConstraints.ReplaceAllString(body, "${1}")

	for _, def := range schema.SplitDefinitions(body) {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(def)), "EXCLUDE") {
			continue
		}
		if err := p.parseColumn(t, def); err != nil {
			return nil, err
		}
	}
	if len(t.Columns()) == 0 {
		return nil, errors.New(errors.KindParse, "Unable to parse table {table} column definition: {sample}").
			WithVar("table", t.Name()).WithVar("sample", sample(body))
	}
	if err := processConstraints(t, constraints); err != nil {
		return nil, err
	}
	tips.Apply(t)
	return t, nil
}

// CreateIndex parses CREATE [UNIQUE] INDEX name ON [schema.]t [USING m] (...).
// The index gets its logical name, without the table prefix.
func (p *Parser) CreateIndex(t *schema.Table, sql string) (*schema.Index, error) {
	sql = p.DB.Dialect().RemoveComments(sql)
	sql = patternQualifiedTable.ReplaceAllString(sql, "${1}")
	sql = patternIndexOnly.ReplaceAllString(sql, "${1}")
	if m := patternIndexMethod.FindStringSubmatch(sql); m != nil {
		sql = strings.Replace(sql, m[0], m[1]+" (", 1)
		sql = strings.TrimRight(strings.TrimSpace(sql), ";") + " USING " + m[2]
	}
	idx, err := schema.ParseCreateIndex(t, sql)
	if err != nil {
		return nil, err
	}
	if logical := LogicalIndexName(t.Name(), idx.Name()); logical != idx.Name() && !idx.IsPrimary() {
		if _, err := t.RemoveIndex(idx.Name()); err != nil {
			return nil, err
		}
		renamed, err := schema.NewIndex(t, logical, idx.Type(), idx.Structure())
		if err != nil {
			return nil, err
		}
		return renamed.AddColumns(idx.IndexColumns()...)
	}
	return idx, nil
}

var (
	patternQualifiedTable = regexp.MustCompile(`(?i)(\bON\s+(?:ONLY\s+)?)(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_]*)\.`)
	patternIndexOnly      = regexp.MustCompile(`(?i)(\bON\s+)ONLY\s+`)
	patternIndexMethod    = regexp.MustCompile(`(?i)(\bON\s+(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_]*))\s+USING\s+([a-z]+)\s*\(`)
)

func (p *Parser) parseColumn(t *schema.Table, def string) error {
	m := patternColumnList.FindStringSubmatch(def)
	if m == nil {
		return errors.New(errors.KindParse, "Unable to parse table {table} column definition: {sample}").
			WithVar("table", t.Name()).WithVar("sample", sample(def))
	}
	sqlType := NormalizeType(m[2])
	c := schema.NewColumn(t, schema.Unquote(m[1]))
	switch strings.ToLower(sqlType) {
	case "serial", "serial4":
		sqlType, c.Increment = "integer", true
	case "bigserial", "serial8":
		sqlType, c.Increment = "bigint", true
	case "smallserial", "serial2":
		sqlType, c.Increment = "smallint", true
	}
	c.SetSQLType(sqlType)
	if size, err := strconv.Atoi(strings.TrimSpace(m[3])); err == nil && size != 0 {
		c.SetSize(size)
	}
	if c.Increment {
		c.SetNotNull(true)
	}
	if err := p.columnOptions(c, sqlType, m[4]); err != nil {
		return err
	}
	if _, err := t.ColumnAdd(c); err != nil {
		return errors.Wrap(errors.KindParse, err, "Invalid column spec {column} in {table}").
			WithVar("column", c.Name()).WithVar("table", t.Name())
	}
	return nil
}

func (p *Parser) columnOptions(c *schema.Column, sqlType, sql string) error {
	for _, loc := range patternOptions.FindAllStringSubmatchIndex(sql, -1) {
		option := strings.ToLower(strings.Join(strings.Fields(sql[loc[0]:loc[1]]), " "))
		value, group := "", 0
		for g := len(loc)/2 - 1; g > 0; g-- {
			if loc[2*g] >= 0 {
				value, group = sql[loc[2*g]:loc[2*g+1]], g
				break
			}
		}
		switch {
		case option == "not null":
			c.SetNotNull(true)
		case option == "null", option == "default null":
			c.SetNotNull(false)
		case strings.HasPrefix(option, "generated "):
			c.Increment = true
			c.SetNotNull(true)
		case option == "primary key":
			if _, err := c.AddIndex(schema.IndexNamePrimary, schema.IndexTypePrimary); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid primary key on {column}").WithVar("column", c.Name())
			}
		case option == "unique":
			if _, err := c.AddIndex("", schema.IndexTypeUnique); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid unique key on {column}").WithVar("column", c.Name())
			}
		case strings.HasPrefix(option, "collate "):
			c.Collation = schema.Unquote(value)
		case strings.HasPrefix(option, "references"), strings.HasPrefix(option, "check"):
		case strings.HasPrefix(option, "default "):
			switch group {
			case 1:
				c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, strings.ReplaceAll(value, "''", "'")))
			case 3:
				def, increment := ParseDefault(value)
				if increment {
					c.Increment = true
					c.ClearDefault()
					continue
				}
				c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, def))
			case 4:
				def, _ := ParseDefault("(" + value + ")")
				c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, def))
			default:
				c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, value))
			}
		}
	}
	return nil
}

func processConstraints(t *schema.Table, matches [][]string) error {
	for _, m := range matches {
		indexType := strings.ToUpper(strings.Join(strings.Fields(m[3]), " "))
		columns, err := schema.ParseIndexColumns(m[4])
		if err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid constraint in {table}").WithVar("table", t.Name())
		}
		name := LogicalIndexName(t.Name(), schema.Unquote(m[2]))
		if name == "" && indexType == schema.IndexTypeUnique {
			name = columns[0].Name + "_Unique"
		}
		idx, err := schema.NewIndex(t, name, indexType, "")
		if err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid constraint {index} in {table}").
				WithVar("index", name).WithVar("table", t.Name())
		}
		if _, err := idx.AddColumns(columns...); err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid constraint {index} in {table}").
				WithVar("index", name).WithVar("table", t.Name())
		}
	}
	return nil
}

func sample(sql string) string {
	sql = strings.TrimSpace(sql)
	if len(sql) > 128 {
		return sql[:128]
	}
	return sql
}
