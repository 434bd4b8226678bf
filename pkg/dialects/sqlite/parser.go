package sqlite

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
	patternName       = "(\"(?:[^\"]|\"\")+\"|`[^`]+`|\\[[^\\]]+\\]|[A-Za-z_][A-Za-z0-9_]*)"
	patternColumnType = `([A-Za-z]+(?:\s+(?:precision|varying))?(\([^)]*\))?)(\s+unsigned)?`
)

var (
	patternCreateTable = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:TEMP(?:ORARY)?\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + patternName +
		`\s*\((.*)\)\s*((?:WITHOUT\s+ROWID|STRICT|[\s,])*)\s*;?\s*$`)
	patternConstraints = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+` + patternName + `\s+)?(PRIMARY\s+KEY|UNIQUE)\s*\(([^()]+)\)[^,]*`)
	patternForeignKey  = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+\S+\s+)?FOREIGN\s+KEY\s*\([^)]*\)\s*REFERENCES\s+[^,]*`)
	patternCheck       = regexp.MustCompile(`(?i)(^|,)\s*(?:CONSTRAINT\s+\S+\s+)?CHECK\s*\((?:[^()]|\([^()]*\))*\)`)
	patternColumnList  = regexp.MustCompile(`(?i)^\s*` + patternName + `\s+` + patternColumnType + `(.*)$`)
	patternOptions     = regexp.MustCompile(`(?i)not null|null|default '((?:[^']|'')*)'|default (-?[0-9.]+)|` +
		`default \(((?:[^()]|\([^()]*\))*)\)|default ([a-z_]+)|primary key(?:\s+(?:asc|desc))?(?:\s+autoincrement)?|` +
		`autoincrement|unique|collate ([A-Za-z_]+)|references\s+\S+(?:\s*\([^)]*\))?`)
)

// Parser reads SQLite CREATE TABLE and CREATE INDEX statements as stored
// in sqlite_master.
type Parser struct {
	database.BaseParser
}

// CreateTable parses a CREATE TABLE statement, including the column
// rename and add/remove tips in its comments.
func (p *Parser) CreateTable(sql string) (*schema.Table, error) {
	source := sql
	tips, sql := schema.ExtractTips(sql)
	sql = p.DB.Dialect().RemoveComments(sql)

	m := patternCreateTable.FindStringSubmatch(strings.ReplaceAll(sql, "\n", " "))
	if m == nil {
		return nil, errors.New(errors.KindParse, "Unable to parse CREATE TABLE starting with: {sample}").
			WithVar("sample", sample(sql)).WithSQL(source)
	}
	t := p.DB.NewTable(schema.Unquote(m[1]), "")
	t.SetSource(source, false)

	body := strings.TrimSpace(m[2])
	if fks := patternForeignKey.FindAllString(body, -1); len(fks) > 0 {
		p.DB.Logger().Log(logging.LevelDebug, "Ignoring foreign keys", logging.Fields{"table": t.Name(), "count": len(fks)})
		body = patternForeignKey.ReplaceAllString(body, "${1}")
	}
	body = patternCheck.ReplaceAllString(body, "${1}")
	constraints := patternConstraints.FindAllStringSubmatch(body, -1)
	body = patternConstraints.ReplaceAllString(body, "${1}")

	for _, def := range schema.SplitDefinitions(body) {
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

// CreateIndex parses CREATE [UNIQUE] INDEX name ON t (...).
func (p *Parser) CreateIndex(t *schema.Table, sql string) (*schema.Index, error) {
	return schema.ParseCreateIndex(t, p.DB.Dialect().RemoveComments(sql))
}

func (p *Parser) parseColumn(t *schema.Table, def string) error {
	m := patternColumnList.FindStringSubmatch(def)
	if m == nil {
		return errors.New(errors.KindParse, "Unable to parse table {table} column definition: {sample}").
			WithVar("table", t.Name()).WithVar("sample", sample(def))
	}
	sqlType := strings.Join(strings.Fields(m[2]), " ")
	c := schema.NewColumn(t, schema.Unquote(m[1])).SetSQLType(sqlType)
	if size, err := strconv.Atoi(strings.Trim(m[3], "()")); err == nil && size != 0 {
		c.SetSize(size)
	}
	if strings.EqualFold(strings.TrimSpace(m[4]), "unsigned") {
		c.Unsigned = true
	}
	if err := p.columnOptions(c, sqlType, m[5]); err != nil {
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
		case option == "autoincrement":
			c.Increment = true
		case strings.HasPrefix(option, "primary key"):
			if strings.HasSuffix(option, "autoincrement") {
				c.Increment = true
			}
			if _, err := c.AddIndex(schema.IndexNamePrimary, schema.IndexTypePrimary); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid primary key on {column}").WithVar("column", c.Name())
			}
		case option == "unique":
			if _, err := c.AddIndex("", schema.IndexTypeUnique); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid unique key on {column}").WithVar("column", c.Name())
			}
		case strings.HasPrefix(option, "collate "):
			c.Collation = value
		case strings.HasPrefix(option, "references"):
		case strings.HasPrefix(option, "default "):
			switch group {
			case 1:
				c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, strings.ReplaceAll(value, "''", "'")))
			case 3:
				c.SetDefault("(" + value + ")")
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
		name := schema.Unquote(m[2])
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
