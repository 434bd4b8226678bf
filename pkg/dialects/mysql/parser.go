package mysql

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
	patternColumnName = "(`[^`]+`|[A-Za-z][A-Za-z0-9_]*)"
	patternColumnType = `([A-Za-z]+(\([^)]*\))?)(\s+unsigned)?`
)

var (
	patternCreateTable  = regexp.MustCompile("(?i)\\s*CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?(`[^`]+`|[A-Za-z][A-Za-z0-9_]+)\\s*\\((.*)\\)([A-Za-z0-9 =_]*);?")
	patternTableOptions = regexp.MustCompile(`(?i)(ENGINE|DEFAULT CHARSET|COLLATE)=([A-Za-z0-9_]+)`)
	patternColumnList   = regexp.MustCompile(`(?i)\s*(` + patternColumnName + `\s+` + patternColumnType + `([^,]*)),`)
	patternIndexes      = regexp.MustCompile(`(?i)(^|[\s,])(UNIQUE\s+(?:KEY|INDEX)|PRIMARY\s+KEY|KEY|UNIQUE|INDEX)(\s+` + patternColumnName +
		`)?\s*\(((?:[^()]|\([0-9]+\))+)\)\s*(?:USING\s+([A-Za-z]+))?,`)
	patternForeignKey    = regexp.MustCompile(`(?i)(?:CONSTRAINT\s+\S+\s+)?FOREIGN\s+KEY\s*\([^)]*\)\s*REFERENCES\s+\S+\s*\([^)]*\)[^,]*,`)
	patternColumnOptions = regexp.MustCompile(`(?i)not null|default null|default '([^']*)'|default b'([01]+)'|default (-?[0-9:.]+)|` +
		`default ([a-zA-Z_]+)(?:\(\))?|character set ([A-Za-z][-_A-Za-z0-9]*)|collate ([A-Za-z][-_A-Za-z0-9]*)|` +
		`auto_increment|primary key|on update current_timestamp(?:\(\))?`)
)

// Parser reads MySQL CREATE TABLE and CREATE INDEX statements.
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
	options := map[string]string{}
	for _, o := range patternTableOptions.FindAllStringSubmatch(m[3], -1) {
		options[strings.ToLower(o[1])] = o[2]
	}
	tableType := options[AttributeEngine]
	t := p.DB.NewTable(schema.Unquote(m[1]), tableType)
	for k, v := range options {
		t.SetAttribute(k, v)
	}
	t.SetSource(source, false)

	columns := strings.TrimSpace(m[2]) + ","
	if fks := patternForeignKey.FindAllString(columns, -1); len(fks) > 0 {
		p.DB.Logger().Log(logging.LevelDebug, "Ignoring foreign keys", logging.Fields{"table": t.Name(), "count": len(fks)})
		columns = patternForeignKey.ReplaceAllString(columns, "")
	}
	indexes := patternIndexes.FindAllStringSubmatch(columns, -1)
	columns = patternIndexes.ReplaceAllString(columns, "${1}")

	if err := p.parseColumns(t, columns); err != nil {
		return nil, err
	}
	if err := processIndexes(t, indexes); err != nil {
		return nil, err
	}
	tips.Apply(t)
	return t, nil
}

// CreateIndex parses CREATE [UNIQUE] INDEX name [USING x] ON t (...).
func (p *Parser) CreateIndex(t *schema.Table, sql string) (*schema.Index, error) {
	return schema.ParseCreateIndex(t, p.DB.Dialect().RemoveComments(sql))
}

func (p *Parser) parseColumns(t *schema.Table, sql string) error {
	matches := patternColumnList.FindAllStringSubmatch(sql, -1)
	if matches == nil {
		return errors.New(errors.KindParse, "Unable to parse table {table} column definition: {sample}").
			WithVar("table", t.Name()).WithVar("sample", sample(sql))
	}
	for _, m := range matches {
		sqlType := strings.TrimSpace(m[3])
		c := schema.NewColumn(t, schema.Unquote(m[2])).SetSQLType(sqlType)
		if strings.HasPrefix(strings.ToLower(sqlType), "varbinary") {
			c.Binary = true
		}
		if size, err := strconv.Atoi(strings.Trim(m[4], "()")); err == nil && size != 0 {
			c.SetSize(size)
		}
		if strings.EqualFold(strings.TrimSpace(m[5]), "unsigned") {
			c.Unsigned = true
		}
		if err := p.columnOptions(c, sqlType, m[6]); err != nil {
			return err
		}
		if strings.EqualFold(sqlType, "timestamp") && c.NotNull() {
			if _, ok := c.DefaultValue(); !ok {
				c.SetDefault(int64(0))
			}
		}
		if c.IsText() {
			attributes := p.DB.ColumnAttributes(c)
			if c.CharacterSet == "" {
				c.CharacterSet = attributes[schema.AttributeCharacterSet]
			}
			if c.Collation == "" {
				c.Collation = attributes[schema.AttributeCollation]
			}
		}
		if _, err := t.ColumnAdd(c); err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid column spec {column} in {table}").
				WithVar("column", c.Name()).WithVar("table", t.Name())
		}
	}
	return nil
}

func (p *Parser) columnOptions(c *schema.Column, sqlType, sql string) error {
	for _, loc := range patternColumnOptions.FindAllStringSubmatchIndex(sql, -1) {
		option := strings.ToLower(sql[loc[0]:loc[1]])
		value := ""
		for g := len(loc)/2 - 1; g > 0; g-- {
			if loc[2*g] >= 0 {
				value = sql[loc[2*g]:loc[2*g+1]]
				break
			}
		}
		switch {
		case option == "default null":
			c.SetNotNull(false)
			c.ClearDefault()
		case option == "not null":
			c.SetNotNull(true)
		case option == "auto_increment":
			c.Increment = true
		case strings.HasPrefix(option, "default current_timestamp"):
			c.SetDefault("CURRENT_TIMESTAMP")
		case strings.HasPrefix(option, "on update current_timestamp"):
			c.Extras = "ON UPDATE CURRENT_TIMESTAMP"
		case option == "primary key":
			if _, err := c.AddIndex(schema.IndexNamePrimary, schema.IndexTypePrimary); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid primary key on {column}").WithVar("column", c.Name())
			}
		case strings.HasPrefix(option, "default b'"):
			if n, err := strconv.ParseInt(value, 2, 64); err == nil {
				c.SetDefault(n)
			}
		case strings.HasPrefix(option, "default "):
			c.SetDefault(p.DB.Types().NativeTypeDefault(sqlType, value))
		case strings.HasPrefix(option, "character set "):
			c.CharacterSet = value
		case strings.HasPrefix(option, "collate "):
			c.Collation = value
		}
	}
	return nil
}

func processIndexes(t *schema.Table, matches [][]string) error {
	for _, m := range matches {
		indexType := strings.Join(strings.Fields(m[2]), " ")
		columns, err := schema.ParseIndexColumns(m[5])
		if err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid index in {table}").WithVar("table", t.Name())
		}
		name := schema.Unquote(m[4])
		if name == "" {
			name = columns[0].Name
		}
		idx, err := schema.NewIndex(t, name, indexType, m[6])
		if err != nil {
			return errors.Wrap(errors.KindParse, err, "Invalid index {index} in {table}").
				WithVar("index", name).WithVar("table", t.Name())
		}
		for _, c := range columns {
			if _, err := idx.AddColumn(c.Name, c.Size); err != nil {
				return errors.Wrap(errors.KindParse, err, "Invalid column {column} in index {index}").
					WithVar("column", c.Name).WithVar("index", name)
			}
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
