package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Statement commands recognized by ParseSQL.
const (
	CommandNone        = "none"
	CommandCreateTable = "create table"
	CommandCreateIndex = "create index"
	CommandInsert      = "insert"
	CommandReplace     = "replace"
	CommandUpdate      = "update"
	CommandSelect      = "select"
	CommandAlter       = "alter"
	CommandDropTable   = "drop table"
	CommandDrop        = "drop"
	CommandDelete      = "delete"
)

// Statement is the classification of a single SQL statement.
type Statement struct {
	Command string
	Table   string
}

const identifier = "(\"[^\"]+\"|`[^`]+`|\\[[^\\]]+\\]|[A-Za-z_][A-Za-z0-9_.]*)"

var (
	patternCommand = regexp.MustCompile(`(?is)^\s*(create\s+table|create\s+(?:unique\s+)?index|insert|replace|update|select|alter|drop\s+table|drop|delete)\b`)

	tablePatterns = map[string]*regexp.Regexp{
		CommandCreateTable: regexp.MustCompile(`(?is)^\s*create\s+table\s+(?:if\s+not\s+exists\s+)?` + identifier),
		CommandCreateIndex: regexp.MustCompile(`(?is)^\s*create\s+(?:unique\s+)?index\s+` + identifier + `\s+on\s+` + identifier),
		CommandInsert:      regexp.MustCompile(`(?is)^\s*insert\s+(?:low_priority\s+|delayed\s+|ignore\s+)*into\s+` + identifier),
		CommandReplace:     regexp.MustCompile(`(?is)^\s*replace\s+(?:low_priority\s+|delayed\s+)*into\s+` + identifier),
		CommandUpdate:      regexp.MustCompile(`(?is)^\s*update\s+(?:low_priority\s+)?(?:ignore\s+)?` + identifier),
		CommandSelect:      regexp.MustCompile(`(?is)^\s*select\s+.*?\s+from\s+` + identifier),
		CommandAlter:       regexp.MustCompile(`(?is)^\s*alter\s+table\s+` + identifier),
		CommandDropTable:   regexp.MustCompile(`(?is)^\s*drop\s+table\s+(?:if\s+exists\s+)?` + identifier),
		CommandDelete:      regexp.MustCompile(`(?is)^\s*delete\s+from\s+` + identifier),
	}

	spaces = regexp.MustCompile(`\s+`)
)

// ParseSQL classifies a statement and extracts the first table it names.
// Statements it cannot classify have Command "none".
func ParseSQL(sql string) Statement {
	sql = strings.TrimSpace(RemoveRangeComments(RemoveLineComments(sql, "--"), "/*", "*/"))
	m := patternCommand.FindStringSubmatch(sql)
	if m == nil {
		return Statement{Command: CommandNone}
	}
	command := spaces.ReplaceAllString(strings.ToLower(m[1]), " ")
	if strings.HasPrefix(command, "create") && strings.HasSuffix(command, "index") {
		command = CommandCreateIndex
	}
	st := Statement{Command: command}
	if p, ok := tablePatterns[command]; ok {
		if tm := p.FindStringSubmatch(sql); tm != nil {
			st.Table = Unquote(tm[len(tm)-1])
		}
	}
	return st
}

var quotedLiteral = regexp.MustCompile(`'[^']*'`)

var literalPlaceholder = regexp.MustCompile("\x01([0-9]+)\x02")

const escapedQuote = "\x00q\x00"

// SplitSQLStatements splits a script on semicolons outside quoted string
// literals. Statements are trimmed and empty statements dropped.
func SplitSQLStatements(script string) []string {
	s := strings.ReplaceAll(script, `\'`, escapedQuote)
	var literals []string
	s = quotedLiteral.ReplaceAllStringFunc(s, func(lit string) string {
		literals = append(literals, lit)
		return fmt.Sprintf("\x01%d\x02", len(literals)-1)
	})
	var out []string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = literalPlaceholder.ReplaceAllStringFunc(part, func(ph string) string {
			i, _ := strconv.Atoi(ph[1 : len(ph)-1])
			return literals[i]
		})
		out = append(out, strings.ReplaceAll(part, escapedQuote, `\'`))
	}
	return out
}

// SplitDefinitions splits the body of a CREATE TABLE on commas outside
// parentheses and quotes. Definitions are trimmed and empty ones dropped.
func SplitDefinitions(body string) []string {
	var out []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			out = append(out, body[start:i])
			start = i + 1
		}
	}
	out = append(out, body[start:])
	result := out[:0]
	for _, def := range out {
		if def = strings.TrimSpace(def); def != "" {
			result = append(result, def)
		}
	}
	return result
}

// ReverseOrderBy flips the direction of each comma-separated clause; a
// clause with no direction becomes DESC.
func ReverseOrderBy(orderBy string) string {
	if strings.TrimSpace(orderBy) == "" {
		return orderBy
	}
	return strings.Join(ReverseOrderByList(strings.Split(orderBy, ",")), ", ")
}

// ReverseOrderByList flips the direction of each clause.
func ReverseOrderByList(clauses []string) []string {
	out := make([]string, len(clauses))
	for i, clause := range clauses {
		clause = strings.TrimSpace(clause)
		upper := strings.ToUpper(clause)
		switch {
		case strings.HasSuffix(upper, " DESC"):
			out[i] = strings.TrimSpace(clause[:len(clause)-5]) + " ASC"
		case strings.HasSuffix(upper, " ASC"):
			out[i] = strings.TrimSpace(clause[:len(clause)-4]) + " DESC"
		default:
			out[i] = clause + " DESC"
		}
	}
	return out
}

// RemoveLineComments strips lines whose first non-blank text starts with
// prefix, and trailing prefix comments.
func RemoveLineComments(sql, prefix string) string {
	lines := strings.Split(sql, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			continue
		}
		if i := indexOutsideQuotes(line, prefix); i >= 0 {
			line = strings.TrimRight(line[:i], " \t")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// RemoveRangeComments strips comments delimited by start and end.
func RemoveRangeComments(sql, start, end string) string {
	for {
		i := indexOutsideQuotes(sql, start)
		if i < 0 {
			return sql
		}
		j := strings.Index(sql[i+len(start):], end)
		if j < 0 {
			return sql[:i]
		}
		sql = sql[:i] + sql[i+len(start)+j+len(end):]
	}
}

func indexOutsideQuotes(s, sub string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case strings.HasPrefix(s[i:], sub):
			return i
		}
	}
	return -1
}

// Unquote removes one level of identifier quoting.
func Unquote(name string) string {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return name
	}
	first, last := name[0], name[len(name)-1]
	switch {
	case first == '"' && last == '"':
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	case first == '`' && last == '`':
		return strings.ReplaceAll(name[1:len(name)-1], "``", "`")
	case first == '[' && last == ']':
		return name[1 : len(name)-1]
	case first == '\'' && last == '\'':
		return strings.ReplaceAll(name[1:len(name)-1], `''`, `'`)
	}
	return name
}

// Tips are schema annotations embedded in CREATE TABLE comments: column
// renames and SQL to run when a column is added or dropped.
type Tips struct {
	// Rename maps a new column name to its previous name.
	Rename map[string]string
	Add    map[string]string
	Remove map[string]string
}

// NewTips returns empty tips.
func NewTips() Tips {
	return Tips{Rename: map[string]string{}, Add: map[string]string{}, Remove: map[string]string{}}
}

// Apply attaches tips to the parsed table. Tips naming unknown columns are
// logged and ignored.
func (tips Tips) Apply(t *Table) {
	for _, column := range sortedKeys(tips.Rename) {
		if c, err := t.Column(column); err == nil {
			c.PreviousName = tips.Rename[column]
		} else {
			t.logger().Log(logging.LevelInfo, "Rename tip for unknown column", logging.Fields{
				"table": t.name, "column": column, "previous": tips.Rename[column],
			})
		}
	}
	for _, column := range sortedKeys(tips.Add) {
		if c, err := t.Column(column); err == nil {
			c.AddSQL = append(c.AddSQL, tips.Add[column])
		} else {
			t.logger().Log(logging.LevelInfo, "Add tip for unknown column", logging.Fields{
				"table": t.name, "column": column,
			})
		}
	}
	for column, sql := range tips.Remove {
		t.SetRemoveSQL(column, sql)
	}
}

var (
	patternTipRename      = regexp.MustCompile(`(?im)^--+\s*COLUMN:\s*` + identifier + `\s*->\s*` + identifier + `\s*$`)
	patternTipRenameRange = regexp.MustCompile(`(?i)/\*\s*RENAME:\s*` + identifier + `\s*->\s*` + identifier + `\s*\*/`)
	patternTipAlter       = regexp.MustCompile(`(?im)^--+\s*([+-])` + identifier + `:\s+(.*)$`)
)

// ExtractTips reads the tips of a CREATE TABLE script and returns the
// script with the tip comments removed:
//
//	-- COLUMN: Old_Name -> New_Name
//	/* RENAME: Old_Name -> New_Name */
//	-- +Column: UPDATE {table} SET Column=42
//	-- -Column: UPDATE {table} SET Other=Column*100
//
// SQL after "+" runs once the column is added, SQL after "-" before it is
// dropped. The first tip for a column wins.
func ExtractTips(sql string) (Tips, string) {
	tips := NewTips()
	for _, p := range []*regexp.Regexp{patternTipRename, patternTipRenameRange} {
		for _, m := range p.FindAllStringSubmatch(sql, -1) {
			tips.Rename[Unquote(m[2])] = Unquote(m[1])
			sql = strings.Replace(sql, m[0], "", 1)
		}
	}
	for _, m := range patternTipAlter.FindAllStringSubmatch(sql, -1) {
		column := Unquote(m[2])
		alter := strings.TrimRight(strings.TrimSpace(m[3]), ";\n") + ";"
		target := tips.Add
		if m[1] == "-" {
			target = tips.Remove
		}
		if _, ok := target[column]; !ok {
			target[column] = alter
		}
		sql = strings.Replace(sql, m[0], "", 1)
	}
	return tips, sql
}

var (
	patternCreateIndex = regexp.MustCompile(`(?is)^\s*create\s+(unique\s+)?index\s+(?:if\s+not\s+exists\s+)?` + identifier +
		`\s+(?:using\s+([a-z]+)\s+)?on\s+` + identifier + `\s*\(((?:[^()]|\([0-9]+\))+)\)\s*(?:using\s+([a-z]+))?`)
	patternIndexColumn = regexp.MustCompile(`(?i)^` + identifier + `\s*(?:\(\s*([0-9]+)\s*\))?(?:\s+(?:asc|desc))?$`)
)

// ParseIndexColumns parses an index member list such as
// "`a`, b(10) DESC". Members without a size get IndexSizeDefault.
func ParseIndexColumns(list string) ([]IndexColumn, error) {
	var out []IndexColumn
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := patternIndexColumn.FindStringSubmatch(part)
		if m == nil {
			return nil, errors.New(errors.KindParse, "Invalid index column {column}").WithVar("column", part)
		}
		size := IndexSizeDefault
		if m[2] != "" {
			size, _ = strconv.Atoi(m[2])
		}
		out = append(out, IndexColumn{Name: Unquote(m[1]), Size: size})
	}
	if len(out) == 0 {
		return nil, errors.New(errors.KindParse, "Index has no columns: {list}").WithVar("list", list)
	}
	return out, nil
}

// ParseCreateIndex adds the index of a CREATE [UNIQUE] INDEX statement to t.
// The statement must name t.
func ParseCreateIndex(t *Table, sql string) (*Index, error) {
	m := patternCreateIndex.FindStringSubmatch(sql)
	if m == nil {
		return nil, errors.New(errors.KindParse, "Unable to parse CREATE INDEX for {table}").
			WithVar("table", t.Name()).WithSQL(sql)
	}
	if table := Unquote(m[4]); !strings.EqualFold(table, t.Name()) {
		return nil, errors.New(errors.KindParse, "CREATE INDEX names table {other}, not {table}").
			WithVar("other", table).WithVar("table", t.Name()).WithSQL(sql)
	}
	indexType := IndexTypeIndex
	if strings.TrimSpace(m[1]) != "" {
		indexType = IndexTypeUnique
	}
	structure := m[3]
	if structure == "" {
		structure = m[6]
	}
	columns, err := ParseIndexColumns(m[5])
	if err != nil {
		return nil, err
	}
	idx, err := NewIndex(t, Unquote(m[2]), indexType, structure)
	if err != nil {
		return nil, err
	}
	for _, c := range columns {
		if _, err := idx.AddColumn(c.Name, c.Size); err != nil {
			return nil, errors.Wrap(errors.KindParse, err, "Invalid column {column} in index {index}").
				WithVar("column", c.Name).WithVar("index", idx.Name()).WithSQL(sql)
		}
	}
	return idx, nil
}
