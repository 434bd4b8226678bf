package dialects

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
)

// Term is one entry of a query-by-example condition list.
//
// An empty Key makes the term positional: a string Value is raw SQL and a
// Where Value is a parenthesized group. Keyed terms compare a column:
//
//	"name"          name = value
//	"age|>="        age >= value
//	"title|%"       title LIKE '%value%'
//	"*UTC|<="       UTC<=value, neither side quoted or escaped
//	"id|OR"         for list values, joins the comparisons with OR
type Term struct {
	Key   string
	Value interface{}
}

// Where is an ordered condition list.
type Where []Term

// Cond builds a keyed term.
func Cond(key string, value interface{}) Term { return Term{Key: key, Value: value} }

// RawTerm builds a positional raw SQL term.
func RawTerm(sql string) Term { return Term{Value: sql} }

// GroupTerm builds a positional nested group.
func GroupTerm(w Where) Term { return Term{Value: w} }

// Expr is a parsed condition.
type Expr interface {
	render(b *Base) string
}

// Compare is column OP value with a quoted column and value.
type Compare struct {
	Column string
	Op     string
	Value  interface{}
}

// RawCompare is left OP right, emitted verbatim without spaces.
type RawCompare struct {
	Left  string
	Op    string
	Right string
}

// IsNull is column IS [NOT] NULL.
type IsNull struct {
	Column string
	Not    bool
	// Raw leaves the column unquoted.
	Raw bool
}

// Like is column [NOT] LIKE '%pattern%'.
type Like struct {
	Column  string
	Pattern string
	Not     bool
}

// Raw is a literal SQL fragment.
type Raw struct {
	SQL string
}

// Group joins its items with a conjunction.
type Group struct {
	Conjunction string
	Items       []Expr
	Parens      bool
}

func (e Compare) render(b *Base) string {
	return b.QuoteColumn(e.Column) + " " + e.Op + " " + b.MixedToSQL(e.Value)
}

func (e RawCompare) render(*Base) string {
	return e.Left + e.Op + e.Right
}

func (e IsNull) render(b *Base) string {
	column := e.Column
	if !e.Raw {
		column = b.QuoteColumn(column)
	}
	if e.Not {
		return column + " IS NOT NULL"
	}
	return column + " IS NULL"
}

func (e Like) render(b *Base) string {
	op := " LIKE "
	if e.Not {
		op = " NOT LIKE "
	}
	return b.QuoteColumn(e.Column) + op + b.QuoteText("%"+e.Pattern+"%")
}

func (e Raw) render(*Base) string { return e.SQL }

func (e Group) render(b *Base) string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		if sql := item.render(b); sql != "" {
			parts = append(parts, sql)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	sql := strings.Join(parts, " "+e.Conjunction+" ")
	if e.Parens {
		return "(" + sql + ")"
	}
	return sql
}

// Render renders a parsed condition.
func (b *Base) Render(e Expr) string {
	if e == nil {
		return ""
	}
	return e.render(b)
}

func normalizeConjunction(conjunction string) (string, error) {
	switch c := strings.ToUpper(strings.TrimSpace(conjunction)); c {
	case "":
		return "AND", nil
	case "AND", "OR":
		return c, nil
	}
	return "", errors.Semantics("Invalid conjunction {conjunction}").WithVar("conjunction", conjunction)
}

func invertConjunction(conjunction string) string {
	if conjunction == "AND" {
		return "OR"
	}
	return "AND"
}

// ParseWhere parses a condition list into an expression tree. Conditions
// are joined with conjunction (AND when empty); undotted column names
// receive prefix.
func ParseWhere(where Where, conjunction, prefix string) (Expr, error) {
	conj, err := normalizeConjunction(conjunction)
	if err != nil {
		return nil, err
	}
	group := Group{Conjunction: conj}
	for _, term := range where {
		expr, err := parseTerm(term, conj, prefix)
		if err != nil {
			return nil, err
		}
		if expr != nil {
			group.Items = append(group.Items, expr)
		}
	}
	return group, nil
}

func parseTerm(term Term, conj, prefix string) (Expr, error) {
	key := strings.TrimSpace(term.Key)
	if key == "" {
		switch v := term.Value.(type) {
		case string:
			return Raw{SQL: v}, nil
		case Where:
			nested, err := ParseWhere(v, invertConjunction(conj), prefix)
			if err != nil {
				return nil, err
			}
			g := nested.(Group)
			g.Parens = true
			return g, nil
		case nil:
			return nil, nil
		}
		return nil, errors.Semantics("Positional condition must be SQL or a nested group, got {type}").
			WithVar("type", fmt.Sprintf("%T", term.Value))
	}
	if prefix != "" {
		key = applyPrefix(key, prefix)
	}
	if values, ok := listValues(term.Value); ok {
		column, itemConj := parseConjunction(key, invertConjunction(conj))
		if len(values) == 0 {
			name, _ := splitOperator(column)
			return IsNull{Column: strings.TrimPrefix(name, "*"), Raw: strings.HasPrefix(name, "*")}, nil
		}
		group := Group{Conjunction: itemConj, Parens: true}
		for _, v := range values {
			group.Items = append(group.Items, parsePair(column, v))
		}
		return group, nil
	}
	return parsePair(key, term.Value), nil
}

func applyPrefix(key, prefix string) string {
	name, _ := splitOperator(key)
	if strings.Contains(name, ".") {
		return key
	}
	if strings.HasPrefix(key, "*") {
		return "*" + prefix + "." + key[1:]
	}
	return prefix + "." + key
}

// parseConjunction strips a trailing |AND or |OR from key.
func parseConjunction(key, def string) (string, string) {
	if i := strings.LastIndex(key, "|"); i >= 0 {
		switch c := strings.ToUpper(key[i+1:]); c {
		case "AND", "OR":
			return key[:i], c
		}
	}
	return key, def
}

func splitOperator(key string) (string, string) {
	if i := strings.Index(key, "|"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, "="
}

func parsePair(key string, value interface{}) Expr {
	column, op := splitOperator(key)
	if strings.HasPrefix(column, "*") {
		column = column[1:]
		if value == nil {
			return IsNull{Column: column, Not: op == "!=", Raw: true}
		}
		return RawCompare{Left: column, Op: op, Right: fmt.Sprint(value)}
	}
	if value == nil {
		return IsNull{Column: column, Not: op == "!=" || op == "<>"}
	}
	switch op {
	case "%":
		return Like{Column: column, Pattern: fmt.Sprint(value)}
	case "!%":
		return Like{Column: column, Pattern: fmt.Sprint(value), Not: true}
	}
	return Compare{Column: column, Op: op, Value: value}
}

// listValues reports whether v is a multi-valued condition. Byte slices are
// single values.
func listValues(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	if _, ok := v.(Where); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
