package dialects

import (
	"strings"
	"testing"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/errors"
)

type backticks struct{}

func (backticks) QuoteColumn(name string) string   { return QuoteIdentifier(name, "`", "`") }
func (backticks) UnquoteColumn(name string) string { return UnquoteIdentifier(name, "`", "`") }
func (backticks) QuoteText(text string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(text) + "'"
}

func newBase() *Base {
	return &Base{Quoter: backticks{}, Engine: "test", Replace: true, Modifiers: true}
}

func TestWhere(t *testing.T) {
	b := newBase()
	tests := []struct {
		where    Where
		expected string
	}{
		{nil, ""},
		{Where{Cond("id", 1)}, " WHERE `id` = 1"},
		{Where{Cond("name", "O'Neil"), Cond("age|>=", 21)}, " WHERE `name` = 'O\\'Neil' AND `age` >= 21"},
		{Where{Cond("id", []int{1, 2})}, " WHERE (`id` = 1 OR `id` = 2)"},
		{Where{Cond("id|!=|AND", []int{1, 2})}, " WHERE (`id` != 1 AND `id` != 2)"},
		{Where{Cond("deleted", nil)}, " WHERE `deleted` IS NULL"},
		{Where{Cond("deleted|!=", nil)}, " WHERE `deleted` IS NOT NULL"},
		{Where{Cond("title|%", "go")}, " WHERE `title` LIKE '%go%'"},
		{Where{Cond("*created|<=", "NOW()")}, " WHERE created<=NOW()"},
		{Where{RawTerm("1 = 1"), GroupTerm(Where{Cond("a", 1), Cond("b", 2)})}, " WHERE 1 = 1 AND (`a` = 1 OR `b` = 2)"},
		{Where{Cond("u.id", 1)}, " WHERE `u`.`id` = 1"},
		{Where{Cond("tags", []string{})}, " WHERE `tags` IS NULL"},
	}
	for _, tt := range tests {
		sql, err := b.Where(tt.where, "", "")
		if err != nil {
			t.Fatalf("Failed to render where: %v", err)
		}
		if sql != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, sql)
		}
	}

	sql, err := b.Where(Where{Cond("a", 1), Cond("b", 2)}, "OR", "t")
	if err != nil {
		t.Fatalf("Failed to render where: %v", err)
	}
	if sql != " WHERE `t`.`a` = 1 OR `t`.`b` = 2" {
		t.Errorf("Expected prefixed OR clause, got %q", sql)
	}
	if _, err := b.Where(Where{Cond("a", 1)}, "XOR", ""); err == nil {
		t.Errorf("Expected an error for conjunction XOR")
	}
	if _, err := b.Where(Where{{Value: 42}}, "", ""); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for a positional number, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	b := newBase()
	sql, err := b.Select(SelectOptions{
		Columns: []What{{Column: "id"}, {Column: "name", Alias: "label"}, {Column: "COUNT(*)", Alias: "n", Literal: true}},
		Table:   "users",
		Where:   Where{Cond("active", true)},
		GroupBy: []string{"id", "name"},
		Having:  Where{RawTerm("COUNT(*) > 1")},
		OrderBy: "-name;id",
		Offset:  20,
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("Failed to render select: %v", err)
	}
	expected := "SELECT `id`, `name` AS `label`, COUNT(*) AS `n` FROM `users` WHERE `active` = 1" +
		" GROUP BY id, name HAVING COUNT(*) > 1 ORDER BY name DESC, id LIMIT 20,10"
	if sql != expected {
		t.Errorf("Expected %q, got %q", expected, sql)
	}

	sql, err = b.Select(SelectOptions{
		What:   "*",
		Tables: []TableRef{{Name: "users", Alias: "u"}, {Join: "JOIN `posts` AS `p` ON p.user_id = u.id"}},
		Where:  Where{Cond("u.id", 1)},
	})
	if err != nil {
		t.Fatalf("Failed to render select: %v", err)
	}
	if sql != "SELECT * FROM `users` AS `u`\nJOIN `posts` AS `p` ON p.user_id = u.id\nWHERE `u`.`id` = 1" {
		t.Errorf("Unexpected join select %q", sql)
	}

	sql, err = b.Select(SelectOptions{
		What:        "*",
		Table:       "users",
		Alias:       "u",
		Conjunction: "or",
		Where:       Where{Cond("active", 1), Cond("age|>=", 21), Cond("p.id", 3)},
	})
	if err != nil {
		t.Fatalf("Failed to render aliased select: %v", err)
	}
	expected = "SELECT * FROM `users` AS `u` WHERE `u`.`active` = 1 OR `u`.`age` >= 21 OR `p`.`id` = 3"
	if sql != expected {
		t.Errorf("Expected %q, got %q", expected, sql)
	}
	if _, err := b.Select(SelectOptions{What: "*", Table: "users", Conjunction: "XOR", Where: Where{Cond("a", 1)}}); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for conjunction XOR, got %v", err)
	}

	if _, err := b.Select(SelectOptions{Table: "users"}); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for an empty select list, got %v", err)
	}
	if _, err := b.Select(SelectOptions{What: "*"}); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics without a table, got %v", err)
	}
}

func TestLimitStyles(t *testing.T) {
	tests := []struct {
		style         LimitStyle
		offset, limit int
		expected      string
	}{
		{LimitComma, 0, 5, " LIMIT 5"},
		{LimitComma, 10, 0, " LIMIT 10,18446744073709551615"},
		{LimitOffset, 10, 5, " LIMIT 5 OFFSET 10"},
		{LimitOffset, 10, 0, " LIMIT -1 OFFSET 10"},
		{LimitStandard, 10, 0, " OFFSET 10"},
		{LimitStandard, 0, 0, ""},
	}
	for _, tt := range tests {
		b := &Base{Quoter: backticks{}, Limit: tt.style}
		if got := b.limit(tt.offset, tt.limit); got != tt.expected {
			t.Errorf("Expected %q for style %d, got %q", tt.expected, tt.style, got)
		}
	}
}

func TestInsertUpdateDelete(t *testing.T) {
	b := newBase()
	sql, err := b.Insert("users", Where{Cond("name", "a"), Cond("*created", "NOW()")}, InsertOptions{Verb: "replace"})
	if err != nil {
		t.Fatalf("Failed to render insert: %v", err)
	}
	if sql != "REPLACE INTO `users` (\n\t`name`,\n\t`created`\n) VALUES (\n\t'a',\n\tNOW()\n)" {
		t.Errorf("Unexpected insert %q", sql)
	}
	if _, err := b.Insert("users", nil, InsertOptions{Verb: "UPSERT"}); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for an unknown verb, got %v", err)
	}
	plain := &Base{Quoter: backticks{}, Engine: "plain"}
	if _, err := plain.Insert("users", nil, InsertOptions{LowPriority: true}); !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("Expected Unsupported for LOW_PRIORITY, got %v", err)
	}

	sql, err = b.Update(UpdateOptions{Table: "users", Values: Where{Cond("name", "b")}, Where: Where{Cond("id", 3)}})
	if err != nil {
		t.Fatalf("Failed to render update: %v", err)
	}
	if sql != "UPDATE `users` SET\n\t`name` = 'b' WHERE `id` = 3" {
		t.Errorf("Unexpected update %q", sql)
	}

	sql, err = b.Delete("users", Where{Cond("id", 3)}, DeleteOptions{Truncate: true})
	if err != nil {
		t.Fatalf("Failed to render delete: %v", err)
	}
	if sql != "DELETE FROM `users` WHERE `id` = 3" {
		t.Errorf("Unexpected delete %q", sql)
	}
}

func TestMixedToSQL(t *testing.T) {
	b := newBase()
	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	n := 7
	var missing *int
	tests := []struct {
		value    interface{}
		expected string
	}{
		{nil, "NULL"},
		{"", "''"},
		{"it's", `'it\'s'`},
		{true, "1"},
		{false, "0"},
		{42, "42"},
		{1.5, "1.5"},
		{when, "'2024-05-06 07:08:09'"},
		{[]interface{}{1, "a"}, "(1, 'a')"},
		{&n, "7"},
		{missing, "NULL"},
	}
	for _, tt := range tests {
		if got := b.MixedToSQL(tt.value); got != tt.expected {
			t.Errorf("Expected %s for %v, got %s", tt.expected, tt.value, got)
		}
	}
	b.Booleans = true
	if got := b.MixedToSQL(false); got != "FALSE" {
		t.Errorf("Expected FALSE, got %s", got)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	if got := QuoteIdentifier("db.users.*", `"`, `"`); got != `"db"."users".*` {
		t.Errorf("Unexpected quoting %s", got)
	}
	if got := QuoteIdentifier(`we"ird`, `"`, `"`); got != `"we""ird"` {
		t.Errorf("Unexpected quoting %s", got)
	}
	if got := UnquoteIdentifier(`"we""ird"`, `"`, `"`); got != `we"ird` {
		t.Errorf("Unexpected unquoting %s", got)
	}
}

func TestSQLFunction(t *testing.T) {
	b := newBase()
	sql, err := b.SQLFunction("average", "price", "avg_price")
	if err != nil {
		t.Fatalf("Failed to render function: %v", err)
	}
	if sql != "AVG(`price`) AS `avg_price`" {
		t.Errorf("Unexpected function %q", sql)
	}
	if _, err := b.SQLFunction("median", "price", ""); !errors.IsKind(err, errors.KindKeyNotFound) {
		t.Errorf("Expected KeyNotFound, got %v", err)
	}
	if got := b.FunctionMax("a + b"); got != "MAX(a + b)" {
		t.Errorf("Expected expressions to stay bare, got %s", got)
	}
}

func TestCoerceDefault(t *testing.T) {
	tests := []struct {
		kind     string
		raw      interface{}
		expected interface{}
	}{
		{schema.ScalarInteger, "42", int64(42)},
		{schema.ScalarInteger, true, int64(1)},
		{schema.ScalarInteger, "false", int64(0)},
		{schema.ScalarInteger, "abc", "abc"},
		{schema.ScalarDouble, "1.25", 1.25},
		{schema.ScalarDouble, int64(2), 2.0},
		{schema.ScalarString, 12, "12"},
		{schema.ScalarString, []byte("x"), "x"},
		{schema.ScalarString, nil, nil},
	}
	for _, tt := range tests {
		if got := CoerceDefault(tt.kind, tt.raw); got != tt.expected {
			t.Errorf("Expected %v (%T) for %v, got %v (%T)", tt.expected, tt.expected, tt.raw, got, got)
		}
	}
}

func TestIsExpression(t *testing.T) {
	for s, want := range map[string]bool{"(now())": true, "()": false, "now()": false, "(a": false} {
		if got := IsExpression(s); got != want {
			t.Errorf("Expected %v for %q, got %v", want, s, got)
		}
	}
}
