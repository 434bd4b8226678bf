package sqlite

import (
	"reflect"
	"strings"
	"testing"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

func newTestDatabase() *database.Database {
	return database.NewWithEngine(&database.URL{Scheme: "sqlite", Name: Memory}, NewEngine())
}

func usersTable(t *testing.T, db *database.Database) *schema.Table {
	tables, err := schema.NewBuilder(db).Table("users", func(tb *schema.TableBuilder) {
		tb.Int("id").PrimaryKey().AutoInc()
		tb.String("email").Size(128).NotNull().Unique()
		tb.String("name").Null().Indexed("name_idx")
	}).Build()
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}
	return tables["users"]
}

func TestDialect_CreateTable(t *testing.T) {
	db := newTestDatabase()
	sql, err := db.Dialect().CreateTable(usersTable(t, db))
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	expected := []string{
		"CREATE TABLE \"users\" (\n\t\"id\" integer PRIMARY KEY AUTOINCREMENT NOT NULL,\n\t\"email\" varchar(128) NOT NULL,\n\t\"name\" varchar(255) NULL\n)",
		"CREATE UNIQUE INDEX \"email_Unique\" ON \"users\" (\"email\")",
		"CREATE INDEX \"name_idx\" ON \"users\" (\"name\")",
	}
	if !reflect.DeepEqual(sql, expected) {
		t.Errorf("Expected %q, got %q", expected, sql)
	}
}

func TestDialect_CompositePrimaryKey(t *testing.T) {
	db := newTestDatabase()
	tables, err := schema.NewBuilder(db).Table("members", func(tb *schema.TableBuilder) {
		tb.Int("group_id").NotNull()
		tb.Int("user_id").NotNull()
		tb.PrimaryKey("group_id", "user_id")
	}).Build()
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}
	sql, err := db.Dialect().CreateTable(tables["members"])
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	if len(sql) != 1 {
		t.Fatalf("Expected 1 statement, got %q", sql)
	}
	if !strings.HasSuffix(sql[0], ",\n\tPRIMARY KEY (\"group_id\", \"user_id\")\n)") {
		t.Errorf("Expected primary key constraint, got %q", sql[0])
	}
}

func TestDialect_AlterTableIndex(t *testing.T) {
	db := newTestDatabase()
	d := db.Dialect()
	users := usersTable(t, db)

	idx, err := users.Index("name_idx")
	if err != nil {
		t.Fatalf("Failed to get index: %v", err)
	}
	sql, err := d.AlterTableIndexDrop(users, idx)
	if err != nil {
		t.Fatalf("Failed to drop index: %v", err)
	}
	if !reflect.DeepEqual(sql, []string{"DROP INDEX IF EXISTS \"name_idx\""}) {
		t.Errorf("Expected DROP INDEX, got %q", sql)
	}

	sql, err = d.AlterTableIndexDrop(users, users.Primary())
	if err != nil {
		t.Fatalf("Failed to drop primary key: %v", err)
	}
	if sql[0] != "PRAGMA foreign_keys=OFF" || sql[len(sql)-1] != "PRAGMA foreign_keys=ON" {
		t.Errorf("Expected a table rebuild, got %q", sql)
	}
	if strings.Contains(sql[2], "PRIMARY KEY") {
		t.Errorf("Expected rebuilt table without primary key, got %q", sql[2])
	}

	if _, err := d.IndexType(users, "x", schema.IndexTypeIndex, idx.IndexColumns()); !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("Expected Unsupported for inline index, got %v", err)
	}
	clause, err := d.IndexType(users, "u", schema.IndexTypeUnique, idx.IndexColumns())
	if err != nil {
		t.Fatalf("Failed to render unique constraint: %v", err)
	}
	if clause != "CONSTRAINT \"u\" UNIQUE (\"name\")" {
		t.Errorf("Expected unique constraint, got %q", clause)
	}
}

func TestDialect_AlterTableColumns(t *testing.T) {
	db := newTestDatabase()
	d := db.Dialect()
	users := usersTable(t, db)

	age := schema.NewColumn(users, "age").SetSQLType("integer").SetDefault(int64(0))
	age.SetNotNull(true)
	sql, err := d.AlterTableColumnAdd(users, age)
	if err != nil {
		t.Fatalf("Failed to add column: %v", err)
	}
	if !reflect.DeepEqual(sql, []string{"ALTER TABLE \"users\" ADD COLUMN \"age\" integer NOT NULL DEFAULT 0"}) {
		t.Errorf("Expected ADD COLUMN, got %q", sql)
	}

	sql, err = d.AlterTableColumnDrop(users, "name")
	if err != nil {
		t.Fatalf("Failed to drop column: %v", err)
	}
	joined := strings.Join(sql, ";\n")
	for _, want := range []string{
		"BEGIN TRANSACTION",
		"(\"id\", \"email\") SELECT \"id\", \"email\" FROM \"users\"",
		"DROP TABLE \"users\"",
		"RENAME TO \"users\"",
		"CREATE UNIQUE INDEX \"email_Unique\" ON \"users\" (\"email\")",
		"COMMIT TRANSACTION",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected rebuild to contain %q, got %s", want, joined)
		}
	}
	if strings.Contains(joined, "name_idx") {
		t.Errorf("Expected index on dropped column to go, got %s", joined)
	}

	renamed := schema.NewColumn(users, "full_name").SetSQLType("varchar(64)")
	sql, err = d.AlterTableChangeColumn(users, "name", renamed)
	if err != nil {
		t.Fatalf("Failed to change column: %v", err)
	}
	joined = strings.Join(sql, ";\n")
	if !strings.Contains(joined, "(\"id\", \"email\", \"full_name\") SELECT \"id\", \"email\", \"name\" FROM \"users\"") {
		t.Errorf("Expected rename copy, got %s", joined)
	}
	if !strings.Contains(joined, "CREATE INDEX \"name_idx\" ON \"users\" (\"full_name\")") {
		t.Errorf("Expected index to follow the rename, got %s", joined)
	}

	if _, err := d.AlterTableColumnDrop(users, "missing"); !errors.IsKind(err, errors.KindKeyNotFound) {
		t.Errorf("Expected KeyNotFound, got %v", err)
	}
}

func TestDialect_Quoting(t *testing.T) {
	d := New()
	if got := d.QuoteColumn(`a"b`); got != `"a""b"` {
		t.Errorf("Expected doubled quote, got %s", got)
	}
	if got := d.QuoteText("it's"); got != "'it''s'" {
		t.Errorf("Expected doubled apostrophe, got %s", got)
	}
	if got := d.UnquoteColumn("`name`"); got != "name" {
		t.Errorf("Expected backticks removed, got %s", got)
	}
	if got, err := d.NowUTC(); err != nil || got != "datetime('now')" {
		t.Errorf("Expected datetime('now'), got %s (%v)", got, err)
	}
	if sql, err := d.AlterTableType("users", "InnoDB"); err != nil || sql != nil {
		t.Errorf("Expected table types to be ignored, got %q (%v)", sql, err)
	}
}

func TestParser_RoundTrip(t *testing.T) {
	db := newTestDatabase()
	users := usersTable(t, db)
	sql, err := db.Dialect().CreateTable(users)
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	parsed, err := db.ParseCreateTable(sql[0], "TestParser_RoundTrip")
	if err != nil {
		t.Fatalf("Failed to parse generated SQL: %v", err)
	}
	for _, stmt := range sql[1:] {
		if _, err := db.Parser().CreateIndex(parsed, stmt); err != nil {
			t.Fatalf("Failed to parse %q: %v", stmt, err)
		}
	}
	email, err := parsed.Column("email")
	if err != nil {
		t.Fatalf("Failed to get column email: %v", err)
	}
	want, _ := users.Column("email")
	if diffs := want.Differences(email); len(diffs) != 0 {
		t.Errorf("Expected email to round trip, got %v", diffs)
	}
	id, err := parsed.Column("id")
	if err != nil {
		t.Fatalf("Failed to get column id: %v", err)
	}
	if !id.IsIncrement() || !id.IsPrimaryKey() {
		t.Errorf("Expected auto increment primary key id")
	}
	if !reflect.DeepEqual(parsed.IndexNames(), users.IndexNames()) {
		t.Errorf("Expected indexes %v, got %v", users.IndexNames(), parsed.IndexNames())
	}
}

func TestParser_Constraints(t *testing.T) {
	db := newTestDatabase()
	sql := "/* RENAME: old_label -> label */\n" +
		"CREATE TABLE IF NOT EXISTS [tags] (\n" +
		"  `tag_id` INTEGER NOT NULL,\n" +
		"  \"post_id\" INTEGER NOT NULL REFERENCES posts(id),\n" +
		"  label TEXT DEFAULT 'it''s' COLLATE NOCASE,\n" +
		"  created timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,\n" +
		"  score REAL DEFAULT -1.5 CHECK (score >= -10),\n" +
		"  CONSTRAINT tag_post UNIQUE (tag_id, post_id),\n" +
		"  PRIMARY KEY (tag_id, post_id),\n" +
		"  FOREIGN KEY (tag_id) REFERENCES tag(id)\n" +
		")"
	table, err := db.ParseCreateTable(sql, "TestParser_Constraints")
	if err != nil {
		t.Fatalf("Failed to parse CREATE TABLE: %v", err)
	}
	if !reflect.DeepEqual(table.ColumnNames(), []string{"tag_id", "post_id", "label", "created", "score"}) {
		t.Errorf("Expected 5 columns, got %v", table.ColumnNames())
	}
	if primary := table.Primary(); primary == nil || !reflect.DeepEqual(primary.Columns(), []string{"tag_id", "post_id"}) {
		t.Errorf("Expected composite primary key, got %v", primary)
	}
	unique, err := table.Index("tag_post")
	if err != nil {
		t.Fatalf("Failed to get index tag_post: %v", err)
	}
	if !unique.IsUnique() {
		t.Errorf("Expected unique index, got %s", unique.Type())
	}

	label, _ := table.Column("label")
	if def, ok := label.DefaultValue(); !ok || def != "it's" {
		t.Errorf("Expected default it's, got %v", def)
	}
	if label.Collation != "NOCASE" || label.PreviousName != "old_label" {
		t.Errorf("Expected NOCASE collation and previous name, got %s/%s", label.Collation, label.PreviousName)
	}
	created, _ := table.Column("created")
	if def, _ := created.DefaultValue(); def != "CURRENT_TIMESTAMP" {
		t.Errorf("Expected CURRENT_TIMESTAMP, got %v", def)
	}
	score, _ := table.Column("score")
	if def, _ := score.DefaultValue(); def != -1.5 {
		t.Errorf("Expected -1.5, got %v (%T)", def, def)
	}
}

func TestParser_Invalid(t *testing.T) {
	db := newTestDatabase()
	_, err := db.ParseCreateTable("CREATE VIEW v AS SELECT 1", "TestParser_Invalid")
	if !errors.IsKind(err, errors.KindParse) {
		t.Errorf("Expected Parse error, got %v", err)
	}
}
