package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

func openMemory(t *testing.T, rawURL string, options ...database.Option) *database.Database {
	t.Helper()
	db, err := database.Open(context.Background(), rawURL, options...)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", rawURL, err)
	}
	t.Cleanup(func() { db.Disconnect() })
	return db
}

func createUsers(t *testing.T, db *database.Database) {
	t.Helper()
	sql, err := db.Dialect().CreateTable(usersTable(t, db))
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	if _, err := db.Queries(context.Background(), sql, database.Exec()); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
}

func TestEngine_Open(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		url    string
		driver string
		dsn    string
	}{
		{"sqlite:///:memory:", DriverCgo, ":memory:?_foreign_keys=1&_busy_timeout=5000"},
		{"sqlite:///app.db?driver=sqlite", DriverPureGo, "app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"sqlite:////var/db/app.db?busy_timeout=100", DriverCgo, "/var/db/app.db?_foreign_keys=1&_busy_timeout=100"},
		{"sqlite3://data/app.db", DriverCgo, "data/app.db?_foreign_keys=1&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		u, err := database.URLParse(tt.url)
		if err != nil {
			t.Fatalf("Failed to parse URL %s: %v", tt.url, err)
		}
		driver, dsn, err := e.Open(u)
		if err != nil {
			t.Fatalf("Failed to open %s: %v", tt.url, err)
		}
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("Expected %s %s, got %s %s", tt.driver, tt.dsn, driver, dsn)
		}
	}

	u, _ := database.URLParse("sqlite:///app.db?driver=other")
	if _, _, err := e.Open(u); !errors.IsKind(err, errors.KindKeyNotFound) {
		t.Errorf("Expected KeyNotFound for unknown driver, got %v", err)
	}
}

func TestEngine_Introspection(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t, "sqlite:///:memory:")
	createUsers(t, db)

	tables, err := db.ListTables(ctx)
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	if !reflect.DeepEqual(tables, []string{"users"}) {
		t.Errorf("Expected [users], got %v", tables)
	}
	if ok, err := db.TableExists(ctx, "users"); err != nil || !ok {
		t.Errorf("Expected users to exist: %v", err)
	}
	if ok, err := db.TableExists(ctx, "nope"); err != nil || ok {
		t.Errorf("Expected nope to be missing: %v", err)
	}

	live, err := db.DatabaseTable(ctx, "users")
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}
	want := usersTable(t, db)
	if !reflect.DeepEqual(live.ColumnNames(), want.ColumnNames()) {
		t.Errorf("Expected columns %v, got %v", want.ColumnNames(), live.ColumnNames())
	}
	for _, name := range []string{"email", "name"} {
		a, _ := want.Column(name)
		b, err := live.Column(name)
		if err != nil {
			t.Fatalf("Failed to get column %s: %v", name, err)
		}
		if diffs := a.Differences(b); len(diffs) != 0 {
			t.Errorf("Expected column %s to match, got %v", name, diffs)
		}
	}
	if idx, err := live.Index("email_Unique"); err != nil || !idx.IsUnique() {
		t.Errorf("Expected unique index email_Unique: %v", err)
	}

	if _, err := db.DatabaseTable(ctx, "nope"); !errors.IsKind(err, errors.KindTableNotFound) {
		t.Errorf("Expected TableNotFound, got %v", err)
	}
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t, "sqlite:///:memory:?driver=sqlite")
	createUsers(t, db)

	row := dialects.Where{dialects.Cond("email", "a@example.com"), dialects.Cond("name", "A")}
	id, err := db.Insert(ctx, "users", row)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected id 1, got %d", id)
	}
	if _, err := db.Insert(ctx, "users", row); !errors.IsKind(err, errors.KindDuplicate) {
		t.Errorf("Expected Duplicate, got %v", err)
	}
	if _, err := db.QueryRows(ctx, "SELECT * FROM missing"); !errors.IsKind(err, errors.KindTableNotFound) {
		t.Errorf("Expected TableNotFound, got %v", err)
	}
}

func TestEngine_RebuildKeepsRows(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t, "sqlite:///:memory:")
	createUsers(t, db)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := db.Insert(ctx, "users", dialects.Where{dialects.Cond("email", email)}); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	live, err := db.DatabaseTable(ctx, "users")
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}
	sql, err := db.Dialect().AlterTableColumnDrop(live, "name")
	if err != nil {
		t.Fatalf("Failed to render column drop: %v", err)
	}
	if _, err := db.Queries(ctx, sql, database.Exec()); err != nil {
		t.Fatalf("Failed to drop column: %v", err)
	}

	after, err := db.DatabaseTable(ctx, "users")
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}
	if !reflect.DeepEqual(after.ColumnNames(), []string{"id", "email"}) {
		t.Errorf("Expected [id email], got %v", after.ColumnNames())
	}
	if !after.HasIndex("email_Unique") {
		t.Errorf("Expected email_Unique to survive the rebuild, got %v", after.IndexNames())
	}
	n, err := db.QueryInteger(ctx, "SELECT COUNT(*) FROM users")
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
	tables, _ := db.ListTables(ctx)
	if !reflect.DeepEqual(tables, []string{"users"}) {
		t.Errorf("Expected the temporary table to be gone, got %v", tables)
	}
}

func TestEngine_Locks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := openMemory(t, "sqlite:///:memory:", database.WithLockDir(dir), database.WithCodeName("app"))
	second := openMemory(t, "sqlite:///:memory:", database.WithLockDir(dir), database.WithCodeName("app"))

	if err := first.GetLock(ctx, "migrate", time.Second); err != nil {
		t.Fatalf("Failed to get lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "schemasync-app-migrate.lock")); err != nil {
		t.Errorf("Expected lock file: %v", err)
	}
	if err := second.GetLock(ctx, "migrate", 100*time.Millisecond); !errors.IsKind(err, errors.KindTimeoutExpired) {
		t.Errorf("Expected TimeoutExpired, got %v", err)
	}
	if err := second.ReleaseLock(ctx, "migrate"); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for a lock not held, got %v", err)
	}
	if err := first.ReleaseLock(ctx, "migrate"); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if err := second.GetLock(ctx, "migrate", 0); err != nil {
		t.Errorf("Expected lock after release: %v", err)
	}
}

func TestEngine_ShellCommand(t *testing.T) {
	db, err := database.New("sqlite:///data/app.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	cmd, err := db.ShellCommand(database.ShellOptions{Dump: true, Tables: []string{"users"}})
	if err != nil {
		t.Fatalf("Failed to build shell command: %v", err)
	}
	expected := []string{"-bail", "data/app.db", ".dump 'users'"}
	if cmd.Path != "sqlite3" || !reflect.DeepEqual(cmd.Args, expected) {
		t.Errorf("Expected sqlite3 %v, got %s %v", expected, cmd.Path, cmd.Args)
	}

	memory := newTestDatabase()
	if _, err := memory.ShellCommand(database.ShellOptions{}); !errors.IsKind(err, errors.KindSemantics) {
		t.Errorf("Expected Semantics for an in-memory shell, got %v", err)
	}
}

func TestEngine_Capabilities(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t, "sqlite:///:memory:")
	if _, err := db.TimeZone(ctx); !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("Expected Unsupported time zone, got %v", err)
	}
	if err := db.CreateDatabase(ctx, database.CreateDatabaseSpec{Name: "x"}); !errors.IsKind(err, errors.KindUnimplemented) {
		t.Errorf("Expected Unimplemented CreateDatabase, got %v", err)
	}
	version, err := db.Version(ctx)
	if err != nil || version == "" {
		t.Errorf("Expected a version: %v", err)
	}
	if cfg := db.Pool().Config(); cfg.MaxOpenConns != 1 {
		t.Errorf("Expected a single connection, got %d", cfg.MaxOpenConns)
	}
}
