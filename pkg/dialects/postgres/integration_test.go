package postgres

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// startPostgres runs a throwaway server and returns its URL. The test is
// skipped in short mode or when no container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("app"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("s3cret"),
		tcpostgres.BasicWaitStrategies(),
	)
	if ctr != nil {
		t.Cleanup(func() { testcontainers.TerminateContainer(ctr) })
	}
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return dsn
}

func openPostgres(t *testing.T, dsn string, options ...database.Option) *database.Database {
	t.Helper()
	db, err := database.Open(context.Background(), dsn, options...)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Disconnect() })
	return db
}

func TestPostgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	db := openPostgres(t, dsn, database.WithCodeName("app"))

	sql, err := db.Dialect().CreateTable(usersTable(t, db))
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	if _, err := db.Queries(ctx, sql, database.Exec()); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	t.Run("Introspection", func(t *testing.T) {
		tables, err := db.ListTables(ctx)
		if err != nil {
			t.Fatalf("Failed to list tables: %v", err)
		}
		if !reflect.DeepEqual(tables, []string{"users"}) {
			t.Errorf("Expected [users], got %v", tables)
		}
		live, err := db.DatabaseTable(ctx, "users")
		if err != nil {
			t.Fatalf("Failed to read table: %v", err)
		}
		want := usersTable(t, db)
		for _, name := range want.ColumnNames() {
			a, _ := want.Column(name)
			b, err := live.Column(name)
			if err != nil {
				t.Fatalf("Failed to get column %s: %v", name, err)
			}
			if diffs := a.Differences(b); len(diffs) != 0 {
				t.Errorf("Expected column %s to match, got %v", name, diffs)
			}
		}
		wantIndexes, gotIndexes := want.IndexNames(), live.IndexNames()
		sort.Strings(wantIndexes)
		sort.Strings(gotIndexes)
		if !reflect.DeepEqual(gotIndexes, wantIndexes) {
			t.Errorf("Expected indexes %v, got %v", wantIndexes, gotIndexes)
		}
		if _, err := db.DatabaseTable(ctx, "nope"); !errors.IsKind(err, errors.KindTableNotFound) {
			t.Errorf("Expected TableNotFound, got %v", err)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		row := dialects.Where{dialects.Cond("email", "a@example.com"), dialects.Cond("name", "A")}
		if _, err := db.Insert(ctx, "users", row); !errors.IsKind(err, errors.KindUnsupported) {
			t.Errorf("Expected Unsupported for insert ids, got %v", err)
		}
		if _, err := db.Insert(ctx, "users", dialects.Where{dialects.Cond("email", "b@example.com")}, database.WithoutID()); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		_, err := db.Insert(ctx, "users", dialects.Where{dialects.Cond("email", "b@example.com")}, database.WithoutID())
		if !errors.IsKind(err, errors.KindDuplicate) {
			t.Errorf("Expected Duplicate, got %v", err)
		}
		if _, err := db.QueryRows(ctx, "SELECT * FROM missing"); !errors.IsKind(err, errors.KindTableNotFound) {
			t.Errorf("Expected TableNotFound, got %v", err)
		}
	})

	t.Run("ChangeColumn", func(t *testing.T) {
		live, err := db.DatabaseTable(ctx, "users")
		if err != nil {
			t.Fatalf("Failed to read table: %v", err)
		}
		name, _ := live.Column("name")
		changed := name.Clone(live)
		changed.SetName("full_name").SetSQLType("text")
		changed.SetDefault("anonymous")
		sql, err := db.Dialect().AlterTableChangeColumn(live, "name", changed)
		if err != nil {
			t.Fatalf("Failed to render column change: %v", err)
		}
		if _, err := db.Queries(ctx, sql, database.Exec()); err != nil {
			t.Fatalf("Failed to change column: %v", err)
		}
		after, err := db.TableColumn(ctx, "users", "full_name")
		if err != nil {
			t.Fatalf("Failed to read column: %v", err)
		}
		if diffs := changed.Differences(after); len(diffs) != 0 {
			t.Errorf("Expected the changed column to match, got %v", diffs)
		}
	})

	t.Run("Locks", func(t *testing.T) {
		other := openPostgres(t, dsn, database.WithCodeName("app"))
		if err := db.GetLock(ctx, "migrate", time.Second); err != nil {
			t.Fatalf("Failed to get lock: %v", err)
		}
		if err := other.GetLock(ctx, "migrate", 200*time.Millisecond); !errors.IsKind(err, errors.KindTimeoutExpired) {
			t.Errorf("Expected TimeoutExpired, got %v", err)
		}
		if err := other.ReleaseLock(ctx, "migrate"); !errors.IsKind(err, errors.KindSemantics) {
			t.Errorf("Expected Semantics for a lock not held, got %v", err)
		}
		if err := db.ReleaseLock(ctx, "migrate"); err != nil {
			t.Fatalf("Failed to release lock: %v", err)
		}
		if err := other.GetLock(ctx, "migrate", time.Second); err != nil {
			t.Fatalf("Failed to get released lock: %v", err)
		}
		other.ReleaseLock(ctx, "migrate")
	})

	t.Run("Version", func(t *testing.T) {
		version, err := db.Version(ctx)
		if err != nil {
			t.Fatalf("Failed to get version: %v", err)
		}
		if version == "" || version[:2] != "16" {
			t.Errorf("Expected a 16.x server, got %q", version)
		}
	})
}
