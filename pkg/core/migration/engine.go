// Package migration synchronizes database schemas with their definitions
// and runs versioned migration files.
package migration

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// HistoryTable records applied migrations.
const HistoryTable = "schemasync_migrations"

// Migration represents a single database migration.
type Migration struct {
	ID        string    // Unique identifier (timestamp-based)
	Name      string    // Human-readable name
	UpSQL     string    // SQL to apply migration
	DownSQL   string    // SQL to rollback migration
	Checksum  string    // BLAKE3 hash of UpSQL
	AppliedAt time.Time // When migration was applied (zero if pending)
}

// History is one applied migration as stored in the history table.
type History struct {
	MigrationID string
	Name        string
	Checksum    string
	AppliedAt   time.Time
}

// Status describes a loaded migration against the history table.
type Status struct {
	ID        string
	Name      string
	Applied   bool
	AppliedAt time.Time
	// Modified is set when the file changed after it was applied.
	Modified bool
}

// Engine runs migrations against one database.
type Engine struct {
	db         *database.Database
	migrations []*Migration
	table      string
	lock       LockOptions
}

// NewEngine creates a migration engine for db.
func NewEngine(db *database.Database) *Engine {
	return &Engine{
		db:    db,
		table: HistoryTable,
		lock:  DefaultLockOptions(),
	}
}

// SetLockOptions changes how Up and Down wait for the migration lock.
func (e *Engine) SetLockOptions(opts LockOptions) { e.lock = opts }

// Migrations returns the loaded migrations in ID order.
func (e *Engine) Migrations() []*Migration { return e.migrations }

// Add loads a migration that does not come from a file.
func (e *Engine) Add(m *Migration) {
	e.migrations = append(e.migrations, m)
	sortMigrations(e.migrations)
}

func (e *Engine) logger() logging.Logger { return e.db.Logger() }

// historyTable defines the history table in the database's dialect.
func (e *Engine) historyTable() (*schema.Table, error) {
	tables, err := schema.NewBuilder(e.db).Table(e.table, func(t *schema.TableBuilder) {
		t.Int("id").PrimaryKey().AutoInc()
		t.String("migration_id").Size(64).NotNull().Unique()
		t.String("name").Size(255).NotNull()
		t.String("checksum").Size(64).NotNull()
		t.DateTime("applied_at").NotNull()
	}).Build()
	if err != nil {
		return nil, err
	}
	return tables[e.table], nil
}

// Init creates the history table if it doesn't exist.
func (e *Engine) Init(ctx context.Context) error {
	exists, err := e.db.TableExists(ctx, e.table)
	if err != nil || exists {
		return err
	}
	t, err := e.historyTable()
	if err != nil {
		return err
	}
	sql, err := t.SQLCreate(e.db.Dialect())
	if err != nil {
		return err
	}
	e.logger().Log(logging.LevelInfo, "Creating migration history table", logging.Fields{"table": e.table})
	_, err = e.db.Queries(ctx, sql, database.Exec())
	return err
}

// LoadFromDir loads every .sql migration in dir.
func (e *Engine) LoadFromDir(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return err
		}

		m, err := ParseMigrationFile(f.Name(), string(content))
		if err != nil {
			return err
		}
		e.migrations = append(e.migrations, m)
	}
	sortMigrations(e.migrations)
	return nil
}

func sortMigrations(list []*Migration) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// ParseMigrationFile parses a file named like 20231221_123000_create_users.sql
// with "-- UP" and "-- DOWN" sections.
func ParseMigrationFile(filename, content string) (*Migration, error) {
	parts := strings.SplitN(strings.TrimSuffix(filepath.Base(filename), ".sql"), "_", 3)
	if len(parts) < 3 || parts[2] == "" {
		return nil, errors.New(errors.KindParse, "Invalid migration file name {file}").
			WithVar("file", filename).WithSuggestion("Name migrations YYYYMMDD_HHMMSS_name.sql")
	}

	upSQL, downSQL := content, ""
	if i := strings.Index(content, "-- DOWN"); i >= 0 {
		upSQL, downSQL = content[:i], content[i+len("-- DOWN"):]
	}
	upSQL = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(upSQL), "-- UP"))

	return &Migration{
		ID:       parts[0] + "_" + parts[1],
		Name:     parts[2],
		UpSQL:    upSQL,
		DownSQL:  strings.TrimSpace(downSQL),
		Checksum: Checksum(upSQL),
	}, nil
}

// Checksum returns the hex BLAKE3 digest of sql.
func Checksum(sql string) string {
	sum := blake3.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// Applied returns the history table rows in the order they were applied.
func (e *Engine) Applied(ctx context.Context) ([]History, error) {
	rows, err := e.db.Select(ctx, dialects.SelectOptions{
		What:    "*",
		Table:   e.table,
		OrderBy: "id",
	})
	if err != nil {
		return nil, err
	}
	history := make([]History, 0, len(rows))
	for _, row := range rows {
		at, _ := row.Get("applied_at")
		history = append(history, History{
			MigrationID: row.String("migration_id"),
			Name:        row.String("name"),
			Checksum:    row.String("checksum"),
			AppliedAt:   toTime(at),
		})
	}
	return history, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func toTime(v interface{}) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case []byte:
		return toTime(string(x))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Pending returns migrations that haven't been applied yet.
func (e *Engine) Pending(ctx context.Context) ([]*Migration, error) {
	applied, err := e.Applied(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, h := range applied {
		done[h.MigrationID] = true
	}

	var pending []*Migration
	for _, m := range e.migrations {
		if !done[m.ID] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up applies all pending migrations under the migration lock.
func (e *Engine) Up(ctx context.Context) (int, error) {
	count := 0
	err := e.WithLock(ctx, func() error {
		pending, err := e.Pending(ctx)
		if err != nil {
			return err
		}
		for _, m := range pending {
			if err := e.apply(ctx, m); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Down rolls back the last applied migration.
func (e *Engine) Down(ctx context.Context) error {
	_, err := e.DownN(ctx, 1)
	return err
}

// DownN rolls back up to n migrations and returns how many were rolled
// back.
func (e *Engine) DownN(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, errors.Semantics("Rollback count must be positive, got {n}").WithVar("n", fmt.Sprint(n))
	}
	count := 0
	err := e.WithLock(ctx, func() error {
		applied, err := e.Applied(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return errors.Semantics("No migrations to roll back")
		}
		for i := len(applied) - 1; i >= 0 && count < n; i-- {
			if err := e.rollback(ctx, applied[i].MigrationID); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// DownTo rolls back migrations applied after target. The target itself
// stays applied.
func (e *Engine) DownTo(ctx context.Context, target string) (int, error) {
	count := 0
	err := e.WithLock(ctx, func() error {
		applied, err := e.Applied(ctx)
		if err != nil {
			return err
		}
		index := -1
		ids := make([]string, len(applied))
		for i, h := range applied {
			ids[i] = h.MigrationID
			if index < 0 && strings.HasPrefix(h.MigrationID, target) {
				index = i
			}
		}
		if index < 0 {
			return errors.KeyNotFound("migration", target, ids)
		}
		for i := len(applied) - 1; i > index; i-- {
			if err := e.rollback(ctx, applied[i].MigrationID); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Status returns the state of every loaded migration.
func (e *Engine) Status(ctx context.Context) ([]Status, error) {
	applied, err := e.Applied(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]History, len(applied))
	for _, h := range applied {
		byID[h.MigrationID] = h
	}

	status := make([]Status, 0, len(e.migrations))
	for _, m := range e.migrations {
		s := Status{ID: m.ID, Name: m.Name}
		if h, ok := byID[m.ID]; ok {
			s.Applied = true
			s.AppliedAt = h.AppliedAt
			s.Modified = h.Checksum != m.Checksum
		}
		status = append(status, s)
	}
	return status, nil
}

func (e *Engine) find(id string) (*Migration, error) {
	ids := make([]string, len(e.migrations))
	for i, m := range e.migrations {
		if m.ID == id {
			return m, nil
		}
		ids[i] = m.ID
	}
	return nil, errors.KeyNotFound("migration", id, ids).WithSuggestion("Load the migration directory that contains it")
}

func (e *Engine) run(ctx context.Context, m *Migration, script string) error {
	statements := e.db.Parser().SplitSQLStatements(script)
	if _, err := e.db.Queries(ctx, statements, database.Exec()); err != nil {
		kind := errors.KindOf(err)
		if kind == "" {
			kind = errors.KindSQLException
		}
		return errors.Wrap(kind, err, "Migration {id} failed").WithVar("id", m.ID)
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, m *Migration) error {
	if result := Validate(m); !result.Valid() {
		first := result.Errors()[0]
		return errors.New(errors.KindParse, "Migration {id} is invalid: {message}").
			WithVar("id", m.ID).WithVar("message", first.Message).WithSuggestion(first.Suggestion)
	}
	e.logger().Log(logging.LevelInfo, "Applying migration", logging.Fields{"id": m.ID, "name": m.Name})
	if err := e.run(ctx, m, m.UpSQL); err != nil {
		return err
	}
	m.AppliedAt = time.Now().UTC()
	_, err := e.db.Insert(ctx, e.table, dialects.Where{
		dialects.Cond("migration_id", m.ID),
		dialects.Cond("name", m.Name),
		dialects.Cond("checksum", m.Checksum),
		dialects.Cond("applied_at", m.AppliedAt),
	}, database.WithoutID())
	return err
}

func (e *Engine) rollback(ctx context.Context, id string) error {
	m, err := e.find(id)
	if err != nil {
		return err
	}
	if m.DownSQL == "" {
		return errors.Semantics("Migration {id} has no DOWN section").WithVar("id", m.ID)
	}
	e.logger().Log(logging.LevelInfo, "Rolling back migration", logging.Fields{"id": m.ID, "name": m.Name})
	if err := e.run(ctx, m, m.DownSQL); err != nil {
		return err
	}
	_, err = e.db.Delete(ctx, e.table, dialects.Where{dialects.Cond("migration_id", m.ID)}, dialects.DeleteOptions{})
	return err
}

// FromPlan turns a synchronization plan into a migration. Created tables
// are dropped on the way down; other changes are not reversible and leave
// the DOWN section empty.
func FromPlan(d dialects.SQLDialect, plan *Plan, name string, now time.Time) (*Migration, error) {
	var down []string
	for i := len(plan.Changes) - 1; i >= 0; i-- {
		c := plan.Changes[i]
		if c.Kind != ChangeCreateTable {
			down = nil
			break
		}
		sql, err := d.DropTable(c.Table)
		if err != nil {
			return nil, err
		}
		down = append(down, sql...)
	}
	upSQL := joinStatements(plan.Statements())
	return &Migration{
		ID:       now.Format("20060102_150405"),
		Name:     name,
		UpSQL:    upSQL,
		DownSQL:  joinStatements(down),
		Checksum: Checksum(upSQL),
	}, nil
}

func joinStatements(statements []string) string {
	if len(statements) == 0 {
		return ""
	}
	return strings.Join(statements, ";\n\n") + ";"
}

// SaveMigration writes m to dir and returns the file path.
func SaveMigration(dir string, m *Migration) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", m.ID, m.Name))
	content := fmt.Sprintf("-- UP\n%s\n\n-- DOWN\n%s\n", m.UpSQL, m.DownSQL)
	return path, os.WriteFile(path, []byte(content), 0644)
}
