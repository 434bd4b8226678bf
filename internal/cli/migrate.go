package cli

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/errors"
)

func (a *App) migrationsDir() string {
	return a.Config.Resolve(a.Config.MigrationsDir)
}

// engine connects to the database and loads the migrations directory. A
// missing directory is not an error: there is nothing to apply.
func (a *App) engine(ctx context.Context, name string) (*migration.Engine, error) {
	db, err := a.Database(ctx, name)
	if err != nil {
		return nil, err
	}
	e := a.migrations(db)
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	if err := e.LoadFromDir(a.migrationsDir()); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return e, nil
}

// MigrateUp applies all pending migrations.
func (a *App) MigrateUp(ctx context.Context, name string) error {
	e, err := a.engine(ctx, name)
	if err != nil {
		return err
	}
	applied, err := e.Up(ctx)
	if err != nil {
		return err
	}
	if applied == 0 {
		a.printf("No pending migrations.\n")
		return nil
	}
	a.success("Applied %d migration(s)", applied)
	return nil
}

// MigrateDown rolls back migrations. With to set it rolls back every
// migration applied after that id; with n > 0 the last n; otherwise the
// last one.
func (a *App) MigrateDown(ctx context.Context, name, to string, n int) error {
	e, err := a.engine(ctx, name)
	if err != nil {
		return err
	}
	switch {
	case to != "":
		count, err := e.DownTo(ctx, to)
		if err != nil {
			return err
		}
		if count == 0 {
			a.printf("Already at migration %s\n", to)
			return nil
		}
		a.success("Rolled back %d migration(s) to %s", count, to)
	case n > 0:
		count, err := e.DownN(ctx, n)
		if err != nil {
			return err
		}
		a.success("Rolled back %d migration(s)", count)
	default:
		if err := e.Down(ctx); err != nil {
			return err
		}
		a.success("Rolled back last migration")
	}
	return nil
}

// MigrateReset rolls back every applied migration and applies them again.
func (a *App) MigrateReset(ctx context.Context, name string) error {
	e, err := a.engine(ctx, name)
	if err != nil {
		return err
	}
	applied, err := e.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		if _, err := e.DownN(ctx, len(applied)); err != nil {
			return err
		}
	}
	count, err := e.Up(ctx)
	if err != nil {
		return err
	}
	a.success("Reset complete. Applied %d migration(s)", count)
	return nil
}

// MigrateStatus lists every migration and whether it is applied.
func (a *App) MigrateStatus(ctx context.Context, name string) error {
	e, err := a.engine(ctx, name)
	if err != nil {
		return err
	}
	status, err := e.Status(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		a.printf("No migrations found.\n")
		return nil
	}
	for _, s := range status {
		switch {
		case s.Applied && s.Modified:
			yellow.Fprint(a.Out, "[~] ")
		case s.Applied:
			green.Fprint(a.Out, "[✓] ")
		default:
			a.printf("[ ] ")
		}
		a.printf("%s_%s", s.ID, s.Name)
		if s.Applied {
			gray.Fprintf(a.Out, " %s", s.AppliedAt.Format(time.RFC3339))
		}
		if s.Modified {
			yellow.Fprint(a.Out, " (modified since applied)")
		}
		a.printf("\n")
	}
	return nil
}

// MigrateCreate writes a new migration file. Unless empty is set its
// statements are the changes needed to bring the database to the schema
// directory; with no changes and no empty flag nothing is written.
func (a *App) MigrateCreate(ctx context.Context, dbName, name string, empty bool) (string, error) {
	var (
		m           *migration.Migration
		destructive bool
	)
	if empty {
		m = &migration.Migration{
			ID:    time.Now().UTC().Format("20060102_150405"),
			Name:  name,
			UpSQL: "-- Write the UP statements here",
		}
	} else {
		db, plan, err := a.Plan(ctx, SyncOptions{Database: dbName})
		if err != nil {
			return "", err
		}
		if plan.Empty() {
			a.success("%s is in sync with the schema, no migration created", db.CodeName())
			return "", nil
		}
		a.printPlan(db, plan, false)
		for _, c := range plan.Changes {
			switch c.Kind {
			case migration.ChangeDropTable, migration.ChangeDropColumn:
				destructive = true
			}
		}
		m, err = migration.FromPlan(db.Dialect(), plan, name, time.Now().UTC())
		if err != nil {
			return "", err
		}
	}
	path, err := migration.SaveMigration(a.migrationsDir(), m)
	if err != nil {
		return "", err
	}
	a.success("Created migration %s", path)
	if destructive {
		a.warn("The migration drops data; review it before running 'schemasync migrate up'")
	}
	return path, nil
}

// MigrateValidate checks every migration file without touching a
// database. It fails when any file has an error-level issue.
func (a *App) MigrateValidate() error {
	e := migration.NewEngine(nil)
	if err := e.LoadFromDir(a.migrationsDir()); err != nil {
		if os.IsNotExist(err) {
			a.printf("No migrations found.\n")
			return nil
		}
		return err
	}
	failed := 0
	for _, r := range migration.ValidateAll(e.Migrations()) {
		if len(r.Issues) == 0 {
			green.Fprint(a.Out, "✓ ")
			a.printf("%s\n", r.ID)
			continue
		}
		if r.Valid() {
			yellow.Fprint(a.Out, "⚠ ")
		} else {
			red.Fprint(a.Out, "✗ ")
			failed++
		}
		a.printf("%s\n", r.ID)
		for _, issue := range r.Issues {
			c := yellow
			if issue.Severity == migration.SeverityError {
				c = red
			}
			c.Fprintf(a.Out, "    %s: ", issue.Severity)
			a.printf("%s", issue.Message)
			if issue.Statement > 0 {
				gray.Fprintf(a.Out, " (statement %d)", issue.Statement)
			}
			a.printf("\n")
			if issue.Suggestion != "" {
				gray.Fprintf(a.Out, "      %s\n", issue.Suggestion)
			}
		}
	}
	if failed > 0 {
		return errors.New(errors.KindParse, "{count} migration(s) failed validation").WithVar("count", strconv.Itoa(failed))
	}
	return nil
}

// MigrateLocked reports whether another process holds the migration lock,
// by trying to take it without waiting.
func (a *App) MigrateLocked(ctx context.Context, name string) (bool, error) {
	db, err := a.Database(ctx, name)
	if err != nil {
		return false, err
	}
	err = migration.NewEngine(db).WithLock(ctx, func() error { return nil })
	if errors.IsKind(err, errors.KindTimeoutExpired) {
		return true, nil
	}
	return false, err
}
