package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// Tables lists the tables of a database.
func (a *App) Tables(ctx context.Context, name string) error {
	db, err := a.Database(ctx, name)
	if err != nil {
		return err
	}
	tables, err := db.ListTables(ctx)
	if err != nil {
		return err
	}
	cyan.Fprintf(a.Out, "%s", db.CodeName())
	gray.Fprintf(a.Out, " %s\n", db.SafeURL())
	if len(tables) == 0 {
		a.printf("  (no tables)\n")
		return nil
	}
	for _, t := range tables {
		a.printf("  %s\n", t)
	}
	return nil
}

// Show prints the columns, indexes and CREATE statement of a table as the
// database reports it.
func (a *App) Show(ctx context.Context, name, table string) error {
	db, err := a.Database(ctx, name)
	if err != nil {
		return err
	}
	t, err := db.DatabaseTable(ctx, table)
	if err != nil {
		return err
	}
	cyan.Fprintf(a.Out, "%s", t.Name())
	gray.Fprintf(a.Out, " (%s)\n", t.Type())
	for _, c := range t.Columns() {
		flags := []string{}
		if c.IsPrimaryKey() {
			flags = append(flags, "primary")
		}
		if c.IsIncrement() {
			flags = append(flags, "increment")
		}
		if c.NotNull() {
			flags = append(flags, "not null")
		}
		if v, ok := c.DefaultValue(); ok {
			flags = append(flags, fmt.Sprintf("default %v", v))
		}
		a.printf("  %-24s %-16s", c.Name(), c.SQLType())
		gray.Fprintf(a.Out, " %s\n", strings.Join(flags, ", "))
	}
	indexes := t.Indexes()
	for _, n := range t.IndexNames() {
		idx := indexes[n]
		a.printf("  %s %s (%s)\n", yellow.Sprint(idx.Type()), n, strings.Join(idx.Columns(), ", "))
	}
	sql, err := db.Dialect().CreateTable(t)
	if err != nil {
		return err
	}
	a.printf("\n%s;\n", strings.Join(sql, ";\n"))
	return nil
}

// SyncOptions configures diff and sync.
type SyncOptions struct {
	Database    string
	DropTables  bool
	KeepColumns bool
	DryRun      bool
}

func (o SyncOptions) plan(debug bool) migration.PlanOptions {
	return migration.PlanOptions{DropTables: o.DropTables, KeepColumns: o.KeepColumns, Debug: debug}
}

// Plan compares the schema directory with the live database.
func (a *App) Plan(ctx context.Context, opts SyncOptions) (*database.Database, *migration.Plan, error) {
	db, err := a.Database(ctx, opts.Database)
	if err != nil {
		return nil, nil, err
	}
	tables, err := a.Schema(db)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := migration.TakeSnapshot(ctx, db, migration.HistoryTable)
	if err != nil {
		return nil, nil, err
	}
	plan, err := migration.PlanTables(db.Dialect(), snapshot.Tables, tables.List(), opts.plan(a.Config.Debug))
	if err != nil {
		return nil, nil, err
	}
	return db, plan, nil
}

// Diff prints the changes sync would make.
func (a *App) Diff(ctx context.Context, opts SyncOptions) error {
	db, plan, err := a.Plan(ctx, opts)
	if err != nil {
		return err
	}
	a.printPlan(db, plan, true)
	return nil
}

// Sync applies the plan, or only prints it for a dry run.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	db, err := a.Database(ctx, opts.Database)
	if err != nil {
		return err
	}
	tables, err := a.Schema(db)
	if err != nil {
		return err
	}
	plan, err := migration.Synchronize(ctx, db, tables, opts.plan(a.Config.Debug), opts.DryRun)
	if err != nil {
		return err
	}
	a.printPlan(db, plan, opts.DryRun)
	if !opts.DryRun && !plan.Empty() {
		a.success("Applied %d change(s) to %s", len(plan.Changes), db.CodeName())
	}
	return nil
}

func (a *App) printPlan(db *database.Database, plan *migration.Plan, withSQL bool) {
	if plan.Empty() {
		a.success("%s is in sync with the schema", db.CodeName())
		return
	}
	for _, c := range plan.Changes {
		mark := green
		switch c.Kind {
		case migration.ChangeDropTable, migration.ChangeDropColumn, migration.ChangeDropIndex:
			mark = red
		case migration.ChangeAlterTable, migration.ChangeAlterColumn, migration.ChangeRenameColumn:
			mark = yellow
		}
		mark.Fprintf(a.Out, "%s\n", c)
		if withSQL {
			for _, sql := range c.SQL {
				gray.Fprintf(a.Out, "    %s;\n", sql)
			}
		}
	}
}

// Split prints the statements of a SQL script as the database's parser
// splits them.
func (a *App) Split(ctx context.Context, name, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	db, err := a.offline(ctx, name)
	if err != nil {
		return err
	}
	parser := db.Parser()
	for i, sql := range parser.SplitSQLStatements(string(content)) {
		st := parser.ParseSQL(sql)
		label := st.Command
		if st.Table != "" {
			label += " " + st.Table
		}
		cyan.Fprintf(a.Out, "-- %d: %s\n", i+1, label)
		a.printf("%s;\n\n", strings.TrimSpace(sql))
	}
	return nil
}

// DumpOptions configures dump.
type DumpOptions struct {
	Database string
	// Output is a file path; empty or "-" writes to the command output.
	Output string
	// XZ compresses the dump.
	XZ bool
	// Native runs the engine's dump tool instead of rendering CREATE
	// statements.
	Native bool
	Tables []string
}

// Dump writes the schema of a database.
func (a *App) Dump(ctx context.Context, opts DumpOptions) (err error) {
	db, err := a.Database(ctx, opts.Database)
	if err != nil {
		return err
	}

	var w io.Writer = a.Out
	if opts.Output != "" && opts.Output != "-" {
		f, ferr := os.Create(opts.Output)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	if opts.XZ {
		xw, xerr := xz.NewWriter(w)
		if xerr != nil {
			return xerr
		}
		defer func() {
			if cerr := xw.Close(); err == nil {
				err = cerr
			}
		}()
		w = xw
	}

	if opts.Native {
		return db.StreamShell(ctx, database.ShellOptions{Dump: true, Tables: opts.Tables}, nil, w)
	}
	return dumpSchema(ctx, db, opts.Tables, w)
}

func dumpSchema(ctx context.Context, db *database.Database, tables []string, w io.Writer) error {
	snapshot, err := migration.TakeSnapshot(ctx, db, migration.HistoryTable)
	if err != nil {
		return err
	}
	if len(tables) > 0 {
		selected := make(map[string]*schema.Table, len(tables))
		for _, name := range tables {
			t, ok := snapshot.Tables[name]
			if !ok {
				return tableNotFound(db, name, snapshot.Names())
			}
			selected[name] = t
		}
		snapshot.Tables = selected
	}
	statements, err := snapshot.CreateSQL(db.Dialect())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "-- schema of %s\n", db.SafeURL())
	for _, sql := range statements {
		if _, err := fmt.Fprintf(w, "%s;\n", sql); err != nil {
			return err
		}
	}
	return nil
}

func tableNotFound(db *database.Database, table string, tables []string) error {
	e := errors.New(errors.KindTableNotFound, "Table {table} not found in {database}").
		WithVar("table", table).WithVar("database", db.CodeName())
	if s := errors.SuggestSimilar(table, tables); s != "" {
		return e.WithSuggestion(s)
	}
	return e.WithSuggestion(errors.Suggestions[errors.KindTableNotFound])
}
