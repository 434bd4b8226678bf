package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-db/schemasync/internal/cli"
)

var version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "schemasync",
		Short: "schemasync - keep database schemas in sync with SQL definitions",
		Long: `schemasync reads CREATE TABLE definitions and makes databases match them:
  • Diff and sync live tables against schema files
  • Up/down SQL migrations with history and locking
  • MySQL, PostgreSQL and SQLite engines
  • Schema dumps and a read-only inspection API`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default "+cli.ConfigFileName+")")
	rootCmd.PersistentFlags().StringP("database", "d", "", "Database name from the config (default: the configured default)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(tablesCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(splitCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads the config, builds the App and closes it after fn.
func run(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App, db string) error) error {
	path, _ := cmd.Flags().GetString("config")
	db, _ := cmd.Flags().GetString("database")
	app, err := cli.Open(path, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app, db)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new schemasync project",
		Long:  "Creates schemasync.yaml, a .env file, a schema directory with an example table and a migrations directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return cli.Init(dir, cmd.OutOrStdout())
		},
	}
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Tables(ctx, db)
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <table>",
		Short: "Show a table as the database defines it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Show(ctx, db, args[0])
			})
		},
	}
}

func syncFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("drop-tables", false, "Drop tables that are not in the schema")
	cmd.Flags().Bool("keep-columns", false, "Keep columns that are not in the schema")
}

func syncOptions(cmd *cobra.Command, db string) cli.SyncOptions {
	dropTables, _ := cmd.Flags().GetBool("drop-tables")
	keepColumns, _ := cmd.Flags().GetBool("keep-columns")
	return cli.SyncOptions{Database: db, DropTables: dropTables, KeepColumns: keepColumns}
}

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the changes sync would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Diff(ctx, syncOptions(cmd, db))
			})
		},
	}
	syncFlags(cmd)
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Make the database match the schema files",
		Long: `Creates missing tables and adds, changes, renames and drops columns and
indexes so the database matches the CREATE TABLE statements in the schema
directory. A column is renamed rather than dropped and re-added when the
CREATE TABLE carries a rename tip:

  -- COLUMN: old_name -> new_name`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				opts := syncOptions(cmd, db)
				opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
				return app.Sync(ctx, opts)
			})
		},
	}
	syncFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "Print the plan without applying it")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Create, apply, and manage database migrations.",
	}
	cmd.PersistentFlags().Duration("lock-timeout", 0, "How long to wait for the migration lock")

	withLock := func(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App, db string) error) error {
		return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
			if cmd.Flags().Changed("lock-timeout") {
				app.Config.LockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
			}
			return fn(ctx, app, db)
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLock(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.MigrateUp(ctx, db)
			})
		},
	})

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		Long: `Rollback migrations. By default rolls back the last migration.
Use --to to rollback to a specific version (exclusive).
Use -n to rollback a specific number of migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			n, _ := cmd.Flags().GetInt("n")
			return withLock(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.MigrateDown(ctx, db, to, n)
			})
		},
	}
	downCmd.Flags().String("to", "", "Rollback to this migration ID (exclusive)")
	downCmd.Flags().IntP("n", "n", 0, "Number of migrations to rollback")
	cmd.AddCommand(downCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Rollback all migrations, then apply all",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLock(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.MigrateReset(ctx, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.MigrateStatus(ctx, db)
			})
		},
	})

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a migration from the schema changes",
		Long: `Compares the schema directory with the database and writes the changes as
a new migration. With --empty an empty migration is written instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			empty, _ := cmd.Flags().GetBool("empty")
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				_, err := app.MigrateCreate(ctx, db, args[0], empty)
				return err
			})
		},
	}
	createCmd.Flags().Bool("empty", false, "Write an empty migration")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate migration SQL files",
		Long:  "Checks all migration files for syntax errors and warns about dangerous operations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.MigrateValidate()
			})
		},
	})

	return cmd
}

func splitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <file.sql>",
		Short: "Split a SQL script into statements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Split(ctx, db, args[0])
			})
		},
	}
}

func dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump [table...]",
		Short: "Dump the schema of a database",
		Long: `Writes the CREATE statements of every table, or of the named tables.

Examples:
  schemasync dump                       # Print the schema
  schemasync dump -o schema.sql.xz --xz # Compressed file
  schemasync dump --native              # Use mysqldump, pg_dump or sqlite3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			compress, _ := cmd.Flags().GetBool("xz")
			native, _ := cmd.Flags().GetBool("native")
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Dump(ctx, cli.DumpOptions{
					Database: db,
					Output:   output,
					XZ:       compress,
					Native:   native,
					Tables:   args,
				})
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	cmd.Flags().Bool("xz", false, "Compress the dump with xz")
	cmd.Flags().Bool("native", false, "Run the engine's dump tool")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan the schema whenever a schema file changes",
		Long: `Watches the schema directory and prints the sync plan on every change.

Examples:
  schemasync watch                 # Print the plan on changes
  schemasync watch --apply         # Sync on changes
  schemasync watch --poll          # Use polling (for network drives)
  schemasync watch --interval 1s   # Set debounce interval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.DefaultWatchOptions()
			opts.Apply, _ = cmd.Flags().GetBool("apply")
			opts.Poll, _ = cmd.Flags().GetBool("poll")
			opts.Interval, _ = cmd.Flags().GetDuration("interval")
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				opts.Sync = syncOptions(cmd, db)
				return app.Watch(ctx, opts)
			})
		},
	}
	syncFlags(cmd)
	cmd.Flags().Bool("apply", false, "Sync the database on every change")
	cmd.Flags().Bool("poll", false, "Use polling instead of OS events (for network drives)")
	cmd.Flags().Duration("interval", 500*time.Millisecond, "Debounce/poll interval")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only inspection API",
		Long: `Starts an HTTP server exposing tables, table definitions, rows, the sync
plan and the migration status of the configured databases as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.DefaultServeOptions()
			opts.Port, _ = cmd.Flags().GetInt("port")
			opts.Host, _ = cmd.Flags().GetString("host")
			return run(cmd, func(ctx context.Context, app *cli.App, db string) error {
				return app.Serve(ctx, opts)
			})
		},
	}
	cmd.Flags().Int("port", 4000, "Port to run the server on")
	cmd.Flags().String("host", "localhost", "Host to bind the server to")
	return cmd
}
