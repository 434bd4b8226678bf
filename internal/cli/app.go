// Package cli implements the CLI command handlers.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/core/registry"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"

	// Engines available to every command.
	_ "github.com/nexus-db/schemasync/pkg/dialects/mysql"
	_ "github.com/nexus-db/schemasync/pkg/dialects/postgres"
	_ "github.com/nexus-db/schemasync/pkg/dialects/sqlite"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

// App carries the loaded configuration and the database registry shared
// by the commands of one invocation.
type App struct {
	Config   *Config
	Registry *registry.Module
	Logger   logging.Logger
	Out      io.Writer
}

// NewApp builds the registry from cfg. Output goes to out, logs to stderr.
func NewApp(cfg *Config, out io.Writer) (*App, error) {
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger(os.Stderr)
	m, err := cfg.Registry(logger)
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Registry: m, Logger: logger, Out: out}, nil
}

// Open loads the config at path and builds the App.
func Open(path string, out io.Writer) (*App, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, out)
}

// Close disconnects every database the commands used.
func (a *App) Close() {
	a.Registry.DisconnectAll()
}

// Database returns the connected database registered under name; an empty
// name selects the default.
func (a *App) Database(ctx context.Context, name string) (*database.Database, error) {
	db, err := a.Registry.DatabaseRegistry(ctx, name)
	if err != nil {
		return nil, err
	}
	if !db.Connected() {
		if err := db.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// offline returns an unconnected database, enough for parsing and SQL
// generation.
func (a *App) offline(ctx context.Context, name string) (*database.Database, error) {
	return a.Registry.DatabaseRegistry(ctx, name, registry.WithoutReuse(), registry.WithoutConnect())
}

// Schema loads the configured schema directory with db's parser.
func (a *App) Schema(db *database.Database) (*database.TableSet, error) {
	return migration.LoadSchemaDir(db, a.Config.Resolve(a.Config.SchemaDir), a.Config.Vars)
}

func (a *App) migrations(db *database.Database) *migration.Engine {
	e := migration.NewEngine(db)
	opts := migration.DefaultLockOptions()
	opts.Timeout = a.Config.LockTimeout
	e.SetLockOptions(opts)
	return e
}

func (a *App) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Out, format, args...)
}

func (a *App) success(format string, args ...interface{}) {
	green.Fprint(a.Out, "✓ ")
	fmt.Fprintf(a.Out, format+"\n", args...)
}

func (a *App) warn(format string, args ...interface{}) {
	yellow.Fprint(a.Out, "⚠ ")
	fmt.Fprintf(a.Out, format+"\n", args...)
}

// PrintError writes err to w, using the colored layout for coded errors.
func PrintError(w io.Writer, err error) {
	var e *errors.Error
	if errors.As(err, &e) {
		fmt.Fprint(w, e.Print())
		return
	}
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
