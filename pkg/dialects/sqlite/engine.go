package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	modernc "modernc.org/sqlite"

	"github.com/nexus-db/schemasync/pkg/core/connection"
	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Driver names registered with database/sql.
const (
	DriverCgo    = "sqlite3"
	DriverPureGo = "sqlite"
)

// Memory is the file name of an in-memory database.
const Memory = ":memory:"

// Extended result codes reported by modernc.org/sqlite.
const (
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

const lockPoll = 50 * time.Millisecond

func init() {
	database.RegisterEngine(func() database.Engine { return NewEngine() }, "sqlite", "sqlite3")
}

// Engine is the SQLite database engine. Locks are lock files, since
// SQLite has no named server locks.
type Engine struct {
	types   *schema.Types
	dialect *Dialect
	owner   string

	mu    sync.Mutex
	locks map[string]string
}

// NewEngine creates a SQLite engine.
func NewEngine() *Engine {
	types := NewTypes()
	return &Engine{
		types:   types,
		dialect: newDialect(types),
		owner:   uuid.NewString(),
		locks:   map[string]string{},
	}
}

func (e *Engine) CodeName() string             { return "sqlite" }
func (e *Engine) Dialect() dialects.SQLDialect { return e.dialect }
func (e *Engine) Types() *schema.Types         { return e.types }

func (e *Engine) Parser(db *database.Database) database.Parser {
	return &Parser{database.BaseParser{DB: db}}
}

// File returns the database file named by u:
//
//	sqlite:///:memory:       in-memory
//	sqlite:///app.db         app.db, relative
//	sqlite:////var/db/app.db /var/db/app.db
//	sqlite://data/app.db     data/app.db
func File(u *database.URL) string {
	if u.Name == Memory {
		return Memory
	}
	if u.Host != "" {
		return u.Host + u.Path
	}
	return strings.TrimPrefix(u.Path, "/")
}

// Open picks the mattn driver unless the URL asks for driver=sqlite, the
// pure Go modernc driver. Foreign keys are enforced and writers wait up to
// busy_timeout milliseconds for the database lock.
func (e *Engine) Open(u *database.URL) (string, string, error) {
	file := File(u)
	if file == "" {
		return "", "", errors.Semantics("SQLite URL {url} has no file name").WithVar("url", u.Safe())
	}
	busy := u.Option("busy_timeout", "5000")
	switch driver := u.Option("driver", DriverCgo); driver {
	case DriverCgo:
		return DriverCgo, file + "?_foreign_keys=1&_busy_timeout=" + busy, nil
	case DriverPureGo:
		return DriverPureGo, file + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(" + busy + ")", nil
	default:
		return "", "", errors.KeyNotFound("driver", driver, []string{DriverCgo, DriverPureGo})
	}
}

// TunePool limits the pool to one connection. SQLite has a single writer,
// and an in-memory database exists only on its connection.
func (e *Engine) TunePool(u *database.URL, cfg connection.PoolConfig) connection.PoolConfig {
	if File(u) == Memory {
		return connection.SingleConnection()
	}
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	return cfg
}

// TranslateError maps constraint and missing table errors of both drivers.
func (e *Engine) TranslateError(err error) *errors.Error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return errors.Wrap(errors.KindDuplicate, err, "Duplicate entry")
		}
	}
	var me *modernc.Error
	if errors.As(err, &me) {
		if code := me.Code(); code == codeConstraintUnique || code == codeConstraintPrimaryKey {
			return errors.Wrap(errors.KindDuplicate, err, "Duplicate entry")
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return errors.Wrap(errors.KindTableNotFound, err, "Table not found")
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.Wrap(errors.KindDuplicate, err, "Duplicate entry")
	case strings.Contains(msg, "unable to open database"):
		return errors.Wrap(errors.KindConnect, err, "Unable to open SQLite database").
			WithSuggestion(errors.Suggestions[errors.KindConnect])
	}
	if se.Code != 0 || me != nil {
		return errors.Wrap(errors.KindSQLException, err, "SQLite error")
	}
	return nil
}

func (e *Engine) DefaultTableType() string                      { return "" }
func (e *Engine) DefaultIndexStructure(tableType string) string { return "" }
func (e *Engine) TableAttributes() map[string]string            { return map[string]string{} }

func (e *Engine) ColumnAttributes(c *schema.Column) map[string]string {
	return map[string]string{}
}

func (e *Engine) ColumnDifferences(a, b *schema.Column) schema.Differences {
	return schema.Differences{}
}

var lockNameCleaner = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func (e *Engine) lockPath(db *database.Database, name string) string {
	dir := db.Options().LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "schemasync-"+lockNameCleaner.ReplaceAllString(db.CodeName()+"-"+name, "_")+".lock")
}

// GetLock creates an exclusive lock file in the lock directory, polling
// until wait expires while another process holds it.
func (e *Engine) GetLock(ctx context.Context, db *database.Database, name string, wait time.Duration) error {
	path := e.lockPath(db, name)
	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%s %d\n", e.owner, os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return errors.Wrap(errors.KindConfiguration, werr, "Unable to write lock file {path}").WithVar("path", path)
			}
			e.mu.Lock()
			e.locks[name] = path
			e.mu.Unlock()
			db.Logger().Log(logging.LevelDebug, "Lock acquired", logging.Fields{"lock": name, "path": path})
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrap(errors.KindConfiguration, err, "Unable to create lock file {path}").WithVar("path", path)
		}
		if !time.Now().Before(deadline) {
			return errors.New(errors.KindTimeoutExpired, "Timed out waiting for lock {lock}").
				WithVar("lock", name).WithVar("wait", wait.String()).WithVar("path", path).
				WithSuggestion(errors.Suggestions[errors.KindTimeoutExpired])
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.KindTimeoutExpired, ctx.Err(), "Gave up waiting for lock {lock}").WithVar("lock", name)
		case <-time.After(lockPoll):
		}
	}
}

// ReleaseLock removes a lock file created by GetLock.
func (e *Engine) ReleaseLock(ctx context.Context, db *database.Database, name string) error {
	e.mu.Lock()
	path, ok := e.locks[name]
	delete(e.locks, name)
	e.mu.Unlock()
	if !ok {
		return errors.Semantics("Lock {lock} is not held").WithVar("lock", name)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindConfiguration, err, "Unable to remove lock file {path}").WithVar("path", path)
	}
	return nil
}

// BeforeDisconnect removes the lock files still held.
func (e *Engine) BeforeDisconnect(db *database.Database) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, path := range e.locks {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			db.Logger().Log(logging.LevelWarn, "Error removing lock file", logging.Fields{"lock": name, "error": err})
		}
		delete(e.locks, name)
	}
}

func (e *Engine) AfterConnect(ctx context.Context, db *database.Database) error { return nil }

// Version returns the SQLite library version.
func (e *Engine) Version(ctx context.Context, db *database.Database) (string, error) {
	v, err := db.QueryOne(ctx, "SELECT sqlite_version() AS version", "version", database.WithoutLog())
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// ShellCommand runs the sqlite3 shell; a dump runs its .dump command.
// Without Force the shell stops at the first error.
func (e *Engine) ShellCommand(db *database.Database, opts database.ShellOptions) (*database.Command, error) {
	file := File(db.URL())
	if file == Memory {
		return nil, errors.Semantics("No shell for in-memory database {database}").WithVar("database", db.CodeName())
	}
	cmd := &database.Command{Path: "sqlite3"}
	if !opts.Force {
		cmd.Args = append(cmd.Args, "-bail")
	}
	cmd.Args = append(cmd.Args, file)
	if opts.Dump {
		dump := ".dump"
		for _, table := range opts.Tables {
			dump += " " + e.dialect.QuoteText(table)
		}
		cmd.Args = append(cmd.Args, dump)
	}
	return cmd, nil
}

var (
	_ database.Engine      = (*Engine)(nil)
	_ database.ConnectHook = (*Engine)(nil)
	_ database.PoolTuner   = (*Engine)(nil)
	_ database.Versioner   = (*Engine)(nil)
)
