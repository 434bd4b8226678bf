package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/zeebo/blake3"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Driver is the database/sql driver registered by pgx.
const Driver = "pgx"

const (
	DefaultPort    = 5432
	DefaultSchema  = "public"
	DefaultSSLMode = "prefer"
)

// SQLSTATE codes.
const (
	codeUniqueViolation   = "23505"
	codeUndefinedTable    = "42P01"
	codeInvalidDatabase   = "3D000"
	codeInvalidPassword   = "28P01"
	codeInvalidAuth       = "28000"
	codeCannotConnectNow  = "57P03"
	codeTooManyConnection = "53300"
)

const lockPoll = 100 * time.Millisecond

func init() {
	database.RegisterEngine(func() database.Engine { return NewEngine() }, "postgres", "postgresql", "pgsql")
}

// Engine is the PostgreSQL database engine. One instance belongs to one
// Database.
type Engine struct {
	types   *schema.Types
	dialect *Dialect

	mu       sync.Mutex
	timeZone string
	version  string
	locks    map[string]*sql.Conn
}

// NewEngine creates a PostgreSQL engine.
func NewEngine() *Engine {
	types := NewTypes()
	return &Engine{
		types:   types,
		dialect: newDialect(types),
		locks:   map[string]*sql.Conn{},
	}
}

func (e *Engine) CodeName() string             { return "postgres" }
func (e *Engine) Dialect() dialects.SQLDialect { return e.dialect }
func (e *Engine) Types() *schema.Types         { return e.types }

func (e *Engine) Parser(db *database.Database) database.Parser {
	return &Parser{database.BaseParser{DB: db}}
}

// Open builds a libpq style URL for pgx. The "schema" option sets the
// search path, "sslmode" and "connect_timeout" pass through.
func (e *Engine) Open(u *database.URL) (string, string, error) {
	if u.Name == "" {
		return "", "", errors.Semantics("PostgreSQL URL {url} has no database name").WithVar("url", u.Safe())
	}
	host := u.Host
	if host == "" {
		host = "localhost"
	}
	port := u.Port
	if port == 0 {
		port = DefaultPort
	}
	dsn := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + u.Name,
	}
	switch {
	case u.User != "" && u.Password != "":
		dsn.User = url.UserPassword(u.User, u.Password)
	case u.User != "":
		dsn.User = url.User(u.User)
	}
	params := url.Values{}
	params.Set("sslmode", u.Option("sslmode", DefaultSSLMode))
	params.Set("search_path", u.Option("schema", DefaultSchema))
	if timeout := u.Option("connect_timeout", ""); timeout != "" {
		params.Set("connect_timeout", timeout)
	}
	e.mu.Lock()
	if e.timeZone != "" {
		params.Set("timezone", e.timeZone)
	}
	e.mu.Unlock()
	dsn.RawQuery = params.Encode()

	if _, err := pgx.ParseConfig(dsn.String()); err != nil {
		return "", "", errors.Wrap(errors.KindConfiguration, err, "Invalid PostgreSQL URL {url}").WithVar("url", u.Safe())
	}
	return Driver, dsn.String(), nil
}

// TranslateError maps SQLSTATE codes to error kinds.
func (e *Engine) TranslateError(err error) *errors.Error {
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return errors.Wrap(errors.KindConnect, err, "Unable to connect to PostgreSQL").
			WithSuggestion(errors.Suggestions[errors.KindConnect])
	}
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return nil
	}
	switch pe.Code {
	case codeUniqueViolation:
		return errors.Wrap(errors.KindDuplicate, err, "Duplicate entry").WithVar("constraint", pe.ConstraintName)
	case codeUndefinedTable:
		return errors.Wrap(errors.KindTableNotFound, err, "Table not found")
	case codeInvalidDatabase, codeInvalidPassword, codeInvalidAuth, codeCannotConnectNow, codeTooManyConnection:
		return errors.Wrap(errors.KindConnect, err, "Unable to connect to PostgreSQL").
			WithSuggestion(errors.Suggestions[errors.KindConnect])
	}
	return errors.Wrap(errors.KindSQLException, err, "PostgreSQL error {code}").WithVar("code", pe.Code)
}

// AfterConnect records the server version.
func (e *Engine) AfterConnect(ctx context.Context, db *database.Database) error {
	row, err := db.QueryRow(ctx, "SELECT current_setting('server_version') AS version, current_schema() AS schema", database.WithoutLog())
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.version = row.String("version")
	e.mu.Unlock()
	db.Logger().Log(logging.LevelDebug, "PostgreSQL server", logging.Fields{
		"database": db.CodeName(),
		"version":  row.String("version"),
		"schema":   row.String("schema"),
	})
	return nil
}

// BeforeDisconnect closes the connections holding advisory locks, which
// releases them on the server.
func (e *Engine) BeforeDisconnect(db *database.Database) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, conn := range e.locks {
		if err := conn.Close(); err != nil {
			db.Logger().Log(logging.LevelWarn, "Error closing lock connection", logging.Fields{"lock": name, "error": err})
		}
		delete(e.locks, name)
	}
}

func (e *Engine) DefaultTableType() string                      { return "" }
func (e *Engine) DefaultIndexStructure(tableType string) string { return schema.IndexStructureBTree }
func (e *Engine) TableAttributes() map[string]string            { return map[string]string{} }

func (e *Engine) ColumnAttributes(c *schema.Column) map[string]string {
	return map[string]string{}
}

// ColumnDifferences compares collations of text columns that declare one.
func (e *Engine) ColumnDifferences(a, b *schema.Column) schema.Differences {
	diffs := schema.Differences{}
	if a.IsText() && a.Collation != "" && a.Collation != b.Collation {
		diffs[schema.AttributeCollation] = schema.Difference{This: a.Collation, That: b.Collation}
	}
	return diffs
}

// LockKey maps a lock name to the 64-bit key of pg_advisory_lock. Keys are
// scoped by database code name.
func LockKey(codeName, name string) int64 {
	sum := blake3.Sum256([]byte(codeName + "\x00" + name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// GetLock takes a session advisory lock on a dedicated connection, polling
// pg_try_advisory_lock until wait expires.
func (e *Engine) GetLock(ctx context.Context, db *database.Database, name string, wait time.Duration) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	key := LockKey(db.CodeName(), name)
	deadline := time.Now().Add(wait)
	query := "SELECT pg_try_advisory_lock($1)"
	for {
		var got bool
		if err := conn.QueryRowContext(ctx, query, key).Scan(&got); err != nil {
			conn.Close()
			return errors.Wrap(errors.KindSQLException, err, "Unable to get lock {lock}").WithVar("lock", name).WithSQL(query)
		}
		if got {
			break
		}
		if !time.Now().Before(deadline) {
			conn.Close()
			return errors.New(errors.KindTimeoutExpired, "Timed out waiting for lock {lock}").
				WithVar("lock", name).WithVar("wait", wait.String()).
				WithSuggestion(errors.Suggestions[errors.KindTimeoutExpired])
		}
		select {
		case <-ctx.Done():
			conn.Close()
			return errors.Wrap(errors.KindTimeoutExpired, ctx.Err(), "Gave up waiting for lock {lock}").WithVar("lock", name)
		case <-time.After(lockPoll):
		}
	}
	e.mu.Lock()
	if old, ok := e.locks[name]; ok {
		old.Close()
	}
	e.locks[name] = conn
	e.mu.Unlock()
	db.Logger().Log(logging.LevelDebug, "Lock acquired", logging.Fields{"lock": name, "key": key})
	return nil
}

// ReleaseLock releases a lock taken by GetLock.
func (e *Engine) ReleaseLock(ctx context.Context, db *database.Database, name string) error {
	e.mu.Lock()
	conn, ok := e.locks[name]
	delete(e.locks, name)
	e.mu.Unlock()
	if !ok {
		return errors.Semantics("Lock {lock} is not held").WithVar("lock", name)
	}
	defer conn.Close()
	var released bool
	query := "SELECT pg_advisory_unlock($1)"
	if err := conn.QueryRowContext(ctx, query, LockKey(db.CodeName(), name)).Scan(&released); err != nil {
		return errors.Wrap(errors.KindSQLException, err, "Unable to release lock {lock}").WithVar("lock", name).WithSQL(query)
	}
	if !released {
		return errors.Semantics("Lock {lock} was not held by this session").WithVar("lock", name)
	}
	return nil
}

func (e *Engine) TimeZone(ctx context.Context, db *database.Database) (string, error) {
	v, err := db.QueryOne(ctx, "SHOW TIME ZONE", "0", database.WithoutLog())
	if err != nil {
		return "", err
	}
	zone, _ := v.(string)
	return zone, nil
}

// SetTimeZone sets the time zone of every pooled session. A connected
// database reconnects so that all connections pick it up.
func (e *Engine) SetTimeZone(ctx context.Context, db *database.Database, zone string) error {
	e.mu.Lock()
	e.timeZone = zone
	e.mu.Unlock()
	if !db.Connected() {
		return nil
	}
	return db.Reconnect(ctx)
}

// CreateDatabase creates the database and, when a user is given, a login
// role owning all privileges on it. Existing databases and roles are kept.
// Hosts do not apply; client access is configured in pg_hba.conf.
func (e *Engine) CreateDatabase(ctx context.Context, db *database.Database, spec database.CreateDatabaseSpec) error {
	if spec.Name == "" {
		return errors.Semantics("CreateDatabase requires a database name")
	}
	name := pgx.Identifier{spec.Name}.Sanitize()
	var statements []string
	exists, err := db.QueryInteger(ctx, "SELECT COUNT(*) FROM pg_database WHERE datname = $1", database.Args(spec.Name))
	if err != nil {
		return err
	}
	if exists == 0 {
		statements = append(statements, "CREATE DATABASE "+name)
	}
	if spec.User != "" {
		user := pgx.Identifier{spec.User}.Sanitize()
		roles, err := db.QueryInteger(ctx, "SELECT COUNT(*) FROM pg_roles WHERE rolname = $1", database.Args(spec.User))
		if err != nil {
			return err
		}
		if roles == 0 {
			statements = append(statements, "CREATE USER "+user+" WITH PASSWORD "+e.dialect.QuoteText(spec.Password))
		}
		statements = append(statements, "GRANT ALL PRIVILEGES ON DATABASE "+name+" TO "+user)
	}
	db.Logger().Log(logging.LevelInfo, "Creating database", logging.Fields{"database": spec.Name, "user": spec.User, "exists": exists > 0})
	_, err = db.Queries(ctx, statements, database.WithoutLog(), database.Exec())
	return err
}

// Version returns the server version read at connect time, querying it
// when unknown.
func (e *Engine) Version(ctx context.Context, db *database.Database) (string, error) {
	e.mu.Lock()
	version := e.version
	e.mu.Unlock()
	if version != "" {
		return version, nil
	}
	v, err := db.QueryOne(ctx, "SHOW server_version", "0", database.WithoutLog())
	if err != nil {
		return "", err
	}
	version, _ = v.(string)
	return version, nil
}

// ShellCommand runs psql, or pg_dump when dumping. The password is passed
// in PGPASSWORD so it stays off the command line.
func (e *Engine) ShellCommand(db *database.Database, opts database.ShellOptions) (*database.Command, error) {
	u := db.URL()
	cmd := &database.Command{Path: "psql"}
	if opts.Dump {
		cmd.Path = "pg_dump"
	}
	if u.Host != "" {
		cmd.Args = append(cmd.Args, "-h", u.Host)
	}
	if u.Port != 0 {
		cmd.Args = append(cmd.Args, "-p", strconv.Itoa(u.Port))
	}
	if u.User != "" {
		cmd.Args = append(cmd.Args, "-U", u.User)
	}
	if u.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+u.Password)
	}
	if mode := u.Option("sslmode", ""); mode != "" {
		cmd.Env = append(cmd.Env, "PGSSLMODE="+mode)
	}
	switch {
	case opts.Dump:
		cmd.Args = append(cmd.Args, "--no-owner")
		for _, table := range opts.Tables {
			cmd.Args = append(cmd.Args, "-t", table)
		}
	case !opts.Force:
		cmd.Args = append(cmd.Args, "-v", "ON_ERROR_STOP=1")
	}
	cmd.Args = append(cmd.Args, "-d", u.Name)
	return cmd, nil
}

var (
	_ database.Engine          = (*Engine)(nil)
	_ database.ConnectHook     = (*Engine)(nil)
	_ database.TimeZoner       = (*Engine)(nil)
	_ database.DatabaseCreator = (*Engine)(nil)
	_ database.Versioner       = (*Engine)(nil)
)
