// Package database provides the connected Database session: URL handling,
// connection lifecycle, query execution with timing, results, parsers and
// the registration of engine implementations by URL scheme.
package database

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/connection"
	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Options configures a Database.
type Options struct {
	// CodeName is the registry key; it defaults to the URL's database name.
	CodeName    string
	TablePrefix string
	Debug       bool
	// Log times every query; see SlowQuery.
	Log bool
	// SlowQuery is the threshold above which queries log at warn.
	SlowQuery time.Duration
	// Development requires a source for every parsed schema.
	Development bool
	Logger      logging.Logger
	Pool        connection.PoolConfig
	// LockDir holds lock files for engines without server-side locks.
	LockDir string
	Stats   *logging.StatsCollector
}

// Option modifies Options.
type Option func(*Options)

func WithCodeName(name string) Option         { return func(o *Options) { o.CodeName = name } }
func WithTablePrefix(prefix string) Option    { return func(o *Options) { o.TablePrefix = prefix } }
func WithDebug(debug bool) Option             { return func(o *Options) { o.Debug = debug } }
func WithLogger(l logging.Logger) Option      { return func(o *Options) { o.Logger = l } }
func WithDevelopment(dev bool) Option         { return func(o *Options) { o.Development = dev } }
func WithLockDir(dir string) Option           { return func(o *Options) { o.LockDir = dir } }
func WithPool(c connection.PoolConfig) Option { return func(o *Options) { o.Pool = c } }

// WithQueryLog turns on query timing with the given slow query threshold.
func WithQueryLog(slow time.Duration) Option {
	return func(o *Options) {
		o.Log = true
		o.SlowQuery = slow
	}
}

// WithStats records every timed query in s.
func WithStats(s *logging.StatsCollector) Option { return func(o *Options) { o.Stats = s } }

// Database is a session with one database. It owns an engine, which owns
// the dialect, parser and types.
//
// A Database serializes its own state changes, but a Database in a
// transaction runs every query on that transaction; share it across
// goroutines only outside transactions.
type Database struct {
	mu sync.Mutex

	url      *URL
	codeName string
	engine   Engine
	opts     Options
	logger   logging.Logger
	queryLog *logging.QueryLogger

	pool *connection.Pool
	tx   *sql.Tx
	// locks are the lock names held through GetLock.
	locks map[string]bool
}

// New parses rawURL and creates a disconnected Database for its scheme.
func New(rawURL string, options ...Option) (*Database, error) {
	u, err := URLParse(rawURL)
	if err != nil {
		return nil, err
	}
	factory, err := LookupEngine(u.Scheme)
	if err != nil {
		return nil, err
	}
	return NewWithEngine(u, factory(), options...), nil
}

// Open creates a Database and connects it.
func Open(ctx context.Context, rawURL string, options ...Option) (*Database, error) {
	db, err := New(rawURL, options...)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// NewWithEngine creates a disconnected Database using engine.
func NewWithEngine(u *URL, engine Engine, options ...Option) *Database {
	opts := Options{Pool: connection.DefaultPoolConfig(), SlowQuery: logging.DefaultSlowQuery}
	for _, o := range options {
		o(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.SlowQuery <= 0 {
		opts.SlowQuery = logging.DefaultSlowQuery
	}
	codeName := opts.CodeName
	if codeName == "" {
		codeName = u.Name
	}
	ql := logging.NewQueryLogger(opts.Logger)
	ql.SetSlowQueryThreshold(opts.SlowQuery)
	if opts.Stats != nil {
		ql.SetStats(opts.Stats)
	}
	return &Database{
		url:      u,
		codeName: codeName,
		engine:   engine,
		opts:     opts,
		logger:   opts.Logger,
		queryLog: ql,
		locks:    map[string]bool{},
	}
}

// CodeName is the registry key of this database.
func (d *Database) CodeName() string { return d.codeName }

// SetCodeName renames the registry key.
func (d *Database) SetCodeName(name string) { d.codeName = name }

// EngineName is the code name of the engine, e.g. "sqlite".
func (d *Database) EngineName() string { return d.engine.CodeName() }

func (d *Database) Engine() Engine                { return d.engine }
func (d *Database) Dialect() dialects.SQLDialect { return d.engine.Dialect() }
func (d *Database) Types() *schema.Types         { return d.engine.Types() }
func (d *Database) Logger() logging.Logger       { return d.logger }
func (d *Database) Options() Options             { return d.opts }

// Parser returns the engine's parser bound to this database.
func (d *Database) Parser() Parser { return d.engine.Parser(d) }

// URL returns the parsed connection URL. It carries the password.
func (d *Database) URL() *URL { return d.url }

// SafeURL returns the connection URL with the password redacted.
func (d *Database) SafeURL() string { return d.url.Safe() }

// Name is the database name from the URL path.
func (d *Database) Name() string { return d.url.Name }

func (d *Database) TablePrefix() string { return d.opts.TablePrefix }

// TableName applies the table prefix.
func (d *Database) TableName(name string) string { return d.opts.TablePrefix + name }

func (d *Database) Debug() bool { return d.opts.Debug }

// ChangeURL points a disconnected database at a new URL of the same scheme.
func (d *Database) ChangeURL(rawURL string) error {
	u, err := URLParse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != d.url.Scheme {
		return errors.Semantics("Can not change scheme from {from} to {to}").
			WithVar("from", d.url.Scheme).WithVar("to", u.Scheme)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return errors.Semantics("Disconnect {name} before changing its URL").WithVar("name", d.codeName)
	}
	d.url = u
	return nil
}

// Connect opens the connection pool and verifies the server answers.
func (d *Database) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.pool != nil {
		d.mu.Unlock()
		return nil
	}
	driver, dsn, err := d.engine.Open(d.url)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	cfg := d.opts.Pool
	if tuner, ok := d.engine.(PoolTuner); ok {
		cfg = tuner.TunePool(d.url, cfg)
	}
	pool, err := connection.Open(ctx, driver, dsn, cfg)
	if err != nil {
		d.mu.Unlock()
		if kinded := d.engine.TranslateError(err); kinded != nil && kinded.Kind == errors.KindConnect {
			return kinded.WithVar("url", d.SafeURL())
		}
		return errors.Connect(err, d.SafeURL()).WithSuggestion(errors.Suggestions[errors.KindConnect])
	}
	d.pool = pool
	d.mu.Unlock()

	d.logger.Log(logging.LevelDebug, "Connected", logging.Fields{"database": d.codeName, "url": d.SafeURL()})
	if hook, ok := d.engine.(ConnectHook); ok {
		if err := hook.AfterConnect(ctx, d); err != nil {
			d.Disconnect()
			return errors.Connect(err, d.SafeURL())
		}
	}
	return nil
}

// Disconnect closes the pool. A transaction in progress is rolled back.
func (d *Database) Disconnect() error {
	if hook, ok := d.engine.(ConnectHook); ok && d.Connected() {
		hook.BeforeDisconnect(d)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil
	}
	if d.tx != nil {
		if err := d.tx.Rollback(); err != nil {
			d.logger.Log(logging.LevelWarn, "Failed to roll back transaction on disconnect", logging.Fields{
				"database": d.codeName,
				"error":    err,
			})
		}
		d.tx = nil
	}
	err := d.pool.Close()
	d.pool = nil
	d.locks = map[string]bool{}
	d.logger.Log(logging.LevelDebug, "Disconnected", logging.Fields{"database": d.codeName})
	return err
}

// Reconnect disconnects then connects.
func (d *Database) Reconnect(ctx context.Context) error {
	if err := d.Disconnect(); err != nil {
		d.logger.Log(logging.LevelWarn, "Error closing connection", logging.Fields{"database": d.codeName, "error": err})
	}
	return d.Connect(ctx)
}

// Connected reports whether the pool is open.
func (d *Database) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool != nil
}

// Connection returns the live handle, or nil when disconnected.
func (d *Database) Connection() *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil
	}
	return d.pool.DB()
}

// Pool returns the live pool, or nil when disconnected.
func (d *Database) Pool() *connection.Pool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool
}

// Conn reserves a single connection for session-scoped work.
func (d *Database) Conn(ctx context.Context) (*sql.Conn, error) {
	pool := d.Pool()
	if pool == nil {
		return nil, d.notConnected()
	}
	return pool.Conn(ctx)
}

// HealthCheck pings the server.
func (d *Database) HealthCheck(ctx context.Context) error {
	pool := d.Pool()
	if pool == nil {
		return d.notConnected()
	}
	if err := pool.HealthCheck(ctx, d.logger); err != nil {
		return errors.Connect(err, d.SafeURL())
	}
	return nil
}

func (d *Database) notConnected() error {
	return errors.New(errors.KindConnect, "Database {name} is not connected").
		WithVar("name", d.codeName).WithVar("url", d.SafeURL())
}

// NewTable creates an empty table owned by this database.
func (d *Database) NewTable(name, tableType string) *schema.Table {
	return schema.NewTable(d, name, tableType)
}

// ParseCreateTable builds a table from a CREATE TABLE statement.
func (d *Database) ParseCreateTable(sql, source string) (*schema.Table, error) {
	parser, err := ParseFactory(d, sql, source)
	if err != nil {
		return nil, err
	}
	t, err := parser.CreateTable(sql)
	if err != nil {
		return nil, err
	}
	t.SetSource(source, false)
	return t, nil
}

// DatabaseTable reads a live table definition.
func (d *Database) DatabaseTable(ctx context.Context, name string) (*schema.Table, error) {
	return d.engine.DatabaseTable(ctx, d, name)
}

func (d *Database) ListTables(ctx context.Context) ([]string, error) {
	return d.engine.ListTables(ctx, d)
}

func (d *Database) TableExists(ctx context.Context, name string) (bool, error) {
	return d.engine.TableExists(ctx, d, name)
}

// TableColumn reads one column of a live table.
func (d *Database) TableColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	t, err := d.DatabaseTable(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.Column(column)
}

// schema.Engine

func (d *Database) DefaultTableType() string { return d.engine.DefaultTableType() }

func (d *Database) DefaultIndexStructure(tableType string) string {
	return d.engine.DefaultIndexStructure(tableType)
}

func (d *Database) TableAttributes() map[string]string { return d.engine.TableAttributes() }

func (d *Database) ColumnAttributes(c *schema.Column) map[string]string {
	return d.engine.ColumnAttributes(c)
}

func (d *Database) ColumnDifferences(a, b *schema.Column) schema.Differences {
	return d.engine.ColumnDifferences(a, b)
}

// NormalizeAttributes canonicalizes attribute keys for the engine.
func (d *Database) NormalizeAttributes(attributes map[string]string) map[string]string {
	if n, ok := d.engine.(AttributeNormalizer); ok {
		return n.NormalizeAttributes(attributes)
	}
	return attributes
}

var (
	validColumnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
	validIndexName  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// ValidColumnName reports whether name can be used unquoted as a column.
func (d *Database) ValidColumnName(name string) bool { return validColumnName.MatchString(name) }

// ValidIndexName reports whether name can be used unquoted as an index.
func (d *Database) ValidIndexName(name string) bool { return validIndexName.MatchString(name) }

// TimeZone returns the session time zone.
func (d *Database) TimeZone(ctx context.Context) (string, error) {
	tz, ok := d.engine.(TimeZoner)
	if !ok {
		return "", errors.Unsupported(d.EngineName(), "time zones")
	}
	return tz.TimeZone(ctx, d)
}

// SetTimeZone sets the session time zone.
func (d *Database) SetTimeZone(ctx context.Context, zone string) error {
	tz, ok := d.engine.(TimeZoner)
	if !ok {
		return errors.Unsupported(d.EngineName(), "time zones")
	}
	return tz.SetTimeZone(ctx, d, zone)
}

// CreateDatabase creates a database and grants spec.User access to it.
func (d *Database) CreateDatabase(ctx context.Context, spec CreateDatabaseSpec) error {
	c, ok := d.engine.(DatabaseCreator)
	if !ok {
		return errors.Unimplemented(d.EngineName(), "CreateDatabase")
	}
	return c.CreateDatabase(ctx, d, spec)
}

// Version returns the server version.
func (d *Database) Version(ctx context.Context) (string, error) {
	v, ok := d.engine.(Versioner)
	if !ok {
		return "", errors.Unimplemented(d.EngineName(), "Version")
	}
	return v.Version(ctx, d)
}
