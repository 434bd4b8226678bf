package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// Table attribute keys.
const (
	AttributeEngine         = "engine"
	AttributeDefaultCharset = "default charset"
)

// Server defaults used until AfterConnect reads the real ones.
const (
	DefaultEngine    = "InnoDB"
	DefaultCharset   = "utf8mb4"
	DefaultCollation = "utf8mb4_unicode_ci"
	DefaultPort      = 3306
)

// MySQL error numbers.
const (
	errDuplicateEntry  = 1062
	errNoSuchTable     = 1146
	errBadDatabase     = 1049
	errAccessDenied    = 1045
	errConnectionLocal = 2002
	errConnectionHost  = 2003
)

func init() {
	database.RegisterEngine(func() database.Engine { return NewEngine() }, "mysql", "mysqli")
}

// Engine is the MySQL database engine. One instance belongs to one
// Database.
type Engine struct {
	types   *schema.Types
	dialect *Dialect

	mu       sync.Mutex
	settings map[string]string
	timeZone string
	locks    map[string]*sql.Conn
}

// NewEngine creates a MySQL engine with default server settings.
func NewEngine() *Engine {
	types := NewTypes()
	return &Engine{
		types:    types,
		dialect:  newDialect(types),
		settings: map[string]string{
			AttributeEngine:           DefaultEngine,
			AttributeDefaultCharset:   DefaultCharset,
			schema.AttributeCollation: DefaultCollation,
		},
		locks: map[string]*sql.Conn{},
	}
}

func (e *Engine) CodeName() string             { return "mysql" }
func (e *Engine) Dialect() dialects.SQLDialect { return e.dialect }
func (e *Engine) Types() *schema.Types         { return e.types }

func (e *Engine) Parser(db *database.Database) database.Parser {
	return &Parser{database.BaseParser{DB: db}}
}

func (e *Engine) setting(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings[key]
}

// Open builds a go-sql-driver DSN. The "socket" option connects over a
// unix socket and "timeout" sets the dial timeout.
func (e *Engine) Open(u *database.URL) (string, string, error) {
	if u.Name == "" {
		return "", "", errors.Semantics("MySQL URL {url} has no database name").WithVar("url", u.Safe())
	}
	cfg := gomysql.NewConfig()
	cfg.User = u.User
	cfg.Passwd = u.Password
	cfg.DBName = u.Name
	if socket := u.Option("socket", ""); socket != "" {
		cfg.Net = "unix"
		cfg.Addr = socket
	} else {
		host := u.Host
		if host == "" {
			host = "localhost"
		}
		port := u.Port
		if port == 0 {
			port = DefaultPort
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if timeout := u.Option("timeout", ""); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return "", "", errors.Wrap(errors.KindConfiguration, err, "Invalid timeout {timeout}").WithVar("timeout", timeout)
		}
		cfg.Timeout = d
	}
	cfg.Params = map[string]string{"charset": u.Option("charset", DefaultCharset)}
	e.mu.Lock()
	if e.timeZone != "" {
		cfg.Params["time_zone"] = "'" + e.timeZone + "'"
	}
	e.mu.Unlock()
	return "mysql", cfg.FormatDSN(), nil
}

// TranslateError maps MySQL error numbers to error kinds.
func (e *Engine) TranslateError(err error) *errors.Error {
	if errors.Is(err, gomysql.ErrInvalidConn) {
		return errors.Wrap(errors.KindConnect, err, "Lost connection to MySQL")
	}
	var me *gomysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case errDuplicateEntry:
		return errors.Wrap(errors.KindDuplicate, err, "Duplicate entry")
	case errNoSuchTable:
		return errors.Wrap(errors.KindTableNotFound, err, "Table not found")
	case errBadDatabase, errAccessDenied, errConnectionLocal, errConnectionHost:
		return errors.Wrap(errors.KindConnect, err, "Unable to connect to MySQL").
			WithSuggestion(errors.Suggestions[errors.KindConnect])
	}
	return errors.Wrap(errors.KindSQLException, err, "MySQL error {code}").
		WithVar("code", strconv.Itoa(int(me.Number)))
}

// AfterConnect reads the server defaults used for table and column
// attributes.
func (e *Engine) AfterConnect(ctx context.Context, db *database.Database) error {
	row, err := db.QueryRow(ctx, "SELECT @@default_storage_engine, @@character_set_database, @@collation_database, @@version",
		database.WithoutLog())
	if err != nil {
		return err
	}
	values := row.Values()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, key := range []string{AttributeEngine, AttributeDefaultCharset, schema.AttributeCollation, "version"} {
		if i < len(values) && values[i] != nil {
			e.settings[key] = stringValue(values[i])
		}
	}
	db.Logger().Log(logging.LevelDebug, "MySQL server defaults", logging.Fields{
		"database": db.CodeName(),
		"engine":   e.settings[AttributeEngine],
		"charset":  e.settings[AttributeDefaultCharset],
		"version":  e.settings["version"],
	})
	return nil
}

// BeforeDisconnect closes the connections holding locks, which releases
// them on the server.
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

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case string:
		return s
	}
	return ""
}

func (e *Engine) DefaultTableType() string { return e.setting(AttributeEngine) }

// DefaultIndexStructure is HASH for memory tables and BTREE otherwise.
func (e *Engine) DefaultIndexStructure(tableType string) string {
	switch strings.ToLower(tableType) {
	case "memory", "heap":
		return schema.IndexStructureHash
	}
	return schema.IndexStructureBTree
}

// TableAttributes returns the server defaults for engine, charset and
// collation.
func (e *Engine) TableAttributes() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]string{
		AttributeEngine:           e.settings[AttributeEngine],
		AttributeDefaultCharset:   e.settings[AttributeDefaultCharset],
		schema.AttributeCollation: e.settings[schema.AttributeCollation],
	}
}

// ColumnAttributes returns the defaults a column inherits. Text columns
// take their character set and collation from the table, then the server.
func (e *Engine) ColumnAttributes(c *schema.Column) map[string]string {
	result := map[string]string{}
	sqlType := strings.ToLower(c.SQLType())
	if sqlType == "timestamp" && c.NotNull() {
		result[schema.AttributeDefault] = "CURRENT_TIMESTAMP"
	}
	if !c.IsText() {
		return result
	}
	charset := e.setting(AttributeDefaultCharset)
	collation := e.setting(schema.AttributeCollation)
	if t := c.Table(); t != nil {
		tableCharset := t.Attribute(AttributeDefaultCharset, t.Attribute(schema.AttributeCharacterSet, ""))
		if tableCharset != "" {
			charset = tableCharset
		}
		collation = t.Attribute(schema.AttributeCollation, collation)
	}
	result[schema.AttributeCharacterSet] = charset
	result[schema.AttributeCollation] = collation
	return result
}

var textAttributes = []string{schema.AttributeCharacterSet, schema.AttributeCollation}

// ColumnDifferences compares character set and collation of text columns.
func (e *Engine) ColumnDifferences(a, b *schema.Column) schema.Differences {
	if !a.IsText() {
		return schema.Differences{}
	}
	return a.AttributeDifferences(b, textAttributes)
}

var attributeSpellings = map[string]string{
	"type":                  AttributeEngine,
	"charset":               AttributeDefaultCharset,
	"character set":         AttributeDefaultCharset,
	"default character set": AttributeDefaultCharset,
	"collation":             schema.AttributeCollation,
	"default collate":       schema.AttributeCollation,
}

// NormalizeAttributes lowercases keys and maps synonyms to the keys used
// by TableAttributes.
func NormalizeAttributes(attributes map[string]string) map[string]string {
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		key := strings.Join(strings.Fields(strings.ToLower(k)), " ")
		if canonical, ok := attributeSpellings[key]; ok {
			key = canonical
		}
		out[key] = v
	}
	return out
}

func (e *Engine) NormalizeAttributes(attributes map[string]string) map[string]string {
	return NormalizeAttributes(attributes)
}

// GetLock takes a server lock with GET_LOCK on a dedicated connection.
// The lock lives as long as that connection.
func (e *Engine) GetLock(ctx context.Context, db *database.Database, name string, wait time.Duration) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	var got sql.NullInt64
	query := "SELECT GET_LOCK(?, ?)"
	if err := conn.QueryRowContext(ctx, query, name, int(wait.Seconds())).Scan(&got); err != nil {
		conn.Close()
		return errors.Wrap(errors.KindSQLException, err, "Unable to get lock {lock}").WithVar("lock", name).WithSQL(query)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return errors.New(errors.KindTimeoutExpired, "Timed out waiting for lock {lock}").
			WithVar("lock", name).WithVar("wait", wait.String()).
			WithSuggestion(errors.Suggestions[errors.KindTimeoutExpired])
	}
	e.mu.Lock()
	if old, ok := e.locks[name]; ok {
		old.Close()
	}
	e.locks[name] = conn
	e.mu.Unlock()
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
	var released sql.NullInt64
	query := "SELECT RELEASE_LOCK(?)"
	if err := conn.QueryRowContext(ctx, query, name).Scan(&released); err != nil {
		return errors.Wrap(errors.KindSQLException, err, "Unable to release lock {lock}").WithVar("lock", name).WithSQL(query)
	}
	if !released.Valid || released.Int64 != 1 {
		return errors.Semantics("Lock {lock} was not held by this session").WithVar("lock", name)
	}
	return nil
}

// TimeZone returns the session time zone.
func (e *Engine) TimeZone(ctx context.Context, db *database.Database) (string, error) {
	v, err := db.QueryOne(ctx, "SELECT @@session.time_zone", "0", database.WithoutLog())
	if err != nil {
		return "", err
	}
	return stringValue(v), nil
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

// CreateDatabase creates the database and a user with full access to it
// from each host.
func (e *Engine) CreateDatabase(ctx context.Context, db *database.Database, spec database.CreateDatabaseSpec) error {
	if spec.Name == "" {
		return errors.Semantics("CreateDatabase requires a database name")
	}
	d := e.dialect
	statements := []string{"CREATE DATABASE IF NOT EXISTS " + d.QuoteTable(spec.Name)}
	if spec.User != "" {
		hosts := spec.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost"}
			if h := db.URL().Host; h != "" && h != "localhost" {
				hosts = append(hosts, h)
			}
		}
		for _, host := range hosts {
			account := d.QuoteText(spec.User) + "@" + d.QuoteText(host)
			statements = append(statements,
				"CREATE USER IF NOT EXISTS "+account+" IDENTIFIED BY "+d.QuoteText(spec.Password),
				"GRANT ALL PRIVILEGES ON "+d.QuoteTable(spec.Name)+".* TO "+account)
		}
		statements = append(statements, "FLUSH PRIVILEGES")
	}
	_, err := db.Queries(ctx, statements, database.WithoutLog(), database.Exec())
	return err
}

// Version returns the server version.
func (e *Engine) Version(ctx context.Context, db *database.Database) (string, error) {
	v, err := db.QueryOne(ctx, "SELECT VERSION()", "0", database.WithoutLog())
	if err != nil {
		return "", err
	}
	return stringValue(v), nil
}

// ShellCommand runs mysql, or mysqldump when dumping. The password is
// passed in MYSQL_PWD so it stays off the command line.
func (e *Engine) ShellCommand(db *database.Database, opts database.ShellOptions) (*database.Command, error) {
	u := db.URL()
	cmd := &database.Command{Path: "mysql"}
	if opts.Dump {
		cmd.Path = "mysqldump"
	}
	if u.User != "" {
		cmd.Args = append(cmd.Args, "-u", u.User)
	}
	if socket := u.Option("socket", ""); socket != "" {
		cmd.Args = append(cmd.Args, "-S", socket)
	} else {
		if u.Host != "" {
			cmd.Args = append(cmd.Args, "-h", u.Host)
		}
		if u.Port != 0 {
			cmd.Args = append(cmd.Args, "-P", strconv.Itoa(u.Port))
		}
	}
	if u.Password != "" {
		cmd.Env = append(cmd.Env, "MYSQL_PWD="+u.Password)
	}
	if opts.Dump {
		cmd.Args = append(cmd.Args, "--single-transaction=TRUE")
	} else if opts.Force {
		cmd.Args = append(cmd.Args, "-f")
	}
	cmd.Args = append(cmd.Args, u.Name)
	if opts.Dump {
		cmd.Args = append(cmd.Args, opts.Tables...)
	}
	return cmd, nil
}

var (
	_ database.Engine              = (*Engine)(nil)
	_ database.ConnectHook         = (*Engine)(nil)
	_ database.TimeZoner           = (*Engine)(nil)
	_ database.DatabaseCreator     = (*Engine)(nil)
	_ database.AttributeNormalizer = (*Engine)(nil)
	_ database.Versioner           = (*Engine)(nil)
)
