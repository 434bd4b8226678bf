package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexus-db/schemasync/pkg/core/connection"
	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// Engine is the capability set of one database engine. Every Database owns
// its own Engine instance, so engines may keep per-connection state such as
// server defaults or held locks.
type Engine interface {
	// CodeName is the engine name, e.g. "mysql".
	CodeName() string
	Dialect() dialects.SQLDialect
	Types() *schema.Types
	Parser(db *Database) Parser

	// Open returns the database/sql driver name and data source for u.
	Open(u *URL) (driver string, dsn string, err error)
	// TranslateError maps a driver error to an error kind, or returns nil
	// when the error is not recognized.
	TranslateError(err error) *errors.Error

	ListTables(ctx context.Context, db *Database) ([]string, error)
	TableExists(ctx context.Context, db *Database, name string) (bool, error)
	// DatabaseTable reads a live table definition.
	DatabaseTable(ctx context.Context, db *Database, name string) (*schema.Table, error)

	DefaultTableType() string
	DefaultIndexStructure(tableType string) string
	TableAttributes() map[string]string
	ColumnAttributes(c *schema.Column) map[string]string
	ColumnDifferences(a, b *schema.Column) schema.Differences

	GetLock(ctx context.Context, db *Database, name string, wait time.Duration) error
	ReleaseLock(ctx context.Context, db *Database, name string) error

	ShellCommand(db *Database, opts ShellOptions) (*Command, error)
}

// ConnectHook is implemented by engines that prepare a fresh connection or
// clean up before it is closed.
type ConnectHook interface {
	AfterConnect(ctx context.Context, db *Database) error
	BeforeDisconnect(db *Database)
}

// TimeZoner is implemented by engines with a session time zone.
type TimeZoner interface {
	TimeZone(ctx context.Context, db *Database) (string, error)
	SetTimeZone(ctx context.Context, db *Database, zone string) error
}

// DatabaseCreator is implemented by engines that can create databases and
// grant access to them.
type DatabaseCreator interface {
	CreateDatabase(ctx context.Context, db *Database, spec CreateDatabaseSpec) error
}

// AttributeNormalizer is implemented by engines whose attribute keys have
// several spellings.
type AttributeNormalizer interface {
	NormalizeAttributes(attributes map[string]string) map[string]string
}

// Versioner reports the server version.
type Versioner interface {
	Version(ctx context.Context, db *Database) (string, error)
}

// PoolTuner adjusts pool settings the engine cannot work with, such as a
// single connection for in-memory databases.
type PoolTuner interface {
	TunePool(u *URL, cfg connection.PoolConfig) connection.PoolConfig
}

// CreateDatabaseSpec describes a database to create.
type CreateDatabaseSpec struct {
	Name     string
	User     string
	Password string
	// Hosts the user may connect from; engines pick a default when empty.
	Hosts []string
}

// ShellOptions configures an engine shell command.
type ShellOptions struct {
	// Force continues past SQL errors where the tool supports it.
	Force bool
	// Dump runs the engine's dump tool instead of its shell.
	Dump bool
	// Tables restricts a dump.
	Tables []string
}

// Command is an external command line.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// EngineFactory creates a fresh engine instance.
type EngineFactory func() Engine

var (
	enginesMu sync.RWMutex
	engines   = map[string]EngineFactory{}
)

// RegisterEngine makes an engine available under one or more URL schemes.
// Engine packages call it from init.
func RegisterEngine(factory EngineFactory, schemes ...string) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	for _, s := range schemes {
		engines[strings.ToLower(s)] = factory
	}
}

// LookupEngine returns the factory registered for scheme.
func LookupEngine(scheme string) (EngineFactory, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	if f, ok := engines[strings.ToLower(scheme)]; ok {
		return f, nil
	}
	return nil, errors.KeyNotFound("scheme", scheme, schemesLocked()).
		WithSuggestion("Import the engine package, e.g. _ \"github.com/nexus-db/schemasync/pkg/dialects/sqlite\"")
}

// Schemes lists the registered schemes.
func Schemes() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return schemesLocked()
}

// EngineFactories returns a copy of the scheme table.
func EngineFactories() map[string]EngineFactory {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	out := make(map[string]EngineFactory, len(engines))
	for k, v := range engines {
		out[k] = v
	}
	return out
}

func schemesLocked() []string {
	out := make([]string, 0, len(engines))
	for s := range engines {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
