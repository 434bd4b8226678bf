// Package registry keeps the process-wide table of named database URLs and
// the live Database instances created from them.
package registry

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// DefaultName is the database name used when none is given.
const DefaultName = "default"

// Config is the registry part of the application configuration.
type Config struct {
	Default          string
	Names            map[string]string
	Debug            bool
	SlowQuerySeconds float64
}

// Module maps names to URLs and owns the databases created from them.
// Names are case-insensitive.
type Module struct {
	mu          sync.Mutex
	defaultName string
	names       map[string]string
	databases   map[string]*database.Database
	schemes     map[string]database.EngineFactory
	logger      logging.Logger
	debug       bool
	slowQuery   time.Duration
	options     []database.Option
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger handed to every database.
func WithLogger(l logging.Logger) Option { return func(m *Module) { m.logger = l } }

// WithDatabaseOptions adds options applied to every database the module
// creates.
func WithDatabaseOptions(options ...database.Option) Option {
	return func(m *Module) { m.options = append(m.options, options...) }
}

// New creates a Module whose scheme table holds the engines registered so
// far.
func New(options ...Option) *Module {
	m := &Module{
		defaultName: DefaultName,
		names:       map[string]string{},
		databases:   map[string]*database.Database{},
		schemes:     database.EngineFactories(),
		logger:      logging.Nop{},
	}
	for _, o := range options {
		o(m)
	}
	return m
}

var (
	sharedOnce sync.Once
	shared     *Module
)

// Shared returns the process-wide Module.
func Shared() *Module {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

// Configure applies the default name, the name table, debug and the slow
// query threshold.
func (m *Module) Configure(cfg Config) error {
	if cfg.Default != "" {
		m.SetDefault(cfg.Default)
	}
	names := make([]string, 0, len(cfg.Names))
	for name := range cfg.Names {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := m.Register(name, cfg.Names[name], false); err != nil {
			m.logger.Log(logging.LevelError, "Invalid database configuration", logging.Fields{"name": name, "error": err})
			return err
		}
	}
	m.mu.Lock()
	m.debug = cfg.Debug
	if cfg.SlowQuerySeconds > 0 {
		m.slowQuery = time.Duration(cfg.SlowQuerySeconds * float64(time.Second))
	}
	m.mu.Unlock()
	return nil
}

// Default returns the default database name.
func (m *Module) Default() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultName
}

// SetDefault changes the default database name. An empty name restores
// DefaultName.
func (m *Module) SetDefault(name string) {
	if name == "" {
		name = DefaultName
	}
	m.mu.Lock()
	m.defaultName = strings.ToLower(name)
	m.mu.Unlock()
}

// Debug reports whether databases are created with query logging.
func (m *Module) Debug() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debug
}

// SetDebug turns query logging on for databases created afterwards.
func (m *Module) SetDebug(debug bool) {
	m.mu.Lock()
	m.debug = debug
	m.mu.Unlock()
}

// Register associates name with url and returns the normalized name.
// Registering a name again with a different URL is a Semantics error.
func (m *Module) Register(name, url string, isDefault bool) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", errors.Semantics("Database name is required to register {url}").WithVar("url", url)
	}
	u, err := database.URLParse(url)
	if err != nil {
		return "", errors.Wrap(errors.KindConfiguration, err, "{url} is not a valid database URL ({name})").
			WithVar("name", name).WithVar("url", url)
	}
	normalized := u.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.names[name]; ok && old != normalized {
		return "", errors.Semantics("Register would change database URL of {name} to {url} (old is {old})").
			WithVar("name", name).WithVar("url", u.Safe()).WithVar("old", safeURL(old))
	}
	m.names[name] = normalized
	if isDefault {
		m.defaultName = name
	}
	return name, nil
}

// Unregister forgets name. A live database of that name is disconnected
// and dropped.
func (m *Module) Unregister(name string) {
	name = strings.ToLower(name)
	m.mu.Lock()
	delete(m.names, name)
	db := m.databases[name]
	delete(m.databases, name)
	m.mu.Unlock()
	if db != nil {
		db.Disconnect()
	}
}

// Names lists the registered names.
func (m *Module) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.names)
}

// NameToURL returns the URL registered for name.
func (m *Module) NameToURL(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nameToURL(strings.ToLower(name))
}

func (m *Module) nameToURL(name string) (string, error) {
	if url, ok := m.names[name]; ok {
		return url, nil
	}
	return "", errors.KeyNotFound("database", name, sortedKeys(m.names))
}

type registryOptions struct {
	noReuse   bool
	noConnect bool
	options   []database.Option
}

// RegistryOption modifies a single DatabaseRegistry call.
type RegistryOption func(*registryOptions)

// WithoutReuse always creates a new database, even when one of that name
// is live.
func WithoutReuse() RegistryOption { return func(o *registryOptions) { o.noReuse = true } }

// WithoutConnect returns the new database disconnected.
func WithoutConnect() RegistryOption { return func(o *registryOptions) { o.noConnect = true } }

// WithOptions passes options to the database being created.
func WithOptions(options ...database.Option) RegistryOption {
	return func(o *registryOptions) { o.options = append(o.options, options...) }
}

// DatabaseRegistry returns the database registered as name, or the default
// database when name is empty. A live database is reused unless
// WithoutReuse is given; a second database of the same name gets the first
// free code name "name#<n>", counting from the number of live databases. New databases are connected unless WithoutConnect
// is given.
func (m *Module) DatabaseRegistry(ctx context.Context, name string, options ...RegistryOption) (*database.Database, error) {
	var ro registryOptions
	for _, o := range options {
		o(&ro)
	}

	m.mu.Lock()
	if name == "" {
		name = m.defaultName
	}
	name = strings.ToLower(name)
	if len(m.names) == 0 {
		m.mu.Unlock()
		return nil, errors.New(errors.KindConfiguration, "No database URL configured for {name}").
			WithVar("name", name).WithSuggestion("Add the database to names in schemasync.yaml")
	}
	url, err := m.nameToURL(name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	codeName := name
	if db, ok := m.databases[codeName]; ok {
		if !ro.noReuse {
			m.mu.Unlock()
			return db, nil
		}
		for n := len(m.databases); ; n++ {
			candidate := name + "#" + strconv.Itoa(n)
			if _, taken := m.databases[candidate]; !taken {
				codeName = candidate
				break
			}
		}
	}
	db, err := m.create(url, codeName, ro.options)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.databases[codeName] = db
	m.mu.Unlock()

	if ro.noConnect {
		return db, nil
	}
	if err := db.Connect(ctx); err != nil {
		m.logger.Log(logging.LevelWarn, "Failed to connect to database", logging.Fields{"url": db.SafeURL()})
		m.mu.Lock()
		delete(m.databases, codeName)
		m.mu.Unlock()
		if errors.IsKind(err, errors.KindConnect) {
			return nil, err
		}
		return nil, errors.Connect(err, db.SafeURL())
	}
	return db, nil
}

// create builds a disconnected database; the caller holds m.mu.
func (m *Module) create(url, codeName string, extra []database.Option) (*database.Database, error) {
	u, err := database.URLParse(url)
	if err != nil {
		return nil, err
	}
	factory, ok := m.schemes[u.Scheme]
	if !ok {
		return nil, errors.KeyNotFound("scheme", u.Scheme, sortedKeys(m.schemes)).
			WithSuggestion("Import the engine package or call RegisterScheme")
	}
	options := append([]database.Option{database.WithLogger(m.logger), database.WithDebug(m.debug)}, m.options...)
	if m.slowQuery > 0 {
		options = append(options, database.WithQueryLog(m.slowQuery))
	}
	options = append(options, extra...)
	options = append(options, database.WithCodeName(codeName))
	return database.NewWithEngine(u, factory(), options...), nil
}

// Databases returns the live databases keyed by code name.
func (m *Module) Databases() map[string]*database.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*database.Database, len(m.databases))
	for k, v := range m.databases {
		out[k] = v
	}
	return out
}

// DisconnectAll disconnects every database. The databases stay registered
// so ReconnectAll can bring them back, e.g. in a child process.
func (m *Module) DisconnectAll() {
	for _, name := range sortedKeys(m.Databases()) {
		db := m.Databases()[name]
		m.logger.Log(logging.LevelDebug, "Disconnecting database", logging.Fields{"url": db.SafeURL()})
		if err := db.Disconnect(); err != nil {
			m.logger.Log(logging.LevelWarn, "Error disconnecting database", logging.Fields{"url": db.SafeURL(), "error": err})
		}
	}
}

// ReconnectAll reconnects every database and stops at the first failure.
func (m *Module) ReconnectAll(ctx context.Context) error {
	databases := m.Databases()
	for _, name := range sortedKeys(databases) {
		db := databases[name]
		m.logger.Log(logging.LevelInfo, "Reconnecting database", logging.Fields{"url": db.SafeURL()})
		if err := db.Reconnect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RegisterScheme makes factory handle URLs of scheme for this module,
// replacing a previous registration.
func (m *Module) RegisterScheme(scheme string, factory database.EngineFactory) {
	scheme = strings.ToLower(scheme)
	m.mu.Lock()
	_, replaced := m.schemes[scheme]
	m.schemes[scheme] = factory
	m.mu.Unlock()
	if replaced {
		m.logger.Log(logging.LevelWarn, "Registered scheme overrides previous engine", logging.Fields{"scheme": scheme})
	}
}

// RegisteredScheme returns the engine factory of scheme.
func (m *Module) RegisteredScheme(scheme string) (database.EngineFactory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.schemes[strings.ToLower(scheme)]; ok {
		return f, nil
	}
	return nil, errors.KeyNotFound("scheme", scheme, sortedKeys(m.schemes))
}

// Schemes lists the schemes this module can open.
func (m *Module) Schemes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.schemes)
}

// Info describes the default database and the live databases, with
// passwords removed.
func (m *Module) Info() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := map[string]interface{}{"default": m.defaultName}
	if url, err := m.nameToURL(m.defaultName); err == nil {
		info["default_url"] = safeURL(url)
	} else {
		info["error"] = "No database"
		info["valid_values"] = sortedKeys(m.names)
	}
	databases := make(map[string]string, len(m.databases))
	for name, db := range m.databases {
		databases[name] = db.SafeURL()
	}
	info["databases"] = databases
	return info
}

func safeURL(raw string) string {
	u, err := database.URLParse(raw)
	if err != nil {
		return "-url-parse-failed-"
	}
	return u.Safe()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
