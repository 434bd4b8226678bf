package cli

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nexus-db/schemasync/pkg/core/connection"
	"github.com/nexus-db/schemasync/pkg/core/registry"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// ConfigFileName is the configuration file looked up in the working directory.
const ConfigFileName = "schemasync.yaml"

// Config is the schemasync.yaml file.
type Config struct {
	Default          string                 `yaml:"default"`
	Names            map[string]string      `yaml:"names"`
	Debug            bool                   `yaml:"debug"`
	LogLevel         string                 `yaml:"log_level"`
	SlowQuerySeconds float64                `yaml:"slow_query_seconds"`
	Development      bool                   `yaml:"development"`
	SchemaDir        string                 `yaml:"schema_dir"`
	MigrationsDir    string                 `yaml:"migrations_dir"`
	LockTimeout      time.Duration          `yaml:"lock_timeout"`
	Vars             map[string]string      `yaml:"vars"`
	Pool             *connection.PoolConfig `yaml:"pool,omitempty"`

	// path is the file the config was read from; relative directories
	// resolve against its directory.
	path string
}

// DefaultConfig returns the configuration written by init.
func DefaultConfig() *Config {
	return &Config{
		Default:       registry.DefaultName,
		Names:         map[string]string{registry.DefaultName: "${DATABASE_URL}"},
		LogLevel:      "warn",
		SchemaDir:     "schema",
		MigrationsDir: "migrations",
	}
}

// LoadConfig reads path, or schemasync.yaml when path is empty. A .env file
// next to the config is loaded first so ${VAR} references in database URLs
// can use it; variables already set in the environment win.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindConfiguration, err, "Config file {file} not found").
				WithVar("file", path).WithSuggestion("Run 'schemasync init' to create one")
		}
		return nil, err
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrap(errors.KindConfiguration, err, "Failed to load {file}").WithVar("file", envFile)
		}
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "Invalid config file {file}").WithVar("file", path)
	}
	cfg.path = path
	return cfg, nil
}

// ParseConfig decodes YAML, fills defaults and expands environment
// variables in the database URLs.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Names = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	for name, url := range cfg.Names {
		cfg.Names[name] = os.ExpandEnv(url)
	}
	if cfg.Default == "" {
		cfg.Default = registry.DefaultName
	}
	return cfg, cfg.Validate()
}

// Validate checks the parts of the config every command needs.
func (c *Config) Validate() error {
	if len(c.Names) == 0 {
		return errors.New(errors.KindConfiguration, "No databases configured").
			WithSuggestion("Add a database URL under 'names'")
	}
	for name, url := range c.Names {
		if url == "" {
			return errors.New(errors.KindConfiguration, "Database {name} has an empty URL").
				WithVar("name", name).WithSuggestion("Check that the environment variable it references is set")
		}
	}
	if _, ok := c.Names[c.Default]; !ok {
		return errors.KeyNotFound("default database", c.Default, sortedNames(c.Names))
	}
	return nil
}

// Resolve returns dir relative to the config file's directory.
func (c *Config) Resolve(dir string) string {
	if dir == "" || filepath.IsAbs(dir) || c.path == "" {
		return dir
	}
	return filepath.Join(filepath.Dir(c.path), dir)
}

// Level returns the configured log level; debug forces LevelDebug.
func (c *Config) Level() logging.Level {
	if c.Debug {
		return logging.LevelDebug
	}
	if c.LogLevel == "" {
		return logging.LevelWarn
	}
	return logging.ParseLevel(c.LogLevel)
}

// Logger creates the logger every command logs through.
func (c *Config) Logger(w io.Writer) logging.Logger {
	return logging.NewMaskedLogger(w, c.Level())
}

// Registry creates a database registry holding the configured names.
func (c *Config) Registry(logger logging.Logger) (*registry.Module, error) {
	options := []database.Option{database.WithDevelopment(c.Development)}
	if c.Pool != nil {
		options = append(options, database.WithPool(*c.Pool))
	}
	m := registry.New(registry.WithLogger(logger), registry.WithDatabaseOptions(options...))
	err := m.Configure(registry.Config{
		Default:          c.Default,
		Names:            c.Names,
		Debug:            c.Debug,
		SlowQuerySeconds: c.SlowQuerySeconds,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func sortedNames(names map[string]string) []string {
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
