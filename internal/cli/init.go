package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nexus-db/schemasync/pkg/errors"
)

const exampleSchema = `-- Tables are declared with CREATE TABLE in the dialect of the target
-- database. schemasync sync makes the database match these files.
CREATE TABLE users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email VARCHAR(128) NOT NULL,
  name VARCHAR(255)
);
CREATE UNIQUE INDEX users_email ON users (email);
`

const exampleEnv = `# Database URL used by schemasync.yaml
DATABASE_URL=sqlite:///./app.db
`

// Init creates a new project in dir: schemasync.yaml, .env, a schema
// directory with an example table and an empty migrations directory.
func Init(dir string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	configPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return errors.New(errors.KindSemantics, "Project already initialized: {file} exists").WithVar("file", configPath)
	}

	cfg := DefaultConfig()
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	created := func(path string) {
		green.Fprint(out, "✓ ")
		fmt.Fprintf(out, "Created %s\n", path)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return err
	}
	created(configPath)

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		if err := os.WriteFile(envPath, []byte(exampleEnv), 0600); err != nil {
			return err
		}
		created(envPath)
	}

	schemaDir := filepath.Join(dir, cfg.SchemaDir)
	if err := os.MkdirAll(schemaDir, 0755); err != nil {
		return err
	}
	schemaPath := filepath.Join(schemaDir, "001_users.sql")
	if err := os.WriteFile(schemaPath, []byte(exampleSchema), 0644); err != nil {
		return err
	}
	created(schemaPath)

	migrationsDir := filepath.Join(dir, cfg.MigrationsDir)
	if err := os.MkdirAll(migrationsDir, 0755); err != nil {
		return err
	}
	created(migrationsDir + "/")

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point DATABASE_URL in .env at your database")
	fmt.Fprintln(out, "  2. Edit the files in schema/ to declare your tables")
	fmt.Fprintln(out, "  3. Run 'schemasync diff' to preview and 'schemasync sync' to apply")
	return nil
}
