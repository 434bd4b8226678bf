package migration

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/errors"
)

// LoadSchemaDir parses every .sql file of dir, in name order, into one
// table set. A table defined in two files is a Parse error.
func LoadSchemaDir(db *database.Database, dir string, vars map[string]string) (*database.TableSet, error) {
	files, err := SchemaFiles(dir)
	if err != nil {
		return nil, err
	}
	set := &database.TableSet{Tables: map[string]*schema.Table{}}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		loaded, err := db.LoadSchema(string(content), file, vars)
		if err != nil {
			return nil, err
		}
		for _, name := range loaded.Order {
			if prev, ok := set.Tables[name]; ok {
				return nil, errors.New(errors.KindParse, "Table {table} in {file} is already defined in {previous}").
					WithVar("table", name).WithVar("file", file).WithVar("previous", prev.Source())
			}
			set.Tables[name] = loaded.Tables[name]
			set.Order = append(set.Order, name)
		}
	}
	return set, nil
}

// SchemaFiles lists the .sql files of dir in name order.
func SchemaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindConfiguration, err, "Schema directory {dir} does not exist").
				WithVar("dir", dir).WithSuggestion("Set schema_dir in schemasync.yaml or run 'schemasync init'")
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
