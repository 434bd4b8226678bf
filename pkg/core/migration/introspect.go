package migration

import (
	"context"
	"sort"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
)

// Snapshot is the schema of a live database at one point in time.
type Snapshot struct {
	Database string
	Tables   map[string]*schema.Table
}

// Names returns the table names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateSQL renders the CREATE statements of every table, in name order.
func (s *Snapshot) CreateSQL(d schema.DDL) ([]string, error) {
	var out []string
	for _, name := range s.Names() {
		sql, err := d.CreateTable(s.Tables[name])
		if err != nil {
			return nil, err
		}
		out = append(out, sql...)
	}
	return out, nil
}

// TakeSnapshot reads every table of db. Tables whose name starts with
// ignore prefixes, such as the migration history table, are skipped.
func TakeSnapshot(ctx context.Context, db *database.Database, ignore ...string) (*Snapshot, error) {
	names, err := db.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{Database: db.CodeName(), Tables: make(map[string]*schema.Table, len(names))}
	for _, name := range names {
		if ignored(name, ignore) {
			continue
		}
		t, err := db.DatabaseTable(ctx, name)
		if err != nil {
			return nil, err
		}
		snapshot.Tables[name] = t
	}
	return snapshot, nil
}

func ignored(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
