package migration

import (
	"context"
	"fmt"
	"sort"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// ChangeKind names the kind of a planned schema change.
type ChangeKind string

const (
	ChangeCreateTable  ChangeKind = "create table"
	ChangeDropTable    ChangeKind = "drop table"
	ChangeAlterTable   ChangeKind = "alter table"
	ChangeAddColumn    ChangeKind = "add column"
	ChangeAlterColumn  ChangeKind = "change column"
	ChangeRenameColumn ChangeKind = "rename column"
	ChangeDropColumn   ChangeKind = "drop column"
	ChangeAddIndex     ChangeKind = "add index"
	ChangeDropIndex    ChangeKind = "drop index"
)

// Change is one planned step and the statements that perform it.
type Change struct {
	Kind   ChangeKind
	Table  string
	Object string
	SQL    []string
}

func (c Change) String() string {
	if c.Object == "" {
		return fmt.Sprintf("%s %s", c.Kind, c.Table)
	}
	return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Object)
}

// Plan is the ordered list of changes that brings a database in line with
// a set of table definitions.
type Plan struct {
	Changes []Change
}

// Empty reports whether the database already matches.
func (p *Plan) Empty() bool { return len(p.Changes) == 0 }

// Statements returns the SQL of every change in order.
func (p *Plan) Statements() []string {
	var out []string
	for _, c := range p.Changes {
		out = append(out, c.SQL...)
	}
	return out
}

// Summary returns one line per change.
func (p *Plan) Summary() []string {
	out := make([]string, len(p.Changes))
	for i, c := range p.Changes {
		out[i] = c.String()
	}
	return out
}

func (p *Plan) add(kind ChangeKind, table, object string, sql []string) {
	p.Changes = append(p.Changes, Change{Kind: kind, Table: table, Object: object, SQL: sql})
}

// PlanOptions controls destructive steps of a plan.
type PlanOptions struct {
	// DropTables drops live tables that have no definition.
	DropTables bool
	// KeepColumns leaves live columns that have no definition in place.
	KeepColumns bool
	// Debug logs every difference found while comparing tables.
	Debug bool
}

// PlanTables plans the changes from the live tables to the desired ones.
// Desired tables are processed in the given order.
func PlanTables(d dialects.SQLDialect, live map[string]*schema.Table, desired []*schema.Table, opts PlanOptions) (*Plan, error) {
	plan := &Plan{}
	seen := map[string]bool{}
	for _, want := range desired {
		seen[want.Name()] = true
		old, ok := live[want.Name()]
		if !ok {
			sql, err := want.Clone().SQLCreate(d)
			if err != nil {
				return nil, err
			}
			plan.add(ChangeCreateTable, want.Name(), "", sql)
			continue
		}
		changes, err := PlanTable(d, old, want, opts)
		if err != nil {
			return nil, err
		}
		plan.Changes = append(plan.Changes, changes.Changes...)
	}
	if opts.DropTables {
		names := make([]string, 0, len(live))
		for name := range live {
			if !seen[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			sql, err := d.DropTable(name)
			if err != nil {
				return nil, err
			}
			plan.add(ChangeDropTable, name, "", sql)
		}
	}
	return plan, nil
}

// PlanTable plans the changes from old to want. Statements are rendered
// against a working copy of old that tracks every planned step, so each
// statement sees the table as the previous ones left it.
func PlanTable(d dialects.SQLDialect, old, want *schema.Table, opts PlanOptions) (*Plan, error) {
	plan := &Plan{}
	if old.IsSimilar(want, opts.Debug) {
		return plan, nil
	}
	name := want.Name()
	work := old.Clone()

	if oldType, wantType := old.Type(), want.Type(); oldType != "" && wantType != "" && oldType != wantType {
		sql, err := d.AlterTableType(name, wantType)
		if err != nil {
			return nil, err
		}
		if len(sql) > 0 {
			plan.add(ChangeAlterTable, name, "type", sql)
		}
	}
	sql, err := want.SQLAlter(d, old)
	if err != nil {
		return nil, err
	}
	if len(sql) > 0 {
		plan.add(ChangeAlterTable, name, "attributes", sql)
	}

	oldIndexes, wantIndexes := old.Indexes(), want.Indexes()
	for _, indexName := range old.IndexNames() {
		idx := oldIndexes[indexName]
		if other, ok := wantIndexes[indexName]; ok && idx.IsSimilar(other, opts.Debug) {
			continue
		}
		current, err := work.Index(indexName)
		if err != nil {
			continue
		}
		sql, err := d.AlterTableIndexDrop(work, current)
		if err != nil {
			return nil, err
		}
		action := schema.ActionDropIndex
		if current.IsPrimary() {
			action = schema.ActionDropPrimaryKey
		}
		plan.add(ChangeDropIndex, name, indexName, append(sql, want.ActionSQL(action)...))
		if _, err := work.RemoveIndex(indexName); err != nil {
			return nil, err
		}
	}

	handled := map[string]bool{}
	for _, c := range want.Columns() {
		if oc, err := old.Column(c.Name()); err == nil {
			handled[c.Name()] = true
			if columnSimilar(oc, c, opts.Debug) {
				continue
			}
			if err := changeColumn(d, plan, work, c.Name(), c, ChangeAlterColumn); err != nil {
				return nil, err
			}
			continue
		}
		if c.PreviousName != "" && old.HasColumn(c.PreviousName) && !want.HasColumn(c.PreviousName) {
			handled[c.PreviousName] = true
			if err := changeColumn(d, plan, work, c.PreviousName, c, ChangeRenameColumn); err != nil {
				return nil, err
			}
			continue
		}
		bare, err := withoutIndexes(c)
		if err != nil {
			return nil, err
		}
		sql, err := d.AlterTableColumnAdd(work, bare)
		if err != nil {
			return nil, err
		}
		sql = append(sql, c.AddSQL...)
		plan.add(ChangeAddColumn, name, c.Name(), append(sql, want.ActionSQL(schema.ActionAddColumn)...))
		if err := replaceColumn(work, "", bare); err != nil {
			return nil, err
		}
	}

	if !opts.KeepColumns {
		for _, oc := range old.Columns() {
			if handled[oc.Name()] || want.HasColumn(oc.Name()) {
				continue
			}
			sql, err := d.AlterTableColumnDrop(work, oc.Name())
			if err != nil {
				return nil, err
			}
			if extra, ok := want.RemoveSQL(oc.Name()); ok {
				sql = append(sql, extra)
			}
			plan.add(ChangeDropColumn, name, oc.Name(), append(sql, want.ActionSQL(schema.ActionDropColumn)...))
			if _, err := work.RemoveColumn(oc.Name()); err != nil {
				return nil, err
			}
		}
	}

	workIndexes := work.Indexes()
	for _, indexName := range want.IndexNames() {
		idx := wantIndexes[indexName]
		if current, ok := workIndexes[indexName]; ok && current.IsSimilar(idx, false) {
			continue
		}
		sql, err := d.AlterTableIndexAdd(work, idx)
		if err != nil {
			return nil, err
		}
		action := schema.ActionAddIndex
		if idx.IsPrimary() {
			action = schema.ActionAddPrimaryKey
		}
		plan.add(ChangeAddIndex, name, indexName, append(sql, want.ActionSQL(action)...))
	}
	return plan, nil
}

func columnSimilar(old, want *schema.Column, debug bool) bool {
	if !want.IsSimilar(old, debug) {
		return false
	}
	engine := want.Table().Engine()
	if engine == nil {
		return true
	}
	var allow []string
	for key := range engine.ColumnAttributes(want) {
		allow = append(allow, key)
	}
	sort.Strings(allow)
	return len(want.AttributeDifferences(old, allow)) == 0
}

func changeColumn(d dialects.SQLDialect, plan *Plan, work *schema.Table, from string, c *schema.Column, kind ChangeKind) error {
	bare, err := withoutIndexes(c)
	if err != nil {
		return err
	}
	sql, err := d.AlterTableChangeColumn(work, from, bare)
	if err != nil {
		return err
	}
	object := c.Name()
	if kind == ChangeRenameColumn {
		object = from + " -> " + c.Name()
	}
	plan.add(kind, work.Name(), object, sql)
	return replaceColumn(work, from, bare)
}

// withoutIndexes copies c with its index declarations removed; indexes are
// planned on their own. A primary key column stays required.
func withoutIndexes(c *schema.Column) (*schema.Column, error) {
	source := c.Table()
	scratch := schema.NewTable(source.Engine(), source.Name(), source.Type())
	bare := c.Clone(scratch)
	bare.AfterColumn = ""
	if _, err := scratch.ColumnAdd(bare); err != nil {
		return nil, err
	}
	required := c.Required()
	for _, name := range scratch.IndexNames() {
		if _, err := scratch.RemoveIndex(name); err != nil {
			return nil, err
		}
	}
	if bare.Required() != required {
		bare.SetRequired(required)
	}
	return bare, nil
}

// replaceColumn puts c into work in place of column from, or appends it
// when from is empty. Index memberships of from carry over to c.
func replaceColumn(work *schema.Table, from string, c *schema.Column) error {
	clone := c.Clone(work)
	if from == "" {
		_, err := work.ColumnAdd(clone)
		return err
	}
	names := work.ColumnNames()
	for i, n := range names {
		if n == from && i > 0 {
			clone.AfterColumn = names[i-1]
		}
	}
	type membership struct {
		idx  *schema.Index
		size int
	}
	var kept []membership
	for _, indexName := range work.IndexNames() {
		idx, err := work.Index(indexName)
		if err != nil {
			return err
		}
		if size, ok := idx.ColumnSizes()[from]; ok {
			kept = append(kept, membership{idx, size})
		}
	}
	if _, err := work.RemoveColumn(from); err != nil {
		return err
	}
	if _, err := work.ColumnAdd(clone); err != nil {
		return err
	}
	for _, m := range kept {
		if !work.HasIndex(m.idx.Name()) {
			if err := work.AddIndex(m.idx); err != nil {
				return err
			}
		}
		if _, err := m.idx.AddColumn(clone.Name(), m.size); err != nil {
			return err
		}
	}
	return nil
}

// Synchronize plans the changes that bring db in line with tables and,
// unless dryRun is set, runs them. Statements run outside a transaction;
// table rebuilds manage their own pragmas.
func Synchronize(ctx context.Context, db *database.Database, tables *database.TableSet, opts PlanOptions, dryRun bool) (*Plan, error) {
	snapshot, err := TakeSnapshot(ctx, db, HistoryTable)
	if err != nil {
		return nil, err
	}
	plan, err := PlanTables(db.Dialect(), snapshot.Tables, tables.List(), opts)
	if err != nil {
		return nil, err
	}
	logger := db.Logger()
	if plan.Empty() {
		logger.Log(logging.LevelInfo, "Database is up to date", logging.Fields{"database": db.CodeName()})
		return plan, nil
	}
	if dryRun {
		return plan, nil
	}
	for _, change := range plan.Changes {
		logger.Log(logging.LevelInfo, "Applying change", logging.Fields{"database": db.CodeName(), "change": change.String()})
		if _, err := db.Queries(ctx, change.SQL, database.Exec()); err != nil {
			if errors.KindOf(err) == "" {
				return plan, errors.Wrap(errors.KindSQLException, err, "Failed to {change}").WithVar("change", change.String())
			}
			return plan, err
		}
	}
	return plan, nil
}
