package mysql

import (
	"reflect"
	"testing"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/errors"
)

const trackingSQL = "CREATE TABLE `tracking_1999` (\n" +
	"  `id` int(11) unsigned NOT NULL auto_increment,\n" +
	"  `utc` timestamp NOT NULL DEFAULT 0,\n" +
	"  `cookieid` char(32) NOT NULL,\n" +
	"  `sess_id` int(11) unsigned NOT NULL,\n" +
	"  `crcat` varchar(80) default NULL,\n" +
	"  `crcpn` varchar(80) default NULL,\n" +
	"  `crseg` varchar(80) default NULL,\n" +
	"  `landing_id` int(11) unsigned default NULL,\n" +
	"  `userip` varchar(15) default NULL,\n" +
	"  `inner_ip` int(11) unsigned default NULL,\n" +
	"  `ip` int(11) unsigned NOT NULL,\n" +
	"  `client_time` timestamp NULL DEFAULT 0,\n" +
	"  `gmt_offset` smallint(6) NULL,\n" +
	"  `ref_id` int(11) unsigned NULL,\n" +
	"  `page_id` int(11) unsigned default NULL,\n" +
	"  `top_page_id` int(11) unsigned default NULL,\n" +
	"  `ua_id` int(11) unsigned default NULL,\n" +
	"  `nojs` tinyint NOT NULL DEFAULT 'false',\n" +
	"  `nocook` tinyint NOT NULL DEFAULT 'false',\n" +
	"  `action_code` tinyint(1) default NULL,\n" +
	"  `action_id` int(11) unsigned default NULL,\n" +
	"  `action_val1` double(6,2) default NULL,\n" +
	"  `action_reference1` varchar(100) default NULL,\n" +
	"  `action_val2` double(6,2) default NULL,\n" +
	"  `action_reference2` varchar(100) default NULL,\n" +
	"  PRIMARY KEY  (`id`),\n" +
	"  KEY `sess_id` (`sess_id`),\n" +
	"  KEY `landing_id` (`landing_id`),\n" +
	"  KEY `ip` (`ip`),\n" +
	"  KEY `cookieid` (`cookieid`),\n" +
	"  KEY `actions` (`action_id`),\n" +
	"  KEY `utc_action_id` (`utc`,`action_id`),\n" +
	"  KEY `action_utc` (`action_code`,`utc`),\n" +
	"  KEY `utc_ts` (`utc`)\n" +
	");"

const reportSQL = "CREATE TABLE `TestTable` (\n" +
	"  `report` int(10) unsigned NOT NULL,\n" +
	"  `location` int(10) unsigned NOT NULL,\n" +
	"  `AccountTimeZone` varchar(64) COLLATE utf8_unicode_ci DEFAULT NULL,\n" +
	"  `Date` timestamp NULL DEFAULT NULL,\n" +
	"  `Week` varchar(64) CHARACTER SET latin1 DEFAULT NULL,\n" +
	"  `Notes` text,\n" +
	"  KEY `Ads_Report` (`report`),\n" +
	"  KEY `by_query` (`report`,`location`) USING BTREE,\n" +
	"  UNIQUE KEY `prefix` (`Week`(10),`report`)\n" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8 COLLATE=utf8_unicode_ci"

func TestParser_TrackingTable(t *testing.T) {
	db := newTestDatabase()
	table, err := db.ParseCreateTable(trackingSQL, "TestParser_TrackingTable")
	if err != nil {
		t.Fatalf("Failed to parse CREATE TABLE: %v", err)
	}
	if table.Name() != "tracking_1999" {
		t.Errorf("Expected table tracking_1999, got %s", table.Name())
	}
	if n := len(table.Columns()); n != 25 {
		t.Errorf("Expected 25 columns, got %d", n)
	}
	if n := len(table.IndexNames()); n != 9 {
		t.Errorf("Expected 9 indexes, got %d: %v", n, table.IndexNames())
	}

	id, err := table.Column("id")
	if err != nil {
		t.Fatalf("Failed to get column id: %v", err)
	}
	if !id.IsIncrement() || !id.Unsigned || !id.IsPrimaryKey() {
		t.Errorf("Expected unsigned auto increment primary key id")
	}
	if primary := table.Primary(); primary == nil || !reflect.DeepEqual(primary.Columns(), []string{"id"}) {
		t.Errorf("Expected primary key on id, got %v", primary)
	}

	for _, name := range []string{"utc", "nojs"} {
		c, err := table.Column(name)
		if err != nil {
			t.Fatalf("Failed to get column %s: %v", name, err)
		}
		def, ok := c.DefaultValue()
		if !ok || def != int64(0) {
			t.Errorf("Expected %s default 0, got %v (%T)", name, def, def)
		}
	}

	idx, err := table.Index("utc_action_id")
	if err != nil {
		t.Fatalf("Failed to get index: %v", err)
	}
	if !reflect.DeepEqual(idx.Columns(), []string{"utc", "action_id"}) {
		t.Errorf("Expected columns [utc action_id], got %v", idx.Columns())
	}
	if idx.Structure() != schema.IndexStructureBTree {
		t.Errorf("Expected BTREE structure, got %s", idx.Structure())
	}

	val, err := table.Column("action_val1")
	if err != nil {
		t.Fatalf("Failed to get column action_val1: %v", err)
	}
	if val.SQLType() != "double(6,2)" {
		t.Errorf("Expected double(6,2), got %s", val.SQLType())
	}
}

func TestParser_TableOptionsAndCharsets(t *testing.T) {
	db := newTestDatabase()
	table, err := db.ParseCreateTable(reportSQL, "TestParser_TableOptionsAndCharsets")
	if err != nil {
		t.Fatalf("Failed to parse CREATE TABLE: %v", err)
	}
	if table.Type() != "InnoDB" {
		t.Errorf("Expected InnoDB, got %s", table.Type())
	}
	if got := table.Attribute(AttributeDefaultCharset, ""); got != "utf8" {
		t.Errorf("Expected default charset utf8, got %s", got)
	}

	week, err := table.Column("Week")
	if err != nil {
		t.Fatalf("Failed to get column Week: %v", err)
	}
	if week.IsIncrement() || !week.IsText() || week.Size() != 64 {
		t.Errorf("Expected plain text column of size 64")
	}
	if week.CharacterSet != "latin1" || week.Collation != "utf8_unicode_ci" {
		t.Errorf("Expected latin1/utf8_unicode_ci, got %s/%s", week.CharacterSet, week.Collation)
	}

	zone, err := table.Column("AccountTimeZone")
	if err != nil {
		t.Fatalf("Failed to get column AccountTimeZone: %v", err)
	}
	if zone.CharacterSet != "utf8" {
		t.Errorf("Expected table charset utf8, got %s", zone.CharacterSet)
	}
	if zone.Required() {
		t.Errorf("Expected nullable column")
	}

	prefix, err := table.Index("prefix")
	if err != nil {
		t.Fatalf("Failed to get index prefix: %v", err)
	}
	if !prefix.IsUnique() {
		t.Errorf("Expected unique index, got %s", prefix.Type())
	}
	expected := []schema.IndexColumn{{Name: "Week", Size: 10}, {Name: "report", Size: schema.IndexSizeDefault}}
	if !reflect.DeepEqual(prefix.IndexColumns(), expected) {
		t.Errorf("Expected %v, got %v", expected, prefix.IndexColumns())
	}
	if _, err := table.Index("by_query"); err != nil {
		t.Errorf("Expected index by_query: %v", err)
	}
}

func TestParser_RoundTrip(t *testing.T) {
	db := newTestDatabase()
	users := usersTable(t, db)
	sql, err := db.Dialect().CreateTable(users)
	if err != nil {
		t.Fatalf("Failed to create table SQL: %v", err)
	}
	parsed, err := db.ParseCreateTable(sql[0], "TestParser_RoundTrip")
	if err != nil {
		t.Fatalf("Failed to parse generated SQL: %v", err)
	}
	for _, name := range users.ColumnNames() {
		want, _ := users.Column(name)
		got, err := parsed.Column(name)
		if err != nil {
			t.Fatalf("Failed to get column %s: %v", name, err)
		}
		if diffs := want.Differences(got); len(diffs) != 0 {
			t.Errorf("Expected column %s to round trip, got %v", name, diffs)
		}
	}
}

func TestParser_Tips(t *testing.T) {
	db := newTestDatabase()
	sql := "-- COLUMN: OldName -> NewName\n" +
		"-- +Flag: UPDATE {table} SET Flag=1\n" +
		"-- -Gone: UPDATE {table} SET Other=Gone*100;\n" +
		"CREATE TABLE `tips` (\n" +
		"  `NewName` varchar(32) NULL,\n" +
		"  `Flag` tinyint NOT NULL DEFAULT 0\n" +
		")"
	table, err := db.ParseCreateTable(sql, "TestParser_Tips")
	if err != nil {
		t.Fatalf("Failed to parse CREATE TABLE: %v", err)
	}
	renamed, err := table.Column("NewName")
	if err != nil {
		t.Fatalf("Failed to get column NewName: %v", err)
	}
	if renamed.PreviousName != "OldName" {
		t.Errorf("Expected previous name OldName, got %q", renamed.PreviousName)
	}
	flag, err := table.Column("Flag")
	if err != nil {
		t.Fatalf("Failed to get column Flag: %v", err)
	}
	if !reflect.DeepEqual(flag.AddSQL, []string{"UPDATE {table} SET Flag=1;"}) {
		t.Errorf("Expected add SQL, got %v", flag.AddSQL)
	}
	if remove, ok := table.RemoveSQL("Gone"); !ok || remove != "UPDATE {table} SET Other=Gone*100;" {
		t.Errorf("Expected remove SQL, got %q", remove)
	}
}

func TestParser_CreateIndex(t *testing.T) {
	db := newTestDatabase()
	table, err := db.ParseCreateTable(reportSQL, "TestParser_CreateIndex")
	if err != nil {
		t.Fatalf("Failed to parse CREATE TABLE: %v", err)
	}
	idx, err := db.Parser().CreateIndex(table, "CREATE UNIQUE INDEX `by_date` USING HASH ON `TestTable` (`Date`, `location`)")
	if err != nil {
		t.Fatalf("Failed to parse CREATE INDEX: %v", err)
	}
	if !idx.IsUnique() || idx.Structure() != schema.IndexStructureHash {
		t.Errorf("Expected unique HASH index, got %s %s", idx.Type(), idx.Structure())
	}
	if !table.HasIndex("by_date") {
		t.Errorf("Expected index installed on table")
	}

	_, err = db.Parser().CreateIndex(table, "CREATE INDEX `x` ON `Other` (`Date`)")
	if !errors.IsKind(err, errors.KindParse) {
		t.Errorf("Expected Parse error for another table, got %v", err)
	}
}

func TestParser_Invalid(t *testing.T) {
	db := newTestDatabase()
	_, err := db.ParseCreateTable("CREATE VIEW `v` AS SELECT 1", "TestParser_Invalid")
	if !errors.IsKind(err, errors.KindParse) {
		t.Errorf("Expected Parse error, got %v", err)
	}
}
