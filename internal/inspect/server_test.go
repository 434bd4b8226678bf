package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/core/registry"
	"github.com/nexus-db/schemasync/pkg/database"
	_ "github.com/nexus-db/schemasync/pkg/dialects/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, schemaDir string) *Server {
	t.Helper()
	m := registry.New()
	if _, err := m.Register("app", "sqlite:///:memory:", true); err != nil {
		t.Fatalf("Failed to register database: %v", err)
	}
	t.Cleanup(m.DisconnectAll)

	db, err := m.DatabaseRegistry(context.Background(), "app")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	_, err = db.Queries(context.Background(), []string{
		"CREATE TABLE users (id integer PRIMARY KEY AUTOINCREMENT, email varchar(128) NOT NULL)",
		"CREATE UNIQUE INDEX users_email ON users (email)",
		"INSERT INTO users (email) VALUES ('a@example.com'), ('b@example.com'), ('c@example.com')",
	}, database.Exec())
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	cfg := Config{Registry: m}
	if schemaDir != "" {
		cfg.Schema = func(db *database.Database) (*database.TableSet, error) {
			return migration.LoadSchemaDir(db, schemaDir, nil)
		}
	}
	return NewServer(cfg)
}

func get(t *testing.T, s *Server, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, body
}

func TestTables(t *testing.T) {
	s := newTestServer(t, "")

	code, body := get(t, s, "/api/databases/app/tables")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", code, body)
	}
	tables, _ := body["tables"].([]interface{})
	if len(tables) != 1 || tables[0] != "users" {
		t.Errorf("Expected [users], got %v", body["tables"])
	}

	code, body = get(t, s, "/api/databases/_/tables")
	if code != http.StatusOK || body["database"] != "app" {
		t.Errorf("Expected _ to select the default database, got %d %v", code, body)
	}

	code, body = get(t, s, "/api/databases/nope/tables")
	if code != http.StatusNotFound || body["kind"] != "KEY_NOT_FOUND" {
		t.Errorf("Expected 404 KEY_NOT_FOUND, got %d %v", code, body)
	}
}

func TestTableSchema(t *testing.T) {
	s := newTestServer(t, "")

	code, body := get(t, s, "/api/databases/app/tables/users")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", code, body)
	}
	columns, _ := body["columns"].([]interface{})
	if len(columns) != 2 {
		t.Fatalf("Expected 2 columns, got %v", body["columns"])
	}
	id := columns[0].(map[string]interface{})
	if id["name"] != "id" || id["primaryKey"] != true {
		t.Errorf("Expected id primary key, got %v", id)
	}
	indexes, _ := body["indexes"].([]interface{})
	found := false
	for _, raw := range indexes {
		if idx := raw.(map[string]interface{}); idx["name"] == "users_email" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected users_email index, got %v", indexes)
	}

	code, _ = get(t, s, "/api/databases/app/tables/missing")
	if code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing table, got %d", code)
	}
}

func TestTableData(t *testing.T) {
	s := newTestServer(t, "")

	code, body := get(t, s, "/api/databases/app/tables/users/data?limit=2&page=2")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", code, body)
	}
	if body["total"] != float64(3) || body["pages"] != float64(2) {
		t.Errorf("Expected total 3 over 2 pages, got %v", body)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("Expected 1 row on page 2, got %v", data)
	}
	if row := data[0].(map[string]interface{}); row["email"] != "c@example.com" {
		t.Errorf("Expected c@example.com, got %v", row)
	}

	code, body = get(t, s, "/api/databases/app/tables/ghosts/data")
	if code != http.StatusNotFound || body["kind"] != "TABLE_NOT_FOUND" {
		t.Errorf("Expected 404 TABLE_NOT_FOUND, got %d %v", code, body)
	}
}

func TestPlan(t *testing.T) {
	code, _ := get(t, newTestServer(t, ""), "/api/databases/app/plan")
	if code != http.StatusNotImplemented {
		t.Errorf("Expected 501 without a schema directory, got %d", code)
	}

	dir := t.TempDir()
	script := "CREATE TABLE posts (id integer PRIMARY KEY, title text);\n"
	if err := os.WriteFile(filepath.Join(dir, "posts.sql"), []byte(script), 0644); err != nil {
		t.Fatalf("Failed to write schema: %v", err)
	}
	s := newTestServer(t, dir)

	code, body := get(t, s, "/api/databases/app/plan")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", code, body)
	}
	changes, _ := body["changes"].([]interface{})
	if body["in_sync"] != false || len(changes) != 1 {
		t.Fatalf("Expected one change, got %v", body)
	}
	if ch := changes[0].(map[string]interface{}); ch["kind"] != "create table" || ch["table"] != "posts" {
		t.Errorf("Expected create table posts, got %v", ch)
	}

	_, body = get(t, s, "/api/databases/app/plan?drop_tables=true")
	changes, _ = body["changes"].([]interface{})
	if len(changes) != 2 {
		t.Errorf("Expected the users drop as well, got %v", changes)
	}
}

func TestInfo(t *testing.T) {
	code, body := get(t, newTestServer(t, ""), "/api/info")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body["default"] != "app" || body["default_url"] != "sqlite:///:memory:" {
		t.Errorf("Unexpected info %v", body)
	}
}
