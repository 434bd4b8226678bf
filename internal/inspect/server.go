// Package inspect serves a read-only HTTP API over the registered
// databases: tables, table definitions and rows, the sync plan and the
// migration status.
package inspect

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexus-db/schemasync/pkg/core/migration"
	"github.com/nexus-db/schemasync/pkg/core/registry"
	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/database"
	"github.com/nexus-db/schemasync/pkg/dialects"
	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// SchemaLoader loads the desired tables with db's parser.
type SchemaLoader func(db *database.Database) (*database.TableSet, error)

// Config holds the server configuration.
type Config struct {
	Host     string
	Port     int
	Registry *registry.Module
	// Schema enables the plan endpoint.
	Schema SchemaLoader
	// MigrationsDir enables the migrations endpoint.
	MigrationsDir string
	Logger        logging.Logger
}

// Server is the inspection API.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger logging.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop{}
	}
	s := &Server{cfg: cfg, router: gin.New(), logger: cfg.Logger}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/info", s.handleInfo)

	db := api.Group("/databases/:db")
	db.GET("/tables", s.handleTables)
	db.GET("/tables/:table", s.handleTableSchema)
	db.GET("/tables/:table/data", s.handleTableData)
	db.GET("/plan", s.handlePlan)
	db.GET("/migrations", s.handleMigrations)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the server address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// StartWithContext serves until ctx is done, then shuts down gracefully.
func (s *Server) StartWithContext(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Log(logging.LevelDebug, "Request", logging.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
	}
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Registry.Info())
}

func (s *Server) handleTables(c *gin.Context) {
	db, ok := s.database(c)
	if !ok {
		return
	}
	tables, err := db.ListTables(c.Request.Context())
	if err != nil {
		s.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"database": db.CodeName(), "tables": tables})
}

func (s *Server) handleTableSchema(c *gin.Context) {
	db, ok := s.database(c)
	if !ok {
		return
	}
	t, err := db.DatabaseTable(c.Request.Context(), c.Param("table"))
	if err != nil {
		s.jsonError(c, err)
		return
	}
	sql, err := db.Dialect().CreateTable(t)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    t.Name(),
		"type":    t.Type(),
		"columns": columnsJSON(t),
		"indexes": indexesJSON(t),
		"create":  sql,
	})
}

func (s *Server) handleTableData(c *gin.Context) {
	db, ok := s.database(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	table := c.Param("table")
	exists, err := db.TableExists(ctx, table)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	if !exists {
		s.jsonError(c, errors.New(errors.KindTableNotFound, "Table {table} not found").WithVar("table", table))
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	total, err := db.QueryInteger(ctx, "SELECT COUNT(*) FROM "+db.Dialect().QuoteTable(table))
	if err != nil {
		s.jsonError(c, err)
		return
	}
	rows, err := db.Select(ctx, dialects.SelectOptions{
		What:   "*",
		Table:  table,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		s.jsonError(c, err)
		return
	}
	data := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		data = append(data, r.Map())
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  data,
		"total": total,
		"page":  page,
		"limit": limit,
		"pages": (int(total) + limit - 1) / limit,
	})
}

func (s *Server) handlePlan(c *gin.Context) {
	if s.cfg.Schema == nil {
		s.jsonError(c, errors.New(errors.KindConfiguration, "No schema directory configured"))
		return
	}
	db, ok := s.database(c)
	if !ok {
		return
	}
	tables, err := s.cfg.Schema(db)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	snapshot, err := migration.TakeSnapshot(c.Request.Context(), db, migration.HistoryTable)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	plan, err := migration.PlanTables(db.Dialect(), snapshot.Tables, tables.List(), migration.PlanOptions{
		DropTables:  c.Query("drop_tables") == "true",
		KeepColumns: c.Query("keep_columns") == "true",
	})
	if err != nil {
		s.jsonError(c, err)
		return
	}
	changes := make([]gin.H, 0, len(plan.Changes))
	for _, ch := range plan.Changes {
		changes = append(changes, gin.H{"kind": ch.Kind, "table": ch.Table, "object": ch.Object, "sql": ch.SQL})
	}
	c.JSON(http.StatusOK, gin.H{"database": db.CodeName(), "in_sync": plan.Empty(), "changes": changes})
}

func (s *Server) handleMigrations(c *gin.Context) {
	if s.cfg.MigrationsDir == "" {
		s.jsonError(c, errors.New(errors.KindConfiguration, "No migrations directory configured"))
		return
	}
	db, ok := s.database(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	e := migration.NewEngine(db)
	if err := e.LoadFromDir(s.cfg.MigrationsDir); err != nil {
		s.jsonError(c, err)
		return
	}
	exists, err := db.TableExists(ctx, migration.HistoryTable)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	migrations := make([]gin.H, 0, len(e.Migrations()))
	if !exists {
		for _, m := range e.Migrations() {
			migrations = append(migrations, gin.H{"id": m.ID, "name": m.Name, "applied": false})
		}
		c.JSON(http.StatusOK, gin.H{"migrations": migrations})
		return
	}
	status, err := e.Status(ctx)
	if err != nil {
		s.jsonError(c, err)
		return
	}
	for _, m := range status {
		entry := gin.H{"id": m.ID, "name": m.Name, "applied": m.Applied, "modified": m.Modified}
		if m.Applied {
			entry["applied_at"] = m.AppliedAt.Format(time.RFC3339)
		}
		migrations = append(migrations, entry)
	}
	c.JSON(http.StatusOK, gin.H{"migrations": migrations})
}

// database resolves the :db parameter; "_" selects the default database.
func (s *Server) database(c *gin.Context) (*database.Database, bool) {
	name := c.Param("db")
	if name == "_" {
		name = ""
	}
	db, err := s.cfg.Registry.DatabaseRegistry(c.Request.Context(), name)
	if err != nil {
		s.jsonError(c, err)
		return nil, false
	}
	return db, true
}

func (s *Server) jsonError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Log(logging.LevelError, "Request failed", logging.Fields{"path": c.Request.URL.Path, "error": err})
	}
	body := gin.H{"error": err.Error()}
	var e *errors.Error
	if errors.As(err, &e) {
		body["kind"] = e.Kind
		if e.Suggestion != "" {
			body["suggestion"] = e.Suggestion
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func statusOf(err error) int {
	switch errors.KindOf(err) {
	case errors.KindKeyNotFound, errors.KindTableNotFound, errors.KindNoResults:
		return http.StatusNotFound
	case errors.KindSemantics, errors.KindParse:
		return http.StatusBadRequest
	case errors.KindConnect:
		return http.StatusBadGateway
	case errors.KindConfiguration, errors.KindUnsupported, errors.KindUnimplemented:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func columnsJSON(t *schema.Table) []gin.H {
	out := make([]gin.H, 0, len(t.Columns()))
	for _, col := range t.Columns() {
		entry := gin.H{
			"name":       col.Name(),
			"type":       col.SQLType(),
			"size":       col.Size(),
			"nullable":   col.Null(),
			"primaryKey": col.IsPrimaryKey(),
			"increment":  col.IsIncrement(),
		}
		if v, ok := col.DefaultValue(); ok {
			entry["default"] = v
		}
		out = append(out, entry)
	}
	return out
}

func indexesJSON(t *schema.Table) []gin.H {
	indexes := t.Indexes()
	out := make([]gin.H, 0, len(indexes))
	for _, name := range t.IndexNames() {
		idx := indexes[name]
		out = append(out, gin.H{"name": name, "type": idx.Type(), "columns": idx.Columns()})
	}
	return out
}
