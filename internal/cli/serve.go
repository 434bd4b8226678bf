package cli

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/nexus-db/schemasync/internal/inspect"
	"github.com/nexus-db/schemasync/pkg/database"
)

// ServeOptions configures the inspection server.
type ServeOptions struct {
	Port int
	Host string
}

// DefaultServeOptions returns the default server options.
func DefaultServeOptions() ServeOptions {
	return ServeOptions{Port: 4000, Host: "localhost"}
}

// Server builds the inspection server over the App's registry.
func (a *App) Server(opts ServeOptions) *inspect.Server {
	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	return inspect.NewServer(inspect.Config{
		Host:     opts.Host,
		Port:     opts.Port,
		Registry: a.Registry,
		Schema: func(db *database.Database) (*database.TableSet, error) {
			return a.Schema(db)
		},
		MigrationsDir: a.migrationsDir(),
		Logger:        a.Logger,
	})
}

// Serve runs the inspection server until ctx is done.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	s := a.Server(opts)
	a.printf("\nschemasync inspect API\n")
	a.printf("   Local:   http://%s/api/info\n", s.Addr())
	a.printf("\n   Press Ctrl+C to stop\n\n")
	return s.StartWithContext(ctx)
}
