package connection

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nexus-db/schemasync/pkg/logging"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	p, err := Open(ctx, "sqlite3", ":memory:", SingleConnection())
	if err != nil {
		t.Fatalf("Failed to open pool: %v", err)
	}
	defer p.Close()

	if p.Config().MaxOpenConns != 1 {
		t.Errorf("Expected 1 open connection, got %d", p.Config().MaxOpenConns)
	}
	if err := p.HealthCheck(ctx, logging.Nop{}); err != nil {
		t.Errorf("Expected a healthy pool: %v", err)
	}
	if s := p.Stats(); s.MaxOpenConnections != 1 {
		t.Errorf("Expected the driver pool to be limited to 1, got %d", s.MaxOpenConnections)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "nosuchdriver", "", DefaultPoolConfig()); err == nil {
		t.Errorf("Expected an unknown driver to fail")
	}
}

func TestHealthCheckAtCapacity(t *testing.T) {
	ctx := context.Background()
	p, err := Open(ctx, "sqlite3", ":memory:", SingleConnection())
	if err != nil {
		t.Fatalf("Failed to open pool: %v", err)
	}
	defer p.Close()

	conn, err := p.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire connection: %v", err)
	}
	defer conn.Close()

	// The only connection is held, so the ping has to wait for it.
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.HealthCheck(ctx, logging.Nop{}); err == nil {
		t.Errorf("Expected the health check to fail while the connection is held")
	}
}
