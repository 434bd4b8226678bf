package migration

import (
	"context"
	"time"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// LockName is the advisory lock held while migrations run.
const LockName = "schemasync_migrate"

// LockOptions configures migration locking behavior.
type LockOptions struct {
	// Name of the advisory lock (default LockName)
	Name string
	// Timeout is how long to wait for lock acquisition (0 = immediate fail)
	Timeout time.Duration
}

// DefaultLockOptions returns default lock configuration.
func DefaultLockOptions() LockOptions {
	return LockOptions{Name: LockName}
}

// WithLock executes fn with the migration lock held. The lock is taken
// with the database's advisory lock, so it also excludes other processes.
func (e *Engine) WithLock(ctx context.Context, fn func() error) error {
	name := e.lock.Name
	if name == "" {
		name = LockName
	}
	if err := e.db.GetLock(ctx, name, e.lock.Timeout); err != nil {
		if errors.IsKind(err, errors.KindTimeoutExpired) {
			return errors.Wrap(errors.KindTimeoutExpired, err, "Migrations are locked by another process ({lock})").
				WithVar("lock", name).WithSuggestion("Wait for the other migration to finish or raise --lock-timeout")
		}
		return err
	}
	defer func() {
		if err := e.db.ReleaseLock(context.WithoutCancel(ctx), name); err != nil {
			e.logger().Log(logging.LevelWarn, "Failed to release migration lock", logging.Fields{"lock": name, "error": err})
		}
	}()
	return fn()
}

// IsLocked reports whether this engine's database holds the migration lock.
func (e *Engine) IsLocked() bool {
	name := e.lock.Name
	if name == "" {
		name = LockName
	}
	for _, held := range e.db.HeldLocks() {
		if held == name {
			return true
		}
	}
	return false
}
