package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"expensetracker/internal/core"
)

// TaskLocker is a lease-based run lock stored in SQLite. It lets several
// scheduler processes sharing one database skip a task another process is
// still running. A crashed holder's lease expires after ttl.
type TaskLocker struct {
	queries *Queries
	holder  string
	ttl     time.Duration
	clock   core.Clock
}

func (r *SQLiteRepository) NewTaskLocker(ttl time.Duration, clock core.Clock) *TaskLocker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &TaskLocker{
		queries: r.queries,
		holder:  uuid.NewString(),
		ttl:     ttl,
		clock:   clock,
	}
}

// TryLock takes the lease for name. ok is false when another holder owns it.
func (l *TaskLocker) TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error) {
	now := l.clock.Now()
	n, err := l.queries.AcquireTaskLock(ctx, name, l.holder, now.Add(l.ttl).Unix(), now.Unix())
	if err != nil {
		return nil, false, core.Wrap(core.ErrPersistence, fmt.Errorf("acquire task lock %s: %w", name, err))
	}
	if n == 0 {
		return nil, false, nil
	}

	unlock = func() {
		// The caller's context may already be cancelled at shutdown.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.queries.ReleaseTaskLock(releaseCtx, name, l.holder); err != nil {
			slog.Error("Failed to release task lock", "task", name, "error", err)
		}
	}
	return unlock, true, nil
}
