package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrBacklogFull indicates a queue that drops new entries.
var ErrBacklogFull = errors.New("health: backlog full")

// Backlogger exposes a bounded queue. capture.Module satisfies it for its
// asynchronous log records.
type Backlogger interface {
	Backlog() (pending, capacity int)
}

// BacklogChecker is degraded once the queue is at least warnAt full (a
// fraction in (0, 1], default 0.8) and unhealthy when it is full, since new
// records are then dropped.
func BacklogChecker(b Backlogger, warnAt float64) Checker {
	if warnAt <= 0 || warnAt > 1 {
		warnAt = 0.8
	}
	return CheckerFunc(func(ctx context.Context) Result {
		pending, capacity := b.Backlog()
		details := map[string]any{"pending": pending, "capacity": capacity}
		if capacity <= 0 {
			return Healthy("unbounded").WithDetails(details)
		}

		fill := float64(pending) / float64(capacity)
		msg := fmt.Sprintf("%d of %d slots in use", pending, capacity)
		switch {
		case pending >= capacity:
			return Unhealthy(msg, ErrBacklogFull).WithDetails(details)
		case fill >= warnAt:
			return Degraded(msg).WithDetails(details)
		default:
			return Healthy(msg).WithDetails(details)
		}
	})
}
