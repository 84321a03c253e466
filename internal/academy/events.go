package academy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const eventTimeout = 5 * time.Second

// SyncEvent records the outcome of one background sync.
type SyncEvent struct {
	Action    string
	UserID    int64
	CourseID  string
	Success   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// EventLogger persists sync outcomes.
type EventLogger interface {
	LogEvent(event SyncEvent) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(SyncEvent) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []SyncEvent
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []SyncEvent{},
	}
}

func (l *MemoryEventLogger) LogEvent(event SyncEvent) error {
	if event.Action == "" {
		return fmt.Errorf("action is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []SyncEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SyncEvent{}, l.events...)
}

// PostgresEventLogger inserts events into the academy_sync_events table
// (see database.Schema).
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event SyncEvent) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Action == "" {
		return fmt.Errorf("action is required")
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO academy_sync_events (action, user_id, course_id, success, duration_ms, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		event.Action,
		event.UserID,
		event.CourseID,
		event.Success,
		event.Duration.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	return nil
}
