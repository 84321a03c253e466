package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgChangesChannel = "academy_kv_changes"

// PostgresKV stores keys in the academy_kv table (see database.Schema) and
// announces writes with pg_notify.
type PostgresKV struct {
	pool   *pgxpool.Pool
	origin string
	subs   subscribers

	listenOnce sync.Once
	cancel     context.CancelFunc
}

// NewPostgresKV creates a Postgres-backed store. The schema must exist.
func NewPostgresKV(pool *pgxpool.Pool) (*PostgresKV, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresKV{pool: pool, origin: uuid.NewString()}, nil
}

func (p *PostgresKV) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM academy_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`WITH upsert AS (
			INSERT INTO academy_kv (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
			RETURNING key
		)
		SELECT pg_notify($3::text, $4::text || ':' || key) FROM upsert`,
		key, value, pgChangesChannel, p.origin,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`WITH removed AS (
			DELETE FROM academy_kv WHERE key = $1 RETURNING key
		)
		SELECT pg_notify($2::text, $3::text || ':' || key) FROM removed`,
		key, pgChangesChannel, p.origin,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT key FROM academy_kv WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// OnExternalChange subscribes to writes made by other processes. A dedicated
// connection LISTENs from the first subscription until Close.
func (p *PostgresKV) OnExternalChange(prefix string, fn func(string)) func() {
	p.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.listen(ctx)
	})
	return p.subs.add(prefix, fn)
}

func (p *PostgresKV) listen(ctx context.Context) {
	for {
		err := p.listenConn(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("postgres change listener stopped, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (p *PostgresKV) listenConn(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer func() {
		// Closed so the pool discards it instead of reusing a LISTENing session.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChangesChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		origin, key, ok := strings.Cut(n.Payload, ":")
		if !ok || origin == p.origin {
			continue
		}
		p.subs.notify(key)
	}
}

// Close stops the change listener. The pool is owned by the caller.
func (p *PostgresKV) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
