package storage_test

import (
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-academy/internal/academy"
	"github.com/p-n-ai/pai-academy/internal/platform/database"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

func TestNewPostgresKV_NilPool(t *testing.T) {
	if _, err := storage.NewPostgresKV(nil); err == nil {
		t.Fatal("NewPostgresKV(nil) should fail")
	}
}

func TestPostgresKV_Integration(t *testing.T) {
	if os.Getenv("LEARN_TEST_DOCKER") != "1" {
		t.Skip("set LEARN_TEST_DOCKER=1 to run Postgres integration tests")
	}

	ctx := t.Context()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("academy"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := database.New(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	tabA, err := storage.NewPostgresKV(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresKV() error = %v", err)
	}
	defer tabA.Close()
	tabB, _ := storage.NewPostgresKV(db.Pool)
	defer tabB.Close()

	changed := make(chan string, 8)
	tabB.OnExternalChange("academy", func(key string) { changed <- key })
	// Give the listener time to issue LISTEN.
	time.Sleep(500 * time.Millisecond)

	if err := tabA.Set("academyLessons_c_1", `[]`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := tabA.Set("academyLessons_c_1", `[{"id":"l1"}]`); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	_ = tabA.Set("academyLessons_cx1", `[]`)

	got, err := tabB.Get("academyLessons_c_1")
	if err != nil || got != `[{"id":"l1"}]` {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	keys, err := tabB.Keys("academyLessons_c_")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"academyLessons_c_1"}) {
		t.Errorf("Keys() = %v, want underscore treated literally", keys)
	}

	select {
	case key := <-changed:
		if key != "academyLessons_c_1" {
			t.Errorf("changed key = %q", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification from the other store's write")
	}

	if err := tabA.Delete("academyLessons_c_1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := tabB.Get("academyLessons_c_1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}

	journal := academy.NewPostgresEventLogger(db.Pool)
	for _, ev := range []academy.SyncEvent{
		{Action: "save_course", UserID: 42, CourseID: "c_1", Success: true, Duration: 120 * time.Millisecond},
		{Action: "save_certificate", UserID: 42, Success: false},
	} {
		if err := journal.LogEvent(ev); err != nil {
			t.Fatalf("LogEvent(%s) error = %v", ev.Action, err)
		}
	}
	var total, failed int
	err = db.Pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE NOT success) FROM academy_sync_events WHERE user_id = 42`,
	).Scan(&total, &failed)
	if err != nil {
		t.Fatalf("count sync events: %v", err)
	}
	if total != 2 || failed != 1 {
		t.Errorf("sync events = %d total, %d failed; want 2, 1", total, failed)
	}
}
