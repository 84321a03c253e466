package academy_test

import (
	"testing"

	"github.com/p-n-ai/pai-academy/internal/academy"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

func TestMemoryEventLogger_LogEvent(t *testing.T) {
	logger := academy.NewMemoryEventLogger()

	err := logger.LogEvent(academy.SyncEvent{
		Action:   "save_course",
		UserID:   42,
		CourseID: "C1",
		Success:  true,
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Action != "save_course" {
		t.Errorf("Action = %q, want save_course", events[0].Action)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestMemoryEventLogger_RequiresAction(t *testing.T) {
	if err := academy.NewMemoryEventLogger().LogEvent(academy.SyncEvent{UserID: 1}); err == nil {
		t.Fatal("expected error for empty action")
	}
}

func TestPostgresEventLogger_LogEvent_NilPool(t *testing.T) {
	logger := academy.NewPostgresEventLogger(nil)

	err := logger.LogEvent(academy.SyncEvent{Action: "save_progress"})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestStore_RecordsSyncOutcomes(t *testing.T) {
	syncer := academy.NewMockSyncer()
	journal := academy.NewMemoryEventLogger()
	s := newStore(t, storage.NewMemoryKV(), academy.WithSyncer(syncer), academy.WithEventLogger(journal))
	s.SetUserID(42)

	s.SaveCourses(sampleCourses())
	s.Wait()
	syncer.Result = false
	s.SaveCertificate("C1", academy.Certificate{ID: "cert-1", Courses: []string{"C1"}})
	s.Wait()

	events := journal.Events()
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	byAction := map[string][]academy.SyncEvent{}
	for _, ev := range events {
		if ev.UserID != 42 {
			t.Errorf("event %+v has wrong user", ev)
		}
		byAction[ev.Action] = append(byAction[ev.Action], ev)
	}
	if got := byAction["save_course"]; len(got) != 2 || !got[0].Success || !got[1].Success {
		t.Errorf("save_course events = %+v", got)
	}
	if got := byAction["save_certificate"]; len(got) != 1 || got[0].Success || got[0].CourseID != "C1" {
		t.Errorf("save_certificate events = %+v", got)
	}
}
