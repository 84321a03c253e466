package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-academy/internal/academy"
	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

const unitEconomics = `
id: unit-economics
title: Unit economics
description: Margins and break-even for small shops.
icon: Calculator
duration: 2 hours
generated_at: "2026-01-01T09:00:00Z"
lessons:
  - id: margins
    title: Margins
    duration: 20 min
    slides:
      - title: What is margin
        content: Revenue minus variable costs.
  - title: Break-even
    type: practice
    practical_task: Compute your break-even point.
    templates:
      - title: Break-even sheet
        type: excel
        url: https://example.com/break-even.xlsx
  - type: simulation
test:
  passing_score: 80
  questions:
    - id: q1
      text: Which costs change with volume?
      type: single
      options: ["Rent", "Materials*", "Salaries"]
    - text: Pick the fixed costs
      type: multiple
      options: ["Rent*", "Materials", "Insurance *"]
    - text: Define contribution margin
      type: text
      correct_answer: price minus variable cost
`

const noID = `
title: Marketing basics
lessons:
  - title: Channels
`

func setupTestCatalog(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newLoader(t *testing.T) *catalog.Loader {
	t.Helper()
	ids := &academy.IDGenerator{
		UUID: func() (uuid.UUID, error) { return uuid.MustParse("6f1c2d3e-0000-4000-8000-000000000001"), nil },
	}
	l, err := catalog.NewLoader(
		catalog.WithIDGenerator(ids),
		catalog.WithClock(func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }),
	)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return l
}

func TestLoader_Parse(t *testing.T) {
	b, err := newLoader(t).Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	c := b.Course
	if c.ID != "unit-economics" || c.Title != "Unit economics" || c.Icon != "Calculator" {
		t.Errorf("Course = %+v", c)
	}
	if c.Lessons != 3 || c.Progress != 0 || c.GeneratedAt != "2026-01-01T09:00:00Z" {
		t.Errorf("Course counts = %+v", c)
	}
	if c.Test == nil || c.Test != b.Test {
		t.Errorf("Course.Test = %v, want bundle test", c.Test)
	}

	if len(b.Lessons) != 3 {
		t.Fatalf("len(Lessons) = %d, want 3", len(b.Lessons))
	}
	first, second, third := b.Lessons[0], b.Lessons[1], b.Lessons[2]
	if first.ID != "margins" || first.Type != academy.LessonTheory || first.Locked || first.Duration != "20 min" {
		t.Errorf("first lesson = %+v", first)
	}
	if len(first.Content.Slides) != 1 || first.Content.Slides[0].Order != 1 {
		t.Errorf("first lesson slides = %+v", first.Content.Slides)
	}
	if second.ID != "lesson_unit-economics_1" || second.Type != academy.LessonPractice || !second.Locked {
		t.Errorf("second lesson = %+v", second)
	}
	if len(second.Content.Templates) != 1 || second.Content.Templates[0].Type != "excel" {
		t.Errorf("second lesson templates = %+v", second.Content.Templates)
	}
	if third.Title != "Lesson 3" || third.Duration != "15-20 min" || third.Order != 3 || third.CourseID != "unit-economics" {
		t.Errorf("third lesson = %+v", third)
	}
}

func TestLoader_ParseTest(t *testing.T) {
	b, err := newLoader(t).Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	test := b.Test
	if test.ID != "test_unit-economics" || test.PassingScore != 80 || test.AttemptsLeft != academy.MaxFailedAttempts {
		t.Errorf("Test = %+v", test)
	}

	tests := []struct {
		name    string
		idx     int
		id      string
		options []string
		want    academy.Answer
	}{
		{"single starred", 0, "q1", []string{"Rent", "Materials", "Salaries"}, academy.SingleAnswer("Materials")},
		{"multiple starred", 1, "q2", []string{"Rent", "Materials", "Insurance"}, academy.MultipleAnswer("Rent", "Insurance")},
		{"explicit answer", 2, "q3", nil, academy.SingleAnswer("price minus variable cost")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := test.Questions[tt.idx]
			if q.ID != tt.id {
				t.Errorf("ID = %q, want %q", q.ID, tt.id)
			}
			if !reflect.DeepEqual(q.Options, tt.options) {
				t.Errorf("Options = %q, want %q", q.Options, tt.options)
			}
			if !reflect.DeepEqual(q.CorrectAnswer, tt.want) {
				t.Errorf("CorrectAnswer = %#v, want %#v", q.CorrectAnswer, tt.want)
			}
		})
	}
}

func TestLoader_ParseDefaults(t *testing.T) {
	b, err := newLoader(t).Parse([]byte(noID))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := b.Course
	if c.ID != "6f1c2d3e-0000-4000-8000-000000000001" {
		t.Errorf("ID = %q, want generated uuid", c.ID)
	}
	if c.Icon != "BookOpen" || c.GeneratedAt != "2026-02-03T04:05:06Z" || c.Lessons != 1 {
		t.Errorf("Course = %+v", c)
	}
	if b.Test != nil || c.Test != nil {
		t.Errorf("Test = %+v, want nil", b.Test)
	}
	if b.Lessons[0].ID != "lesson_"+c.ID+"_0" {
		t.Errorf("lesson ID = %q", b.Lessons[0].ID)
	}
}

func TestLoader_ParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing title", "lessons:\n  - title: a\n"},
		{"no lessons", "title: x\nlessons: []\n"},
		{"bad lesson type", "title: x\nlessons:\n  - type: lecture\n"},
		{"bad question type", "title: x\nlessons:\n  - title: a\ntest:\n  questions:\n    - text: q\n      type: essay\n"},
		{"score over 100", "title: x\nlessons:\n  - title: a\ntest:\n  passing_score: 120\n  questions:\n    - text: q\n      type: text\n"},
		{"numeric answer", "title: x\nlessons:\n  - title: a\ntest:\n  questions:\n    - text: q\n      type: text\n      correct_answer: 42\n"},
	}
	l := newLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.yaml))
			if !errors.Is(err, catalog.ErrInvalidBundle) {
				t.Errorf("Parse() error = %v, want ErrInvalidBundle", err)
			}
		})
	}
}

func TestLoader_ParseBrokenYAML(t *testing.T) {
	if _, err := newLoader(t).Parse([]byte("title: [unclosed")); err == nil {
		t.Error("Parse() succeeded on broken yaml")
	}
}

func TestLoader_LoadDir(t *testing.T) {
	dir := setupTestCatalog(t, map[string]string{
		"finance/unit-economics.course.yaml": unitEconomics,
		"marketing.course.yml":               noID,
		"broken.course.yaml":                 "title: [unclosed",
		"invalid.course.yaml":                "title: x\n",
		"notes.yaml":                         "title: not a bundle\n",
		"README.md":                          "# courses",
	})

	bundles, err := newLoader(t).LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("LoadDir() = %d bundles, want 2", len(bundles))
	}
	for _, b := range bundles {
		if b.Source == "" {
			t.Errorf("bundle %s has no source", b.Course.ID)
		}
	}
}

func TestLoader_LoadDirMissing(t *testing.T) {
	if _, err := newLoader(t).LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("LoadDir() on a missing dir succeeded")
	}
}

func TestImport(t *testing.T) {
	kv := storage.NewMemoryKV()
	syncer := academy.NewMockSyncer()
	store := academy.NewStore(kv, academy.WithSyncer(syncer))
	t.Cleanup(func() { _ = store.Close() })
	store.SetUserID(42)

	store.SaveCourses([]academy.Course{
		{ID: "existing", Title: "Kept"},
		{ID: "unit-economics", Title: "Old title"},
	})
	store.Wait()

	l := newLoader(t)
	ue, err := l.Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatal(err)
	}
	mk, err := l.Parse([]byte(noID))
	if err != nil {
		t.Fatal(err)
	}

	if n := catalog.Import(store, []catalog.Bundle{ue, mk}); n != 2 {
		t.Errorf("Import() = %d, want 2", n)
	}
	store.Wait()

	courses := store.Courses()
	ids := make([]string, len(courses))
	for i, c := range courses {
		ids[i] = c.ID
	}
	if want := []string{"existing", "unit-economics", mk.Course.ID}; !reflect.DeepEqual(ids, want) {
		t.Errorf("course ids = %v, want %v", ids, want)
	}
	if courses[1].Title != "Unit economics" {
		t.Errorf("replaced course title = %q", courses[1].Title)
	}
	if got := store.CourseLessons("unit-economics"); len(got) != 3 {
		t.Errorf("CourseLessons() = %d lessons, want 3", len(got))
	}
	if got := store.CourseTest("unit-economics"); got == nil || len(got.Questions) != 3 {
		t.Errorf("CourseTest() = %+v", got)
	}
	if got := store.CourseTest(mk.Course.ID); got != nil {
		t.Errorf("CourseTest(no test) = %+v, want nil", got)
	}
	// two courses from the seed, three from the import
	if got := syncer.Count("save_course"); got != 5 {
		t.Errorf("save_course syncs = %d, want 5", got)
	}
}

func TestImport_Empty(t *testing.T) {
	store := academy.NewStore(storage.NewMemoryKV())
	t.Cleanup(func() { _ = store.Close() })
	if n := catalog.Import(store, nil); n != 0 {
		t.Errorf("Import(nil) = %d, want 0", n)
	}
	if got := store.Courses(); len(got) != 0 {
		t.Errorf("Courses() = %v, want empty", got)
	}
}

func TestImport_KeepsLearnerProgress(t *testing.T) {
	syncer := academy.NewMockSyncer()
	store := academy.NewStore(storage.NewMemoryKV(), academy.WithSyncer(syncer))
	t.Cleanup(func() { _ = store.Close() })
	store.SetUserID(42)

	l := newLoader(t)
	first, err := l.Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatal(err)
	}
	catalog.Import(store, []catalog.Bundle{first})
	store.Wait()

	store.UpdateLessonProgress("unit-economics", "margins", true)
	store.Wait()
	if got := store.CourseProgress("unit-economics"); got != 33 {
		t.Fatalf("CourseProgress() = %d, want 33", got)
	}
	synced := syncer.Count("save_course")

	// restart: the same file is loaded and imported again
	again, err := l.Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatal(err)
	}
	catalog.Import(store, []catalog.Bundle{again})
	store.Wait()

	lessons := store.CourseLessons("unit-economics")
	if len(lessons) != 3 || !lessons[0].Completed || !lessons[1].Locked {
		t.Errorf("lessons after re-import = %+v", lessons)
	}
	courses := store.Courses()
	if len(courses) != 1 || courses[0].Progress != 33 {
		t.Errorf("courses after re-import = %+v", courses)
	}
	if got := syncer.Count("save_course"); got != synced {
		t.Errorf("save_course syncs = %d, want %d (unchanged import)", got, synced)
	}
}

func TestImport_UpdatedBundleKeepsLessonState(t *testing.T) {
	store := academy.NewStore(storage.NewMemoryKV())
	t.Cleanup(func() { _ = store.Close() })

	l := newLoader(t)
	b, err := l.Parse([]byte(unitEconomics))
	if err != nil {
		t.Fatal(err)
	}
	catalog.Import(store, []catalog.Bundle{b})
	store.UpdateLessonProgress("unit-economics", "margins", true)

	b.Course.Title = "Unit economics, revised"
	b.Lessons = append(b.Lessons, academy.Lesson{ID: "pricing", CourseID: "unit-economics", Title: "Pricing", Order: 4, Locked: true})
	b.Course.Lessons = len(b.Lessons)
	catalog.Import(store, []catalog.Bundle{b})

	courses := store.Courses()
	if len(courses) != 1 || courses[0].Title != "Unit economics, revised" || courses[0].Progress != 25 {
		t.Errorf("courses = %+v, want revised title and progress 25", courses)
	}
	lessons := store.CourseLessons("unit-economics")
	if len(lessons) != 4 || !lessons[0].Completed || lessons[3].Completed {
		t.Errorf("lessons = %+v", lessons)
	}
}
