// Package catalog loads course bundles from YAML files and imports them into
// an academy store.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-academy/internal/academy"
)

//go:embed course.schema.json
var courseSchema string

// ErrInvalidBundle is returned when a bundle does not match the course schema.
var ErrInvalidBundle = errors.New("invalid course bundle")

const (
	bundleSuffix    = ".course.yaml"
	bundleSuffixAlt = ".course.yml"

	defaultIcon           = "BookOpen"
	defaultCourseTitle    = "Untitled course"
	defaultCourseDuration = "0 hours"
	defaultLessonDuration = "15-20 min"
	defaultPassingScore   = 100
)

// Bundle is one course with its lessons and optional final test.
type Bundle struct {
	Source  string
	Course  academy.Course
	Lessons []academy.Lesson
	Test    *academy.Test
}

// Loader decodes and validates bundle files.
type Loader struct {
	schema *gojsonschema.Schema
	ids    *academy.IDGenerator
	now    func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithIDGenerator sets the generator used for missing course ids.
func WithIDGenerator(g *academy.IDGenerator) Option {
	return func(l *Loader) {
		l.ids = g
	}
}

// WithClock sets the time source for missing generatedAt values.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// NewLoader compiles the embedded course schema.
func NewLoader(opts ...Option) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(courseSchema))
	if err != nil {
		return nil, fmt.Errorf("compile course schema: %w", err)
	}
	l := &Loader{
		schema: schema,
		ids:    academy.NewIDGenerator(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadDir walks dir for *.course.yaml files. Files that fail to parse or
// validate are skipped with a warning.
func (l *Loader) LoadDir(dir string) ([]Bundle, error) {
	var bundles []Bundle
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isBundle(path) {
			return nil
		}
		b, err := l.LoadFile(path)
		if err != nil {
			slog.Warn("skipping course bundle", "path", path, "error", err)
			return nil
		}
		bundles = append(bundles, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk catalog %s: %w", dir, err)
	}

	slog.Info("course catalog loaded", "dir", dir, "courses", len(bundles))
	return bundles, nil
}

func isBundle(path string) bool {
	return strings.HasSuffix(path, bundleSuffix) || strings.HasSuffix(path, bundleSuffixAlt)
}

// LoadFile reads and validates a single bundle file.
func (l *Loader) LoadFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read %s: %w", path, err)
	}
	b, err := l.Parse(data)
	if err != nil {
		return Bundle{}, fmt.Errorf("parse %s: %w", path, err)
	}
	b.Source = path
	return b, nil
}

// Parse validates one YAML document against the course schema and fills in
// defaults.
func (l *Loader) Parse(data []byte) (Bundle, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Bundle{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := l.validate(doc); err != nil {
		return Bundle{}, err
	}

	var raw rawCourse
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Bundle{}, fmt.Errorf("decode course: %w", err)
	}
	return l.build(raw)
}

func (l *Loader) validate(doc any) error {
	result, err := l.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate course: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidBundle, strings.Join(msgs, "; "))
}

func (l *Loader) build(raw rawCourse) (Bundle, error) {
	id := raw.ID
	if id == "" {
		id = l.ids.New()
	}
	generatedAt := raw.GeneratedAt
	if generatedAt == "" {
		generatedAt = l.now().UTC().Format(time.RFC3339)
	}

	lessons := make([]academy.Lesson, 0, len(raw.Lessons))
	for i, rl := range raw.Lessons {
		lessons = append(lessons, rl.lesson(id, i))
	}

	var test *academy.Test
	if raw.Test != nil {
		t, err := raw.Test.test(id)
		if err != nil {
			return Bundle{}, err
		}
		test = &t
	}

	course := academy.Course{
		ID:          id,
		Title:       cmpOr(raw.Title, defaultCourseTitle),
		Description: raw.Description,
		Icon:        cmpOr(raw.Icon, defaultIcon),
		Lessons:     len(lessons),
		Duration:    cmpOr(raw.Duration, defaultCourseDuration),
		Progress:    academy.Progress(lessons),
		GeneratedAt: generatedAt,
		Test:        test,
	}
	return Bundle{Course: course, Lessons: lessons, Test: test}, nil
}

// Importer is the part of the academy store the catalog writes to.
type Importer interface {
	Courses() []academy.Course
	CourseLessons(courseID string) []academy.Lesson
	SaveCourses(courses []academy.Course)
	SaveCourseLessons(courseID string, lessons []academy.Lesson)
	SaveCourseTest(courseID string, test academy.Test)
}

// Import stores every bundle's lessons and test, then merges the courses into
// the stored course list. A bundle replaces a stored course with the same id
// but keeps the learner's lesson state and recomputes the course progress.
// The course list is saved, and synced, only when it changed. It returns the
// number of courses imported.
func Import(store Importer, bundles []Bundle) int {
	if len(bundles) == 0 {
		return 0
	}

	courses := store.Courses()
	index := make(map[string]int, len(courses))
	for i, c := range courses {
		index[c.ID] = i
	}

	changed := 0
	for _, b := range bundles {
		id := b.Course.ID
		if b.Test != nil {
			store.SaveCourseTest(id, *b.Test)
		}

		i, ok := index[id]
		if !ok {
			store.SaveCourseLessons(id, b.Lessons)
			index[id] = len(courses)
			courses = append(courses, b.Course)
			changed++
			continue
		}

		prev := store.CourseLessons(id)
		lessons := mergeLessonState(b.Lessons, prev)
		if !sameJSON(lessons, prev) {
			store.SaveCourseLessons(id, lessons)
		}
		course := mergeCourse(b.Course, courses[i], lessons)
		if sameJSON(course, courses[i]) {
			continue
		}
		courses[i] = course
		changed++
	}
	if changed > 0 {
		store.SaveCourses(courses)
	}

	slog.Info("course catalog imported", "courses", len(bundles), "changed", changed)
	return len(bundles)
}

// mergeLessonState copies completion and lock state from stored lessons onto
// the bundle's lessons with the same id.
func mergeLessonState(lessons, stored []academy.Lesson) []academy.Lesson {
	state := make(map[string]academy.Lesson, len(stored))
	for _, l := range stored {
		state[l.ID] = l
	}
	merged := make([]academy.Lesson, len(lessons))
	for i, l := range lessons {
		if prev, ok := state[l.ID]; ok {
			l.Completed = prev.Completed
			l.InProgress = prev.InProgress
			l.Locked = prev.Locked
		}
		merged[i] = l
	}
	return merged
}

// mergeCourse applies a bundle course over a stored one. Learner state and
// the original generation time survive.
func mergeCourse(course, stored academy.Course, lessons []academy.Lesson) academy.Course {
	course.Progress = academy.Progress(lessons)
	course.Completed = stored.Completed
	course.InProgress = stored.InProgress
	course.PersonalizedFor = stored.PersonalizedFor
	if stored.GeneratedAt != "" {
		course.GeneratedAt = stored.GeneratedAt
	}
	return course
}

// sameJSON compares values the way they are stored.
func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
