package academy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-academy/internal/storage"
)

// Durable storage keys.
const (
	KeyPrefix          = "academy"
	KeyCourses         = "academyCourses"
	KeyUserID          = "userId"
	lessonsKeyPrefix   = "academyLessons_"
	testKeyPrefix      = "academyTest_"
	attemptsKeyPrefix  = "academyTestAttempts_"
	certificatePrefix  = "academyCertificate_"
	coursesCacheKey    = ""
	defaultSyncTimeout = 30 * time.Second
)

// MaxFailedAttempts is the number of failed test attempts after which a
// test can no longer be retaken.
const MaxFailedAttempts = 3

func LessonsKey(courseID string) string      { return lessonsKeyPrefix + courseID }
func TestKey(courseID string) string         { return testKeyPrefix + courseID }
func TestAttemptsKey(courseID string) string { return attemptsKeyPrefix + courseID }
func CertificateKey(courseID string) string  { return certificatePrefix + courseID }

var (
	ErrNoUser              = errors.New("no user id in storage")
	ErrNoSyncer            = errors.New("remote sync is not configured")
	ErrSnapshotUnavailable = errors.New("user snapshot unavailable")
)

// Syncer pushes local mutations to the remote academy service and pulls the
// user's snapshot back. Implementations report failure with false or nil
// and never return errors.
type Syncer interface {
	SyncOnboarding(ctx context.Context, data OnboardingData, userID int64) bool
	SyncCourse(ctx context.Context, course Course, userID int64) bool
	SyncProgress(ctx context.Context, courseID, lessonID string, completed bool, userID int64) bool
	SyncTestAttempt(ctx context.Context, attempt TestAttempt, courseID string, userID int64) bool
	SyncCertificate(ctx context.Context, cert Certificate, userID int64) bool
	FetchUserAcademyData(ctx context.Context, userID int64) *Snapshot
	FetchOnboarding(ctx context.Context, userID int64) *OnboardingData
}

// CacheObserver records cache hits and misses.
type CacheObserver interface {
	CacheLookup(cache string, hit bool)
}

// Store serves academy reads from a short-lived cache over durable storage
// and fires a background sync after each write. Writes are durable when the
// call returns; sync failures are logged and never reach the caller.
type Store struct {
	safe        *storage.Safe
	syncer      Syncer
	notifier    storage.ChangeNotifier
	observer    CacheObserver
	events      EventLogger
	ids         *IDGenerator
	now         func() time.Time
	ttl         time.Duration
	syncTimeout time.Duration

	// mu serializes every read-modify-write against durable storage.
	mu      sync.Mutex
	courses *ttlCache[string, []Course]
	lessons *ttlCache[string, []Lesson]

	bgMu        sync.Mutex
	closed      bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// Option configures a Store.
type Option func(*Store)

// WithSyncer sets the remote sync target. Without one the store is local only.
func WithSyncer(s Syncer) Option {
	return func(st *Store) {
		st.syncer = s
	}
}

// WithNotifier sets the source of external change events. By default the
// KV itself is used when it implements storage.ChangeNotifier.
func WithNotifier(n storage.ChangeNotifier) Option {
	return func(st *Store) {
		st.notifier = n
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		st.now = now
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(st *Store) {
		if ttl > 0 {
			st.ttl = ttl
		}
	}
}

// WithSyncTimeout bounds each background sync call.
func WithSyncTimeout(d time.Duration) Option {
	return func(st *Store) {
		if d > 0 {
			st.syncTimeout = d
		}
	}
}

// WithCacheObserver reports cache lookups, usually to metrics.
func WithCacheObserver(o CacheObserver) Option {
	return func(st *Store) {
		st.observer = o
	}
}

// WithEventLogger records the outcome of every background sync.
func WithEventLogger(l EventLogger) Option {
	return func(st *Store) {
		if l != nil {
			st.events = l
		}
	}
}

// WithIDGenerator replaces the default id generator.
func WithIDGenerator(g *IDGenerator) Option {
	return func(st *Store) {
		st.ids = g
	}
}

// NewStore creates a store over kv and subscribes to external changes of
// academy keys. Call Close to stop background work.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		safe:        storage.NewSafe(kv),
		ids:         NewIDGenerator(),
		now:         time.Now,
		ttl:         DefaultCacheTTL,
		syncTimeout: defaultSyncTimeout,
		events:      NopEventLogger{},
	}
	if n, ok := kv.(storage.ChangeNotifier); ok {
		s.notifier = n
	}
	for _, opt := range opts {
		opt(s)
	}

	s.courses = newTTLCache[string, []Course](s.ttl, s.now)
	s.lessons = newTTLCache[string, []Lesson](s.ttl, s.now)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.notifier != nil {
		s.unsubscribe = s.notifier.OnExternalChange(KeyPrefix, func(key string) {
			slog.Debug("academy data changed elsewhere, clearing cache", "key", key)
			s.InvalidateCache()
		})
	}
	return s
}

// NewID returns a fresh unique id.
func (s *Store) NewID() string {
	return s.ids.New()
}

// UserID returns the current user from the userId key. A missing, zero or
// non-numeric value means there is no user and sync is skipped.
func (s *Store) UserID() (int64, bool) {
	raw, ok := s.safe.GetString(KeyUserID)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// SetUserID stores the current user.
func (s *Store) SetUserID(id int64) bool {
	return s.safe.SetString(KeyUserID, strconv.FormatInt(id, 10))
}

// Courses returns all courses.
func (s *Store) Courses() []Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCourses(s.loadCourses())
}

func (s *Store) loadCourses() []Course {
	if cached, ok := s.courses.get(coursesCacheKey); ok {
		s.observe("courses", true)
		return cached
	}
	s.observe("courses", false)
	gen := s.courses.generation()
	courses := storage.ParseJSON(s.safe, KeyCourses, []Course{})
	s.courses.fill(coursesCacheKey, courses, gen)
	return courses
}

// SaveCourses replaces the course list and syncs every course.
func (s *Store) SaveCourses(courses []Course) {
	s.mu.Lock()
	saved := s.storeCourses(courses)
	s.mu.Unlock()
	s.syncCourses(saved)
}

func (s *Store) storeCourses(courses []Course) []Course {
	if courses == nil {
		courses = []Course{}
	}
	saved := cloneCourses(courses)
	s.safe.SetJSON(KeyCourses, saved)
	s.courses.set(coursesCacheKey, saved)
	return saved
}

func (s *Store) syncCourses(courses []Course) {
	uid, ok := s.syncTarget()
	if !ok {
		return
	}
	for _, c := range courses {
		s.background(SyncEvent{Action: "save_course", UserID: uid, CourseID: c.ID}, func(ctx context.Context) bool {
			return s.syncer.SyncCourse(ctx, c, uid)
		})
	}
}

// CourseLessons returns the lessons of a course.
func (s *Store) CourseLessons(courseID string) []Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLessons(s.loadLessons(courseID))
}

func (s *Store) loadLessons(courseID string) []Lesson {
	if cached, ok := s.lessons.get(courseID); ok {
		s.observe("lessons", true)
		return cached
	}
	s.observe("lessons", false)
	gen := s.lessons.generation()
	lessons := storage.ParseJSON(s.safe, LessonsKey(courseID), []Lesson{})
	s.lessons.fill(courseID, lessons, gen)
	return lessons
}

// SaveCourseLessons replaces the lessons of a course. Lessons are not synced
// on their own; progress and courses are.
func (s *Store) SaveCourseLessons(courseID string, lessons []Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLessons(courseID, lessons)
}

func (s *Store) storeLessons(courseID string, lessons []Lesson) {
	if lessons == nil {
		lessons = []Lesson{}
	}
	saved := cloneLessons(lessons)
	s.safe.SetJSON(LessonsKey(courseID), saved)
	s.lessons.set(courseID, saved)
}

// Progress returns round(100*completed/total) clamped to [0,100], or 0 for
// no lessons.
func Progress(lessons []Lesson) int {
	if len(lessons) == 0 {
		return 0
	}
	done := 0
	for _, l := range lessons {
		if l.Completed {
			done++
		}
	}
	return percent(done, len(lessons))
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	return min(100, max(0, p))
}

// CourseProgress returns the completion percentage of a course.
func (s *Store) CourseProgress(courseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress(s.loadLessons(courseID))
}

// UpdateLessonProgress marks one lesson completed (or not), recomputes the
// course's progress, and syncs the courses and the progress change.
func (s *Store) UpdateLessonProgress(courseID, lessonID string, completed bool) {
	s.mu.Lock()
	lessons := cloneLessons(s.loadLessons(courseID))
	for i := range lessons {
		if lessons[i].ID == lessonID {
			lessons[i].Completed = completed
			lessons[i].InProgress = !completed
		}
	}
	s.storeLessons(courseID, lessons)
	s.InvalidateCache(courseID)

	progress := Progress(s.loadLessons(courseID))
	courses := cloneCourses(s.loadCourses())
	for i := range courses {
		if courses[i].ID == courseID {
			courses[i].Progress = progress
		}
	}
	saved := s.storeCourses(courses)
	s.mu.Unlock()

	s.syncCourses(saved)
	if uid, ok := s.syncTarget(); ok {
		s.background(SyncEvent{Action: "save_progress", UserID: uid, CourseID: courseID}, func(ctx context.Context) bool {
			return s.syncer.SyncProgress(ctx, courseID, lessonID, completed, uid)
		})
	}
}

// CourseTest returns the course's test, or nil.
func (s *Store) CourseTest(courseID string) *Test {
	return storage.ParseJSON[*Test](s.safe, TestKey(courseID), nil)
}

// SaveCourseTest stores the course's test. Tests are not synced.
func (s *Store) SaveCourseTest(courseID string, test Test) {
	s.safe.SetJSON(TestKey(courseID), test)
}

// SaveTestAttempt appends an attempt and syncs it. The append is a
// read-modify-write: it is atomic within this Store but two processes
// sharing storage can lose an attempt.
func (s *Store) SaveTestAttempt(courseID string, attempt TestAttempt) {
	s.mu.Lock()
	attempts := s.loadAttempts(courseID)
	attempts = append(attempts, attempt)
	s.safe.SetJSON(TestAttemptsKey(courseID), attempts)
	s.mu.Unlock()

	if uid, ok := s.syncTarget(); ok {
		s.background(SyncEvent{Action: "save_test_attempt", UserID: uid, CourseID: courseID}, func(ctx context.Context) bool {
			return s.syncer.SyncTestAttempt(ctx, attempt, courseID, uid)
		})
	}
}

// TestAttempts returns every attempt for a course in submission order.
func (s *Store) TestAttempts(courseID string) []TestAttempt {
	return s.loadAttempts(courseID)
}

func (s *Store) loadAttempts(courseID string) []TestAttempt {
	return storage.ParseJSON(s.safe, TestAttemptsKey(courseID), []TestAttempt{})
}

// CanRetakeTest reports whether fewer than MaxFailedAttempts attempts failed.
func (s *Store) CanRetakeTest(courseID string) bool {
	failed := 0
	for _, a := range s.loadAttempts(courseID) {
		if !a.Passed {
			failed++
		}
	}
	return failed < MaxFailedAttempts
}

// SaveCertificate stores a course certificate and syncs it.
func (s *Store) SaveCertificate(courseID string, cert Certificate) {
	s.safe.SetJSON(CertificateKey(courseID), cert)
	if uid, ok := s.syncTarget(); ok {
		s.background(SyncEvent{Action: "save_certificate", UserID: uid, CourseID: courseID}, func(ctx context.Context) bool {
			return s.syncer.SyncCertificate(ctx, cert, uid)
		})
	}
}

// Certificate returns the certificate stored for a course, or nil.
func (s *Store) Certificate(courseID string) *Certificate {
	return storage.ParseJSON[*Certificate](s.safe, CertificateKey(courseID), nil)
}

// InvalidateCache drops the lesson cache of the given courses, or every
// cached value when called without arguments.
func (s *Store) InvalidateCache(courseID ...string) {
	if len(courseID) == 0 {
		s.lessons.clear()
		s.courses.clear()
		return
	}
	for _, id := range courseID {
		s.lessons.delete(id)
	}
}

// SaveOnboarding pushes onboarding answers to the server. Onboarding is not
// stored locally.
func (s *Store) SaveOnboarding(ctx context.Context, data OnboardingData) bool {
	uid, ok := s.syncTarget()
	if !ok {
		return false
	}
	return s.syncer.SyncOnboarding(ctx, data, uid)
}

// Onboarding fetches the user's onboarding answers from the server.
func (s *Store) Onboarding(ctx context.Context) *OnboardingData {
	uid, ok := s.syncTarget()
	if !ok {
		return nil
	}
	return s.syncer.FetchOnboarding(ctx, uid)
}

func (s *Store) syncTarget() (int64, bool) {
	if s.syncer == nil {
		return 0, false
	}
	return s.UserID()
}

// background runs fn detached from the caller and records its outcome with
// the event logger. Panics and failures are logged; nothing is returned.
func (s *Store) background(ev SyncEvent, fn func(ctx context.Context) bool) {
	s.bgMu.Lock()
	if s.closed {
		s.bgMu.Unlock()
		slog.Debug("store closed, dropping sync", "action", ev.Action)
		return
	}
	s.wg.Add(1)
	s.bgMu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background sync panicked", "action", ev.Action, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(s.ctx, s.syncTimeout)
		defer cancel()

		start := s.now()
		ev.Success = fn(ctx)
		ev.Duration = s.now().Sub(start)
		ev.CreatedAt = start
		if !ev.Success {
			slog.Debug("background sync did not succeed", "action", ev.Action)
		}
		if err := s.events.LogEvent(ev); err != nil {
			slog.Warn("failed to record sync event", "action", ev.Action, "error", err)
		}
	}()
}

// Wait blocks until every background sync started so far has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close stops listening for external changes, cancels in-flight syncs and
// waits for them to return.
func (s *Store) Close() error {
	s.bgMu.Lock()
	if s.closed {
		s.bgMu.Unlock()
		return nil
	}
	s.closed = true
	s.bgMu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Store) observe(cache string, hit bool) {
	if s.observer != nil {
		s.observer.CacheLookup(cache, hit)
	}
}
