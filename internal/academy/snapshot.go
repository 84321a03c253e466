package academy

import (
	"context"
	"log/slog"
	"slices"
)

// Pull fetches the user's snapshot from the server and replaces all local
// academy state with it.
func (s *Store) Pull(ctx context.Context) (*Snapshot, error) {
	if s.syncer == nil {
		return nil, ErrNoSyncer
	}
	uid, ok := s.UserID()
	if !ok {
		return nil, ErrNoUser
	}
	snap := s.syncer.FetchUserAcademyData(ctx, uid)
	if snap == nil {
		return nil, ErrSnapshotUnavailable
	}
	s.ApplySnapshot(*snap)
	return snap, nil
}

// ApplySnapshot overwrites local academy state with snap. Every academy key
// is removed first, so anything the server does not know about is dropped.
// Lessons listed in the progress map are marked completed and each course's
// progress is recomputed. Nothing is synced back.
func (s *Store) ApplySnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := s.safe.Keys(KeyPrefix)
	for _, key := range stale {
		s.safe.Remove(key)
	}

	lessonsByCourse := make(map[string][]Lesson, len(snap.Lessons))
	for courseID, lessons := range snap.Lessons {
		lessons = slices.Clone(lessons)
		if lessons == nil {
			lessons = []Lesson{}
		}
		if p, ok := snap.Progress[courseID]; ok {
			markCompleted(lessons, p.CompletedLessons)
		}
		lessonsByCourse[courseID] = lessons
		s.safe.SetJSON(LessonsKey(courseID), lessons)
	}

	courses := slices.Clone(snap.Courses)
	if courses == nil {
		courses = []Course{}
	}
	for i := range courses {
		c := &courses[i]
		if lessons := lessonsByCourse[c.ID]; len(lessons) > 0 {
			c.Progress = Progress(lessons)
		} else if p, ok := snap.Progress[c.ID]; ok {
			c.Progress = percent(len(p.CompletedLessons), p.TotalLessons)
		}
		if c.Test != nil {
			s.safe.SetJSON(TestKey(c.ID), *c.Test)
		}
	}
	s.safe.SetJSON(KeyCourses, courses)

	for courseID, attempts := range snap.TestAttempts {
		s.safe.SetJSON(TestAttemptsKey(courseID), attempts)
	}
	if cert := snap.Certificate; cert != nil {
		for _, courseID := range cert.Courses {
			s.safe.SetJSON(CertificateKey(courseID), *cert)
		}
	}

	s.InvalidateCache()
	slog.Info("applied academy snapshot",
		"courses", len(courses),
		"lesson_sets", len(snap.Lessons),
		"removed_keys", len(stale),
	)
}

func markCompleted(lessons []Lesson, completedIDs []string) {
	for i := range lessons {
		if slices.Contains(completedIDs, lessons[i].ID) {
			lessons[i].Completed = true
			lessons[i].InProgress = false
		}
	}
}
