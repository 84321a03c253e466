package academy

import (
	"context"
	"sync"
)

// SyncCall is one call recorded by MockSyncer.
type SyncCall struct {
	Action    string
	UserID    int64
	CourseID  string
	LessonID  string
	Completed bool
}

// MockSyncer is a test double for Syncer. It records every call and returns
// Result for pushes and Snapshot/Onboarding for reads.
type MockSyncer struct {
	Result     bool
	Snapshot   *Snapshot
	Onboarding *OnboardingData
	// Block, when set, makes pushes wait until it is closed or ctx is done.
	Block chan struct{}

	mu    sync.Mutex
	calls []SyncCall
}

// NewMockSyncer creates a MockSyncer whose pushes succeed.
func NewMockSyncer() *MockSyncer {
	return &MockSyncer{Result: true}
}

// Calls returns a copy of the recorded calls.
func (m *MockSyncer) Calls() []SyncCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SyncCall(nil), m.calls...)
}

// Count returns how many calls had the given action.
func (m *MockSyncer) Count(action string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Action == action {
			n++
		}
	}
	return n
}

func (m *MockSyncer) record(ctx context.Context, call SyncCall) bool {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	block, result := m.Block, m.Result
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return false
		}
	}
	return result
}

func (m *MockSyncer) SyncOnboarding(ctx context.Context, _ OnboardingData, userID int64) bool {
	return m.record(ctx, SyncCall{Action: "save_onboarding", UserID: userID})
}

func (m *MockSyncer) SyncCourse(ctx context.Context, course Course, userID int64) bool {
	return m.record(ctx, SyncCall{Action: "save_course", UserID: userID, CourseID: course.ID})
}

func (m *MockSyncer) SyncProgress(ctx context.Context, courseID, lessonID string, completed bool, userID int64) bool {
	return m.record(ctx, SyncCall{
		Action:    "save_progress",
		UserID:    userID,
		CourseID:  courseID,
		LessonID:  lessonID,
		Completed: completed,
	})
}

func (m *MockSyncer) SyncTestAttempt(ctx context.Context, _ TestAttempt, courseID string, userID int64) bool {
	return m.record(ctx, SyncCall{Action: "save_test_attempt", UserID: userID, CourseID: courseID})
}

func (m *MockSyncer) SyncCertificate(ctx context.Context, _ Certificate, userID int64) bool {
	return m.record(ctx, SyncCall{Action: "save_certificate", UserID: userID})
}

func (m *MockSyncer) FetchUserAcademyData(_ context.Context, userID int64) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SyncCall{Action: "get_user_data", UserID: userID})
	return m.Snapshot
}

func (m *MockSyncer) FetchOnboarding(_ context.Context, userID int64) *OnboardingData {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SyncCall{Action: "get_onboarding", UserID: userID})
	return m.Onboarding
}
