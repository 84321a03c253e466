package academy

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIDGenerator_UUID(t *testing.T) {
	g := NewIDGenerator()
	seen := make(map[string]bool)
	for range 100 {
		id := g.New()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("New() = %q, not a UUID: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIDGenerator_Fallback(t *testing.T) {
	g := &IDGenerator{
		UUID:      func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy unavailable") },
		Random:    func() uint64 { return 36 * 36 },
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_123) },
		Monotonic: func() time.Duration { return 35 },
	}

	if got, want := g.New(), "course_1700000000123_100_z"; got != want {
		t.Errorf("New() = %q, want %q", got, want)
	}
}

func TestIDGenerator_FallbackDefaults(t *testing.T) {
	g := &IDGenerator{}
	if got := g.New(); !regexp.MustCompile(`^course_\d+_[0-9a-z]+_[0-9a-z]+$`).MatchString(got) {
		t.Errorf("New() = %q, want course_<ms>_<rand>_<mono>", got)
	}
}
