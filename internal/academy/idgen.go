package academy

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces unique course and lesson ids. It prefers a random
// UUID and falls back to course_<unixMillis>_<random>_<monotonic> when the
// secure source fails. Every source can be replaced in tests.
type IDGenerator struct {
	UUID      func() (uuid.UUID, error)
	Random    func() uint64
	Now       func() time.Time
	Monotonic func() time.Duration
}

// NewIDGenerator returns a generator backed by crypto/rand UUIDs.
func NewIDGenerator() *IDGenerator {
	start := time.Now()
	return &IDGenerator{
		UUID:      uuid.NewRandom,
		Random:    rand.Uint64,
		Now:       time.Now,
		Monotonic: func() time.Duration { return time.Since(start) },
	}
}

// New returns a fresh id.
func (g *IDGenerator) New() string {
	if g.UUID != nil {
		if id, err := g.UUID(); err == nil {
			return id.String()
		}
	}
	return g.fallback()
}

func (g *IDGenerator) fallback() string {
	now, random, mono := time.Now, rand.Uint64, func() time.Duration { return 0 }
	if g.Now != nil {
		now = g.Now
	}
	if g.Random != nil {
		random = g.Random
	}
	if g.Monotonic != nil {
		mono = g.Monotonic
	}
	return fmt.Sprintf("course_%d_%s_%s",
		now().UnixMilli(),
		strconv.FormatUint(random(), 36),
		strconv.FormatInt(int64(mono()), 36),
	)
}
