package chat

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so timestamp-sensitive logic
// (filenames, archive cutoffs, pull rate limiting) is deterministic in
// tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
// The SQLite backend uses it for message IDs.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
