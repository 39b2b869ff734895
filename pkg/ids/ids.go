// Package ids generates the platform's identifiers: 128-bit time-ordered
// ULIDs for domain objects (creation-time comparable, lexicographically
// sortable) and UUIDs for audit events.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new time-ordered identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewAt returns an identifier carrying the given timestamp. Used by tests
// and by merge logic that must preserve creation order.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String()
}

// Time extracts the embedded creation time, or the zero time when the id
// does not parse.
func Time(id string) time.Time {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(parsed.Time()).UTC()
}

// Older reports whether a was created before b. Ties fall back to the
// lexicographic order, which for ULIDs is total.
func Older(a, b string) bool {
	return a < b
}

// Valid reports whether id parses as a ULID.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// NewAuditID returns a UUID for an audit event.
func NewAuditID() string {
	return uuid.New().String()
}
