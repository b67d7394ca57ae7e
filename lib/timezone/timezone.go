package timezone

import (
	"sync"
	"time"
)

// Location is the zone used when rendering timestamps for humans. Stored
// timestamps are always UTC.
var Location = time.UTC

var (
	clockLock sync.RWMutex
	clock     = time.Now
)

// Load switches Location to the named IANA zone ("Local" is accepted).
func Load(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	Location = loc
	return nil
}

// Now returns the current wall-clock time in UTC.
func Now() time.Time {
	clockLock.RLock()
	defer clockLock.RUnlock()
	return clock().UTC()
}

// SetClock replaces the clock behind Now, it returns a function that
// restores the previous one. Tests use this to freeze time.
func SetClock(fn func() time.Time) (restore func()) {
	clockLock.Lock()
	defer clockLock.Unlock()
	prev := clock
	clock = fn
	return func() {
		clockLock.Lock()
		defer clockLock.Unlock()
		clock = prev
	}
}

// FormatISO renders t the way timestamps are stored: RFC3339 in UTC with
// millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
