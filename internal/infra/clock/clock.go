// Package clock provides the configured-zone time source. Daily quota
// boundaries are calendar days in the operator's zone, not UTC, so every
// reset computation goes through one DayStart instead of ad hoc arithmetic.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Zone is a real clock pinned to an IANA time zone.
type Zone struct {
	loc *time.Location
	now func() time.Time // injectable for tests
}

// New creates a Zone clock for the given IANA zone name ("Asia/Kolkata").
// An empty name means UTC.
func New(name string) (*Zone, error) {
	if name == "" {
		return &Zone{loc: time.UTC, now: time.Now}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return &Zone{loc: loc, now: time.Now}, nil
}

// Now returns the current time in the configured zone.
func (z *Zone) Now() time.Time {
	return z.now().In(z.loc)
}

// DayStart returns midnight of t's calendar day in the configured zone.
func (z *Zone) DayStart(t time.Time) time.Time {
	t = t.In(z.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, z.loc)
}

// ─── Manual clock for tests ─────────────────────────────────────────────────

// Manual is a hand-advanced clock. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	t   time.Time
	loc *time.Location
}

// NewManual creates a Manual clock frozen at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t, loc: t.Location()}
}

// Now returns the frozen time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

// DayStart returns midnight of t's calendar day in the clock's zone.
func (m *Manual) DayStart(t time.Time) time.Time {
	t = t.In(m.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.loc)
}
