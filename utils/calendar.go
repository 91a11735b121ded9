package utils

import (
	"fmt"
	"time"

	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
)

// DefaultTimezone is the reference zone for every "day has passed" check.
const DefaultTimezone = "Africa/Kigali"

// Calendar answers day-granularity questions in a fixed zone. All
// comparisons are on calendar dates, never on millisecond offsets.
type Calendar struct {
	clock clockwork.Clock
	loc   *time.Location
}

func NewCalendar(clock clockwork.Clock, loc *time.Location) *Calendar {
	return &Calendar{clock: clock, loc: loc}
}

// LoadCalendar resolves the named zone.
func LoadCalendar(clock clockwork.Clock, zone string) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", zone, err)
	}
	return NewCalendar(clock, loc), nil
}

func (c *Calendar) Clock() clockwork.Clock {
	return c.clock
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now is the current instant expressed in the reference zone.
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

// DayOf returns midnight of t's calendar date in the reference zone.
func (c *Calendar) DayOf(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) Today() time.Time {
	return c.DayOf(c.clock.Now())
}

// HasPassed reports whether t's date is strictly before today.
func (c *Calendar) HasPassed(t time.Time) bool {
	return c.DayOf(t).Before(c.Today())
}

// IsDaysAway reports whether t's date is exactly days after today.
func (c *Calendar) IsDaysAway(t time.Time, days int) bool {
	return c.DayOf(t).Equal(c.Today().AddDate(0, 0, days))
}

func (c *Calendar) IsFirstOfMonth() bool {
	return c.Today().Day() == 1
}

// Period is the current "YYYY-MM".
func (c *Calendar) Period() string {
	return c.Today().Format("2006-01")
}
