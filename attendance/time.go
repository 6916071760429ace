package attendance

import (
	"fmt"
	"sync"
	"time"
)

const minutesPerDay = 24 * 60

// =============================================================================
// LOCAL DATE - Calendar date in an organization's operational timezone
// =============================================================================

// LocalDate is a calendar date without a zone. Which instants belong to it
// depends on the organization's operational timezone.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

const localDateLayout = "2006-01-02"

func NewLocalDate(year int, month time.Month, day int) LocalDate {
	return LocalDate{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar date of t as seen in loc.
func DateOf(t time.Time, loc *time.Location) LocalDate {
	y, m, d := t.In(loc).Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(localDateLayout, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d LocalDate) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// AddDays normalizes through time.Date, so month and year boundaries roll over.
func (d LocalDate) AddDays(n int) LocalDate {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

func (d LocalDate) Before(o LocalDate) bool { return d.String() < o.String() }
func (d LocalDate) After(o LocalDate) bool  { return o.Before(d) }

// At returns the instant at wall-clock c on this date in loc.
func (d LocalDate) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// Bounds returns the half-open UTC interval [start, end) covering the date in loc.
func (d LocalDate) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	end := time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

func (d LocalDate) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *LocalDate) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CLOCK TIME / OFFICE HOURS
// =============================================================================

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// OfficeHours is an organization's shift definition in its operational timezone.
type OfficeHours struct {
	Start    ClockTime
	End      ClockTime
	Location *time.Location
}

// DefaultOfficeHours is used when an organization has not configured hours.
func DefaultOfficeHours() OfficeHours {
	return OfficeHours{
		Start:    ClockTime{Hour: 9},
		End:      ClockTime{Hour: 17},
		Location: time.UTC,
	}
}

func (h OfficeHours) loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// Zone returns the operational timezone, UTC when unset.
func (h OfficeHours) Zone() *time.Location { return h.loc() }

// Today returns the operational date of now.
func (h OfficeHours) Today(now time.Time) LocalDate { return DateOf(now, h.loc()) }

// ShiftStart returns office start on date d.
func (h OfficeHours) ShiftStart(d LocalDate) time.Time { return d.At(h.Start, h.loc()) }

// ShiftEnd returns office end on date d.
func (h OfficeHours) ShiftEnd(d LocalDate) time.Time { return d.At(h.End, h.loc()) }

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies "now". Everything that depends on wall-clock time takes one
// so tests can pin minute-aligned behaviour.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock { return &ManualClock{now: now.UTC()} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TruncateMinute drops seconds and below, in UTC.
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
