package schedule

import "time"

// Calendar decides whether a trading session is open at a given instant.
// Intraday refresh only runs inside open sessions; backfill and
// end-of-day runs ignore the calendar.
type Calendar interface {
	IsOpen(t time.Time) bool
}

// AlwaysOpen is the calendar for venues that never close, like crypto.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(time.Time) bool { return true }

var _ Calendar = AlwaysOpen{}

// SessionCalendar opens on configured weekdays between OpenHour
// (inclusive) and CloseHour (exclusive) in Location. Holidays are out of
// scope; a closed holiday costs one redundant fetch, not correctness.
type SessionCalendar struct {
	Location  *time.Location
	Days      map[time.Weekday]bool
	OpenHour  int
	CloseHour int
}

// NewWeekdaySession returns a Monday through Friday session calendar.
func NewWeekdaySession(loc *time.Location, openHour, closeHour int) *SessionCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionCalendar{
		Location: loc,
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		OpenHour:  openHour,
		CloseHour: closeHour,
	}
}

func (c *SessionCalendar) IsOpen(t time.Time) bool {
	local := t.In(c.Location)
	if !c.Days[local.Weekday()] {
		return false
	}
	return local.Hour() >= c.OpenHour && local.Hour() < c.CloseHour
}

var _ Calendar = (*SessionCalendar)(nil)
