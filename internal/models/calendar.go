package models

import "time"

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// CalendarDay is one row of the trading calendar. Past days are immutable;
// future days may be rewritten as the provider's forward window shifts.
type CalendarDay struct {
	Day           time.Time `json:"day" db:"day"`
	IsBusinessDay bool      `json:"is_business_day" db:"is_business_day"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Midnight truncates t to a date in UTC. All calendar arithmetic in the
// engine runs on UTC midnights so date equality is byte equality.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC date.
func SameDay(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}
