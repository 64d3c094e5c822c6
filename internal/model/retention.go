package model

import "time"

// RetentionUnit is the calendar unit a retention policy is expressed in.
type RetentionUnit string

const (
	RetentionDays   RetentionUnit = "days"
	RetentionMonths RetentionUnit = "months"
	RetentionYears  RetentionUnit = "years"
)

// RetentionPolicy controls how long archived messages are kept. It is
// owned by the administrative console and read by the purger each cycle.
type RetentionPolicy struct {
	Enabled bool
	Value   int
	Unit    RetentionUnit
}

// Cutoff returns the timestamp before which messages should be purged.
// The second return value is false when the policy is disabled, has a
// non-positive value, or names an unknown unit. Month and year units use
// calendar arithmetic rather than fixed-day approximations.
func (p RetentionPolicy) Cutoff(now time.Time) (time.Time, bool) {
	if !p.Enabled || p.Value <= 0 {
		return time.Time{}, false
	}

	switch p.Unit {
	case RetentionDays:
		return now.AddDate(0, 0, -p.Value), true
	case RetentionMonths:
		return now.AddDate(0, -p.Value, 0), true
	case RetentionYears:
		return now.AddDate(-p.Value, 0, 0), true
	default:
		return time.Time{}, false
	}
}
