// Package cadence maps a sequence's cadence code and step position to the
// date its next follow-up becomes due.
package cadence

import "time"

// Type is a cadence code stored on a sequence.
type Type string

const (
	OneDay   Type = "1day"
	ThreeDay Type = "3day"
	Weekly   Type = "weekly"
	Biweekly Type = "biweekly"
	Monthly  Type = "monthly"
	PingPong Type = "31day"
	None     Type = "none"
)

var offsets = map[Type]int{
	OneDay:   1,
	ThreeDay: 3,
	Weekly:   7,
	Biweekly: 14,
	Monthly:  28,
	None:     0,
}

// OffsetDays returns the day offset for the given cadence at the given
// step, and whether the cadence code is recognized. The 31day cadence
// ping-pongs: 3 days on even steps, 1 day on odd steps.
func OffsetDays(t Type, step int) (int, bool) {
	if t == PingPong {
		if step%2 == 0 {
			return 3, true
		}
		return 1, true
	}
	d, ok := offsets[t]
	return d, ok
}

// NextStepDue computes the date the next step of a sequence should fire,
// relative to now. It returns nil when the sequence has no further steps:
// either the cadence is manual ("none"), the code is unrecognized, or the
// proposed date falls after endDate. A nil result is sequence completion,
// never an error.
func NextStepDue(t Type, currentStep int, endDate *time.Time, now time.Time) *time.Time {
	if t == None {
		return nil
	}
	offset, ok := OffsetDays(t, currentStep)
	if !ok {
		// Unrecognized codes never become due rather than silently
		// inheriting a numeric offset that would skip the end check.
		return nil
	}

	due := now.AddDate(0, 0, offset)
	if endDate != nil && due.After(*endDate) {
		return nil
	}
	return &due
}

// Describe returns the human-readable label for a cadence code, used in
// summaries and stored descriptions. Unrecognized codes render as
// "Custom".
func Describe(t Type) string {
	switch t {
	case OneDay:
		return "Every day"
	case ThreeDay:
		return "Every 3 days"
	case Weekly:
		return "Weekly"
	case Biweekly:
		return "Every 2 weeks"
	case Monthly:
		return "Every 4 weeks"
	case PingPong:
		return "3 days, then 1 day"
	case None:
		return "Manual"
	default:
		return "Custom"
	}
}
