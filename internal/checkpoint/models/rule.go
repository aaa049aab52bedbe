package models

import "time"

// Inclusive bounds, in elapsed days, of the window in which a case gets a
// checkpoint.
const (
	WindowStart = 42
	WindowEnd   = 72
)

// Elapsed returns the case length in days. An explicit day count wins;
// otherwise start and end are counted inclusively as calendar dates.
func (p SicknessCasePeriod) Elapsed() int {
	if p.DayCount != nil {
		return *p.DayCount
	}
	return daysBetween(p.Start, p.End) + 1
}

// Evaluate decides whether period warrants a checkpoint. A false result is an
// ordinary outcome, not an error.
func Evaluate(period SicknessCasePeriod, now time.Time, pilot PilotGate) (*Checkpoint, bool) {
	elapsed := period.Elapsed()
	if elapsed < WindowStart || elapsed > WindowEnd {
		return nil, false
	}
	if period.IsDeceased {
		return nil, false
	}
	if pilot == nil || !pilot.Enabled(period) {
		return nil, false
	}

	today := dateOf(now)
	date := dateOf(period.Start).AddDate(0, 0, WindowStart)
	if date.Before(today) && today.Before(dateOf(period.End)) {
		date = today
	}

	nowUTC := now.UTC()
	return &Checkpoint{
		CaseReferenceID:  period.CaseReferenceID,
		PersonIdentifier: period.PersonIdentifier,
		CheckpointDate:   date,
		CreatedAt:        nowUTC,
		UpdatedAt:        nowUTC,
	}, true
}

// dateOf truncates t to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOf(to).Sub(dateOf(from)).Hours() / 24)
}
