// Package lending holds the book lending lifecycle rules: the status state
// machine for issue records and the lazy promotion of pending records to
// overdue. Everything here is a pure function of its inputs so the rules can
// be exercised without a database or a clock.
package lending

import (
	"fmt"
	"time"
)

// Status of an issue record. Records start pending and only ever move
// forward: pending -> overdue (time-driven) or pending/overdue -> returned.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOverdue  Status = "overdue"
	StatusReturned Status = "returned"
)

// Book availability values kept in the catalog. A book is Issued exactly
// while an active issue record references it.
const (
	BookAvailable = "Available"
	BookIssued    = "Issued"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusOverdue, StatusReturned:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown lending status %q", s)
}

// Active reports whether the record still holds the book, i.e. it has not
// been returned yet.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusOverdue
}

// CanTransition reports whether the state machine permits moving from s to
// next. Returned is terminal and overdue cannot revert to pending.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusOverdue || next == StatusReturned
	case StatusOverdue:
		return next == StatusReturned
	}
	return false
}

// Day truncates t to its calendar date in UTC. All due date arithmetic works
// on calendar dates; no timezone-sensitive math beyond comparison.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsOverdue reports whether a record with the given due date has passed its
// due date as of today. A record due today is not overdue.
func IsOverdue(dueDate, today time.Time) bool {
	return Day(dueDate).Before(Day(today))
}

// Effective resolves the status a record should be reported with at query
// time. A stored pending record whose due date has passed is promoted to
// overdue; no background sweep exists, so callers evaluate this on read.
func Effective(stored Status, dueDate, today time.Time) Status {
	if stored == StatusPending && IsOverdue(dueDate, today) {
		return StatusOverdue
	}
	return stored
}

// ValidDueDate reports whether dueDate is acceptable for a record issued
// today. Same-day due dates are permitted.
func ValidDueDate(dueDate, today time.Time) bool {
	return !Day(dueDate).Before(Day(today))
}
