// Package schedule holds the interval arithmetic behind the one-task-at-a-time
// rule: a user's tasks occupy inclusive, whole-day ranges that must not
// intersect.
package schedule

import (
	"errors"

	"github.com/kerucko/scheduler/internal/models"
)

var ErrInvalidRange = errors.New("start date is after end date")

// Interval is the slice of a user's calendar a task occupies. Both ends are
// inclusive.
type Interval struct {
	UserID int64
	Start  models.Date
	End    models.Date
}

func NewInterval(userID int64, start, end models.Date) (Interval, error) {
	if start.After(end) {
		return Interval{}, ErrInvalidRange
	}
	return Interval{UserID: userID, Start: start, End: end}, nil
}

// FromTask reads the interval a stored task occupies.
func FromTask(t models.Task) Interval {
	return Interval{UserID: t.UserID, Start: t.StartDate, End: t.EndDate}
}

// Overlaps reports whether the two ranges share at least one day. Ownership
// is not compared; callers only pass intervals of the same user.
func (i Interval) Overlaps(o Interval) bool {
	return !i.Start.After(o.End) && !i.End.Before(o.Start)
}
