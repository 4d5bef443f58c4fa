// Package recurrence wraps a cron expression parser behind the single
// opaque operation the queue engine and the job package need:
// "what is the next instant this expression fires strictly after a
// given time, in a given timezone".
package recurrence

import (
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence parses expr and returns the next instant strictly after
// after that the schedule fires, evaluated in the named timezone tz.
// An empty tz defaults to UTC.
//
// ok is false when the schedule produces no occurrence after the given
// instant: robfig/cron gives up and returns the zero time when nothing
// matches within five years, as for an expression that parses but can
// never fire (for example "0 0 30 2 *").
func NextOccurrence(expr string, tz string, after time.Time) (time.Time, bool, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, false, err
		}
		loc = l
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, false, err
	}
	next := schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}
