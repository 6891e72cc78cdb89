package daemon

import (
	"time"

	"github.com/teambition/rrule-go"
)

// ParseSchedule parses an RRULE string (e.g. "FREQ=HOURLY;INTERVAL=6").
// Empty string means no schedule.
func ParseSchedule(ruleStr string) (*rrule.RRule, error) {
	if ruleStr == "" {
		return nil, nil
	}
	start := time.Now().UTC().Format("20060102T150405Z")
	return rrule.StrToRRule("DTSTART=" + start + ";" + ruleStr)
}

// StartSchedule spawns a goroutine that fires the callback on each
// recurrence until quit is closed. An unparsable rule is reported through
// the returned error and nothing is scheduled.
func StartSchedule(ruleStr string, quit <-chan struct{}, callback func()) error {
	rr, err := ParseSchedule(ruleStr)
	if err != nil || rr == nil {
		return err
	}
	go func() {
		for {
			next := rr.After(time.Now(), false)
			if next.IsZero() {
				return
			}
			select {
			case <-time.After(time.Until(next)):
				callback()
			case <-quit:
				return
			}
		}
	}()
	return nil
}
