package device

import (
	"math"
	"time"
)

const planDateLayout = "2006-01-02"

// endOfPlanDay returns the last instant of the plan's end day in local time;
// the plan is valid through 23:59:59 of that date.
func endOfPlanDay(date string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(planDateLayout, date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24*time.Hour - time.Second), nil
}

// PlanExpired evaluates the plan against persisted usage plus the live
// session hours, so expiry is detected mid-session rather than only at
// relay-off. With the clock not running the date check is skipped; the
// hour/liter ceilings still apply.
func PlanExpired(cfg *Config, hours, liters, sessionHours float64, now time.Time, clockRunning bool) bool {
	if cfg.MaxHours <= 0 || cfg.MaxLiters <= 0 {
		return true
	}
	if clockRunning && !NullDate(cfg.PlanEndDate) {
		eod, err := endOfPlanDay(cfg.PlanEndDate, now.Location())
		if err != nil {
			// A configured but unreadable date fails safe.
			return true
		}
		if now.After(eod) {
			return true
		}
	}
	if hours+sessionHours >= cfg.MaxHours {
		return true
	}
	if liters >= cfg.MaxLiters {
		return true
	}
	return false
}

// DaysRemaining counts whole calendar days until plan expiry. The expiry day
// itself counts as day 1; once the end-of-day instant has passed the count
// goes negative (days overdue).
func DaysRemaining(now time.Time, planEndDate string) (int, bool) {
	loc := now.Location()
	eod, err := endOfPlanDay(planEndDate, loc)
	if err != nil {
		return 0, false
	}
	todayMid := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end, _ := time.ParseInLocation(planDateLayout, planEndDate, loc)
	days := int(math.Round(end.Sub(todayMid).Hours() / 24))
	if now.After(eod) {
		return days, true
	}
	return days + 1, true
}
